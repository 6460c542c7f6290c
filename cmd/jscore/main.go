// Command jscore runs scripts against an embedded JavaScript engine: one-off
// evaluation, an interactive prompt, and the agent commands of a bootstrap
// that exposes core.agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultLogLevel = "warn"
	envCapToken     = "JSCORE_CAP_TOKEN"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// newRootCmd creates the jscore command tree.
func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "jscore",
		Short: "Run scripts on an embedded JavaScript engine",
		Long: `jscore boots a JavaScript engine from a main module and runs scripts on it.

The engine is ready once the main module defines its core binding
(globalThis.core unless configured otherwise).

Example:
  jscore --main ./executor.js eval "core.version()"
  jscore --config jscore.yaml agent status`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.levelSet = cmd.Flags().Changed("log-level")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (YAML)")
	flags.StringVarP(&a.logLevel, "log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVarP(&a.mainModule, "main", "m", "", "Main module path (overrides the config file)")
	flags.StringVar(&a.initScript, "init", "", "Script run after the main module, e.g. initCore()")
	flags.StringVar(&a.binding, "binding", "", "Global that marks the end of bootstrap")

	rootCmd.AddCommand(newEvalCmd(a), newReplCmd(a), newAgentCmd(a))
	return rootCmd
}
