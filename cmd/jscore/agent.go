package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cryguy/jscore"
)

// agentInfo is the shape core.agent.me and core.agent.byDID resolve to.
type agentInfo struct {
	DID                   string          `json:"did"`
	DirectMessageLanguage string          `json:"directMessageLanguage"`
	Perspective           json.RawMessage `json:"perspective"`
}

type agentStatus struct {
	DID           *string `json:"did"`
	IsInitialized bool    `json:"isInitialized"`
	IsUnlocked    bool    `json:"isUnlocked"`
	DIDDocument   *string `json:"didDocument"`
	Error         string  `json:"error"`
}

func newAgentCmd(a *app) *cobra.Command {
	var capToken string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the local agent through the bootstrap's agent API",
		Long: `Call the agent functions the main module exposes on its core binding
(core.agent.me, core.agent.status and so on).

The capability token is passed as the first argument of every call.`,
	}
	cmd.PersistentFlags().StringVarP(&capToken, "cap-token", "t", "", "Capability token (default $"+envCapToken+")")

	call := func(cmd *cobra.Command, method string, handle func(io.Writer, json.RawMessage) error, args ...any) error {
		token := firstNonEmpty(capToken, os.Getenv(envCapToken))
		return a.run(cmd.Context(), func(ctx context.Context, h *jscore.Handle) error {
			script, err := agentScript(a.cfg.CoreBinding, method, append([]any{token}, args...)...)
			if err != nil {
				return err
			}
			out, err := h.Execute(ctx, script)
			if err != nil {
				return fmt.Errorf("agent.%s: %s", method, describeError(err))
			}
			return handle(cmd.OutOrStdout(), json.RawMessage(out))
		})
	}

	var unlockPass, generatePass string

	meCmd := &cobra.Command{
		Use:   "me",
		Short: "Print the local agent's DID, public perspective and direct message language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "me", printAgent)
		},
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the agent keys exist and are unlocked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "status", printStatus)
		},
	}
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock the agent keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pp, err := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr()).passphrase("", false)
			if err != nil {
				return err
			}
			return call(cmd, "lock", confirmation("Agent locked"), pp)
		},
	}
	unlockCmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the agent keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pp, err := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr()).passphrase(unlockPass, false)
			if err != nil {
				return err
			}
			return call(cmd, "unlock", confirmation("Agent unlocked"), pp)
		},
	}
	unlockCmd.Flags().StringVarP(&unlockPass, "passphrase", "p", "", "Agent passphrase (prompted when empty)")

	byDIDCmd := &cobra.Command{
		Use:   "by-did <did>",
		Short: "Look up an agent by DID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, "byDID", func(w io.Writer, raw json.RawMessage) error {
				if isNullish(raw) {
					fmt.Fprintln(w, "Agent not found")
					return nil
				}
				return printAgent(w, raw)
			}, args[0])
		},
	}
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Initialize a new agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pp, err := newSecretReader(cmd.InOrStdin(), cmd.ErrOrStderr()).passphrase(generatePass, true)
			if err != nil {
				return err
			}
			return call(cmd, "generate", confirmation("Agent generated"), pp)
		},
	}
	generateCmd.Flags().StringVarP(&generatePass, "passphrase", "p", "", "Agent passphrase (prompted twice when empty)")

	cmd.AddCommand(meCmd, statusCmd, lockCmd, unlockCmd, byDIDCmd, generateCmd)
	return cmd
}

// agentScript builds globalThis[binding].agent.method(args...) with every
// argument encoded as a JSON literal.
func agentScript(binding, method string, args ...any) (string, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d of agent.%s: %w", i, method, err)
		}
		parts[i] = string(b)
	}
	return fmt.Sprintf("globalThis[%s].agent.%s(%s)",
		strconv.Quote(binding), method, strings.Join(parts, ", ")), nil
}

func printAgent(w io.Writer, raw json.RawMessage) error {
	var info agentInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("decoding agent: %w", err)
	}
	perspective := "<none>"
	if !isNullish(info.Perspective) {
		perspective = string(info.Perspective)
	}
	printFields(w, []field{
		{"DID", orUndefined(&info.DID)},
		{"Direct message language", orUndefined(&info.DirectMessageLanguage)},
		{"Public perspective", perspective},
	})
	return nil
}

func printStatus(w io.Writer, raw json.RawMessage) error {
	var st agentStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decoding agent status: %w", err)
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	printFields(w, []field{
		{"DID", orUndefined(st.DID)},
		{"is_initialized", strconv.FormatBool(st.IsInitialized)},
		{"is_unlocked", strconv.FormatBool(st.IsUnlocked)},
	})
	fmt.Fprintln(w, labelStyle.Render("DID Document:"))
	fmt.Fprintln(w, valueStyle.Render(orUndefined(st.DIDDocument)))
	return nil
}

// confirmation prints msg unless the result carries an error field.
func confirmation(msg string) func(io.Writer, json.RawMessage) error {
	return func(w io.Writer, raw json.RawMessage) error {
		var res struct {
			Error string `json:"error"`
		}
		if !isNullish(raw) {
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decoding result: %w", err)
			}
		}
		if res.Error != "" {
			return errors.New(res.Error)
		}
		fmt.Fprintln(w, resultStyle.Render(msg))
		return nil
	}
}

func isNullish(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "undefined"
}

func orUndefined(s *string) string {
	if s == nil || *s == "" {
		return "<undefined>"
	}
	return *s
}
