package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cryguy/jscore"
	"github.com/cryguy/jscore/internal/watch"
)

func newReplCmd(a *app) *cobra.Command {
	var watchMain bool
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Evaluate lines interactively",
		Long: `Read lines from stdin and evaluate each on the same engine, so
declarations persist between lines. Type .exit to quit.

With --watch the engine is rebooted whenever the main module file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, h *jscore.Handle) error {
				r := &repl{app: a, out: cmd.OutOrStdout(), handle: h}
				defer r.close()
				if watchMain {
					stop, err := r.watch(ctx)
					if err != nil {
						return err
					}
					defer stop()
				}
				return r.loop(ctx, cmd.InOrStdin())
			})
		},
	}
	cmd.Flags().BoolVarP(&watchMain, "watch", "w", false, "Reboot the engine when the main module changes")
	return cmd
}

type repl struct {
	app *app

	outMu sync.Mutex
	out   io.Writer

	mu     sync.Mutex
	handle *jscore.Handle
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	r.println(titleStyle.Render("jscore "+jscore.Engine) + " " + helpStyle.Render(".exit to quit"))
	for {
		r.print(promptStyle.Render("> "))
		if !sc.Scan() {
			r.println("")
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case ".exit", ".quit":
			return nil
		}

		out, err := r.current().Execute(ctx, line)
		switch {
		case err == nil:
			r.println(resultStyle.Render(out))
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, jscore.ErrChannelClosed):
			r.println(errorStyle.Render(describeError(err)))
			r.restart(ctx, "previous engine stopped")
		default:
			r.println(errorStyle.Render(describeError(err)))
		}
	}
}

// watch reboots the engine whenever the main module file changes.
func (r *repl) watch(ctx context.Context) (func(), error) {
	path := r.app.cfg.MainModule
	if path == "" {
		return nil, errors.New("--watch needs a main module file")
	}
	w, err := watch.New([]string{path}, func(string) {
		r.restart(ctx, path+" changed")
	}, r.app.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return nil, err
	}
	return func() { _ = w.Stop() }, nil
}

// restart boots a fresh engine and swaps it in. The old engine is closed
// after the swap so lines in flight finish on it.
func (r *repl) restart(ctx context.Context, reason string) {
	h, err := r.app.start(ctx)
	if err != nil {
		r.println(errorStyle.Render("reload failed: " + describeError(err)))
		return
	}
	r.mu.Lock()
	old := r.handle
	r.handle = h
	r.mu.Unlock()
	closeHandle(old)
	r.println(helpStyle.Render("engine restarted: " + reason))
}

func (r *repl) current() *jscore.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

func (r *repl) close() {
	closeHandle(r.current())
}

func (r *repl) print(s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprint(r.out, s)
}

func (r *repl) println(s string) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintln(r.out, s)
}
