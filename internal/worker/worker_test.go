//go:build !v8

package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/mailbox"
	"github.com/cryguy/jscore/internal/quickjs"
	"github.com/cryguy/jscore/internal/webapi"
)

type testWorker struct {
	*Worker
	requests  *mailbox.Mailbox[core.Request]
	responses *mailbox.Mailbox[core.Response]
}

func startTestWorker(t *testing.T, main string, configure func(*Config)) *testWorker {
	t.Helper()
	cfg := Config{
		Engine:  core.EngineConfig{BootTimeout: 5 * time.Second, FatalUncaught: true},
		Main:    webapi.MainModule{Source: main},
		Factory: quickjs.New,
	}
	if configure != nil {
		configure(&cfg)
	}
	tw := &testWorker{
		requests:  mailbox.New[core.Request](),
		responses: mailbox.New[core.Response](),
	}
	tw.Worker = Start(cfg, tw.requests, tw.responses)
	t.Cleanup(func() {
		tw.requests.Close(nil)
		select {
		case <-tw.Done():
		case <-time.After(10 * time.Second):
			t.Error("worker did not exit")
		}
	})
	return tw
}

func (tw *testWorker) recv(t *testing.T) core.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := tw.responses.Recv(ctx)
	if err != nil {
		t.Fatalf("receiving response: %v", err)
	}
	return resp
}

func (tw *testWorker) boot(t *testing.T) {
	t.Helper()
	resp := tw.recv(t)
	if !resp.IsBootSignal() {
		t.Fatalf("first response = %+v, want the boot signal", resp)
	}
	if resp.Err != nil {
		t.Fatalf("bootstrap failed: %v", resp.Err)
	}
}

func (tw *testWorker) exec(t *testing.T, id, script string) core.Response {
	t.Helper()
	if err := tw.requests.Send(core.Request{ID: id, Script: script}); err != nil {
		t.Fatalf("sending request: %v", err)
	}
	return tw.recv(t)
}

func (tw *testWorker) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case <-tw.Done():
		return tw.Err()
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
		return nil
	}
}

func TestWorker_BootAndExecute(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = { base: 40 };", nil)
	tw.boot(t)

	resp := tw.exec(t, "r1", "core.base + 2")
	if resp.ID != "r1" || resp.Err != nil || resp.Result != "42" {
		t.Fatalf("response = %+v", resp)
	}

	resp = tw.exec(t, "r2", "throw new Error('boom')")
	var evalErr *core.EvaluationError
	if !errors.As(resp.Err, &evalErr) || !strings.Contains(evalErr.Message, "boom") {
		t.Fatalf("throwing script: %+v", resp)
	}

	// The worker survives script errors.
	if resp := tw.exec(t, "r3", "'a' + 'b'"); resp.Result != "ab" {
		t.Fatalf("after error: %+v", resp)
	}

	tw.requests.Close(nil)
	if err := tw.waitExit(t); err != nil {
		t.Fatalf("clean shutdown returned %v", err)
	}
	if _, err := tw.responses.Recv(context.Background()); !errors.Is(err, core.ErrChannelClosed) {
		t.Errorf("response mailbox after exit: %v", err)
	}
}

func TestWorker_AsyncBootstrap(t *testing.T) {
	tw := startTestWorker(t, `
		globalThis.core = Promise.resolve('placeholder');
		setTimeout(() => { globalThis.core = { ready: true }; }, 20);
	`, nil)
	tw.boot(t)
	if resp := tw.exec(t, "r", "core.ready"); resp.Result != "true" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWorker_InitScript(t *testing.T) {
	tw := startTestWorker(t, "function initCore() { globalThis.core = { v: 'init' }; }", func(c *Config) {
		c.Engine.InitScript = "initCore()"
	})
	tw.boot(t)
	if resp := tw.exec(t, "r", "core.v"); resp.Result != "init" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWorker_ExplicitReady(t *testing.T) {
	tw := startTestWorker(t, "setTimeout(() => __jscore_ready(), 5);", func(c *Config) {
		c.Engine.CoreBinding = "neverDefined"
	})
	tw.boot(t)
}

func TestWorker_BootstrapFailures(t *testing.T) {
	tests := []struct {
		name      string
		main      string
		configure func(*Config)
		phase     string
		contains  string
	}{
		{
			name:     "main module throws",
			main:     "throw new Error('cannot boot')",
			phase:    core.PhaseMainModule,
			contains: "cannot boot",
		},
		{
			name:      "init script throws",
			main:      "var x = 1;",
			configure: func(c *Config) { c.Engine.InitScript = "initCore()" },
			phase:     core.PhaseInit,
			contains:  "initCore",
		},
		{
			name:     "explicit failure",
			main:     "setTimeout(() => __jscore_fail('missing key store'), 5);",
			phase:    core.PhaseWaiter,
			contains: "missing key store",
		},
		{
			name:      "boot timeout",
			main:      "var notCore = 1;",
			configure: func(c *Config) { c.Engine.BootTimeout = 50 * time.Millisecond },
			phase:     core.PhaseWaiter,
			contains:  `global "core" not defined`,
		},
		{
			name:     "uncaught exception in a timer",
			main:     "setTimeout(() => { throw new Error('timer exploded'); }, 1);",
			phase:    core.PhaseEventLoop,
			contains: "timer exploded",
		},
		{
			name:     "bundle error",
			main:     "export const = ;",
			phase:    core.PhaseBundle,
			contains: "main.js",
		},
		{
			name: "engine construction",
			configure: func(c *Config) {
				c.Factory = func(core.EngineConfig) (core.JSRuntime, error) { return nil, errors.New("no engine") }
			},
			phase:    core.PhaseSetup,
			contains: "no engine",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := startTestWorker(t, tt.main, tt.configure)
			resp := tw.recv(t)
			if !resp.IsBootSignal() {
				t.Fatalf("first response = %+v, want the boot signal", resp)
			}
			var berr *core.BootstrapError
			if !errors.As(resp.Err, &berr) {
				t.Fatalf("boot signal error = %v, want *core.BootstrapError", resp.Err)
			}
			if berr.Phase != tt.phase {
				t.Errorf("phase = %q, want %q", berr.Phase, tt.phase)
			}
			if !strings.Contains(berr.Error(), tt.contains) {
				t.Errorf("error %q does not mention %q", berr.Error(), tt.contains)
			}
			if err := tw.waitExit(t); !errors.As(err, &berr) {
				t.Errorf("worker exit error = %v", err)
			}
			if err := tw.requests.Send(core.Request{ID: "late"}); !errors.Is(err, core.ErrChannelClosed) {
				t.Errorf("send after failed boot = %v", err)
			}
		})
	}
}

func TestWorker_PromiseDoesNotBlockOthers(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", nil)
	tw.boot(t)

	if err := tw.requests.Send(core.Request{ID: "slow", Script: "new Promise(r => setTimeout(() => r('slow done'), 50))"}); err != nil {
		t.Fatal(err)
	}
	if err := tw.requests.Send(core.Request{ID: "fast", Script: "'fast done'"}); err != nil {
		t.Fatal(err)
	}

	first, second := tw.recv(t), tw.recv(t)
	if first.ID != "fast" || first.Result != "fast done" {
		t.Errorf("first response = %+v, want fast", first)
	}
	if second.ID != "slow" || second.Result != "slow done" {
		t.Errorf("second response = %+v, want slow", second)
	}
}

func TestWorker_MicrotaskPromiseAnsweredImmediately(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", nil)
	tw.boot(t)
	resp := tw.exec(t, "p", "(async () => 6 * 7)()")
	if resp.Result != "42" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWorker_RejectedPromise(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", nil)
	tw.boot(t)
	resp := tw.exec(t, "p", "new Promise((_, reject) => setTimeout(() => reject(new Error('denied')), 5))")
	var evalErr *core.EvaluationError
	if !errors.As(resp.Err, &evalErr) || evalErr.Message != "denied" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWorker_Timeout(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", func(c *Config) {
		c.Engine.ScriptTimeout = 100 * time.Millisecond
	})
	tw.boot(t)

	resp := tw.exec(t, "spin", "while (true) {}")
	var evalErr *core.EvaluationError
	if !errors.As(resp.Err, &evalErr) || !evalErr.Timeout {
		t.Fatalf("response = %+v, want a timeout", resp)
	}
	if err := tw.waitExit(t); !errors.Is(err, core.ErrInterrupted) {
		t.Errorf("worker exit = %v, want ErrInterrupted", err)
	}
}

func TestWorker_CloseDuringBoot(t *testing.T) {
	tw := startTestWorker(t, "var nothing = 1;", func(c *Config) {
		c.Engine.BootTimeout = 0
	})
	time.Sleep(20 * time.Millisecond)
	tw.requests.Close(nil)
	if err := tw.waitExit(t); !errors.Is(err, core.ErrChannelClosed) {
		t.Errorf("worker exit = %v, want ErrChannelClosed", err)
	}
}

func TestWorker_CloseAnswersAwaiting(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", nil)
	tw.boot(t)

	if err := tw.requests.Send(core.Request{ID: "timer", Script: "new Promise(r => setTimeout(() => r('fired'), 30))"}); err != nil {
		t.Fatal(err)
	}
	if err := tw.requests.Send(core.Request{ID: "forever", Script: "new Promise(() => {})"}); err != nil {
		t.Fatal(err)
	}
	tw.requests.Close(nil)

	got := map[string]core.Response{}
	for i := 0; i < 2; i++ {
		resp := tw.recv(t)
		got[resp.ID] = resp
	}
	if got["timer"].Result != "fired" {
		t.Errorf("timer response = %+v", got["timer"])
	}
	if !errors.Is(got["forever"].Err, errIdle) && !strings.Contains(errMessage(got["forever"].Err), "can never settle") {
		t.Errorf("forever response = %+v", got["forever"])
	}
	if err := tw.waitExit(t); err != nil {
		t.Errorf("worker exit = %v", err)
	}
}

func TestWorker_CancelForgetsAwaiting(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", nil)
	tw.boot(t)

	if err := tw.requests.Send(core.Request{ID: "forever", Script: "new Promise(() => {})"}); err != nil {
		t.Fatal(err)
	}
	if err := tw.requests.Send(core.Request{ID: "forever", Cancel: true}); err != nil {
		t.Fatal(err)
	}
	if resp := tw.exec(t, "next", "'still serving'"); resp.ID != "next" || resp.Result != "still serving" {
		t.Fatalf("response = %+v", resp)
	}

	// Nothing is left awaiting, so closing answers nothing more.
	tw.requests.Close(nil)
	if err := tw.waitExit(t); err != nil {
		t.Errorf("worker exit = %v", err)
	}
	if resp, ok, _ := tw.responses.TryRecv(); ok {
		t.Errorf("cancelled request was answered: %+v", resp)
	}
}

func TestWorker_GlueFailureIsPerRequest(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", nil)
	tw.boot(t)

	resp := tw.exec(t, "bad", "({ get then() { throw new Error('boom') } })")
	if !strings.Contains(errMessage(resp.Err), "boom") {
		t.Fatalf("response = %+v", resp)
	}
	if resp := tw.exec(t, "good", "40 + 2"); resp.Result != "42" {
		t.Fatalf("worker stopped serving: %+v", resp)
	}
}

func TestWorker_HostFunc(t *testing.T) {
	tw := startTestWorker(t, "globalThis.core = {};", func(c *Config) {
		c.HostFuncs = map[string]core.HostFunc{
			"upper":  func(_ context.Context, p string) (string, error) { return strings.ToUpper(p), nil },
			"panics": func(context.Context, string) (string, error) { panic("bad host") },
		}
	})
	tw.boot(t)

	if resp := tw.exec(t, "h1", "host.call('upper', 'abc')"); resp.Result != "ABC" {
		t.Fatalf("response = %+v", resp)
	}
	resp := tw.exec(t, "h2", "host.call('panics').catch(e => 'caught: ' + e.message)")
	if !strings.Contains(resp.Result, "panicked") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	tw := startTestWorker(t, "", func(c *Config) {
		c.Factory = func(core.EngineConfig) (core.JSRuntime, error) { panic("factory exploded") }
	})
	if err := tw.waitExit(t); !errors.Is(err, errPanic) {
		t.Errorf("worker exit = %v, want errPanic", err)
	}
}

func TestExitReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "closed"},
		{core.ErrChannelClosed, "closed"},
		{&core.BootstrapError{Phase: core.PhaseInit}, "bootstrap"},
		{core.ErrInterrupted, "interrupted"},
		{core.ErrEventLoopExited, "event-loop"},
		{errPanic, "panic"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := exitReason(tt.err); got != tt.want {
			t.Errorf("exitReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
