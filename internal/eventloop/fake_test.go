package eventloop

import (
	"errors"
	"strings"
	"sync"
)

// fakeRuntime records evaluations instead of running them.
type fakeRuntime struct {
	mu         sync.Mutex
	evals      []string
	failOn     string // Eval returns an error for scripts containing it
	state      string // EvalString result
	microtasks int
}

func (f *fakeRuntime) Eval(js string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, js)
	if f.failOn != "" && strings.Contains(js, f.failOn) {
		return errors.New("TypeError: boom")
	}
	return nil
}

func (f *fakeRuntime) EvalString(string) (string, error) { return f.state, nil }
func (f *fakeRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (f *fakeRuntime) EvalInto(string, string) error     { return nil }
func (f *fakeRuntime) RegisterFunc(string, any) error    { return nil }
func (f *fakeRuntime) Interrupt()                        {}
func (f *fakeRuntime) Close()                            {}

func (f *fakeRuntime) RunMicrotasks() {
	f.mu.Lock()
	f.microtasks++
	f.mu.Unlock()
}

func (f *fakeRuntime) evalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evals)
}

func (f *fakeRuntime) lastEval() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.evals) == 0 {
		return ""
	}
	return f.evals[len(f.evals)-1]
}
