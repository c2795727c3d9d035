// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"strings"
	"sync"

	"github.com/orchnova/vmsync/internal/executor"
)

// Handler produces the outcome for a matched command.
type Handler func(cmd executor.Command) (*executor.Result, error)

type rule struct {
	match   func(executor.Command) bool
	handler Handler
}

// FakeRunner records every command and answers from the first matching rule.
// Unmatched commands succeed with empty output.
type FakeRunner struct {
	mu    sync.Mutex
	rules []rule
	Calls []executor.Command
}

func New() *FakeRunner {
	return &FakeRunner{}
}

// On registers a handler for commands whose name equals name and whose
// joined arguments contain every fragment.
func (f *FakeRunner) On(name string, handler Handler, fragments ...string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{
		match: func(c executor.Command) bool {
			if c.Name != name {
				return false
			}
			joined := strings.Join(c.Args, " ")
			for _, frag := range fragments {
				if !strings.Contains(joined, frag) {
					return false
				}
			}
			return true
		},
		handler: handler,
	})
	return f
}

// Stdout is a Handler that succeeds with the given output.
func Stdout(out string) Handler {
	return func(executor.Command) (*executor.Result, error) {
		return &executor.Result{Stdout: out}, nil
	}
}

// Fail is a Handler that fails with err.
func Fail(err error) Handler {
	return func(executor.Command) (*executor.Result, error) {
		return &executor.Result{ExitCode: executor.ExitCode(err)}, err
	}
}

func (f *FakeRunner) Run(_ context.Context, cmd executor.Command) (*executor.Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	rules := f.rules
	f.mu.Unlock()

	for _, r := range rules {
		if r.match(cmd) {
			return r.handler(cmd)
		}
	}
	return &executor.Result{}, nil
}

// Called reports how many recorded commands named name contain fragment.
func (f *FakeRunner) Called(name, fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Name == name && strings.Contains(strings.Join(c.Args, " "), fragment) {
			n++
		}
	}
	return n
}
