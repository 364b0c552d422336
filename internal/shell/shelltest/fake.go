// Package shelltest provides a scripted shell.Executor for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/databackup-cli/databackup/internal/shell"
)

type rule struct {
	match string
	fn    func(command string) shell.Result
}

// Fake records every command and answers from rules registered with On and
// OnFunc. The most recently registered matching rule wins; commands that
// match nothing succeed with no output.
type Fake struct {
	mu       sync.Mutex
	rules    []rule
	commands []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

// OK builds a successful result.
func OK(lines ...string) shell.Result {
	return shell.Result{Succeeded: true, Lines: lines}
}

// Fail builds a failed result with the given exit code.
func Fail(code int, lines ...string) shell.Result {
	return shell.Result{ExitCode: code, Lines: lines}
}

// On answers commands containing match with r.
func (f *Fake) On(match string, r shell.Result) *Fake {
	return f.OnFunc(match, func(string) shell.Result { return r })
}

// OnFunc answers commands containing match with fn(command).
func (f *Fake) OnFunc(match string, fn func(command string) shell.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, fn: fn})
	return f
}

// Execute implements shell.Executor.
func (f *Fake) Execute(ctx context.Context, command string) shell.Result {
	return f.run(command)
}

// ExecuteQuiet implements shell.Executor.
func (f *Fake) ExecuteQuiet(ctx context.Context, command string) shell.Result {
	return f.run(command)
}

func (f *Fake) run(command string) shell.Result {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	var fn func(string) shell.Result
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(command, f.rules[i].match) {
			fn = f.rules[i].fn
			break
		}
	}
	f.mu.Unlock()

	if fn == nil {
		return OK()
	}
	return fn(command)
}

// Commands returns every command executed so far, in order.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Matching returns the executed commands containing substr.
func (f *Fake) Matching(substr string) []string {
	var out []string
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many executed commands contain substr.
func (f *Fake) Count(substr string) int {
	return len(f.Matching(substr))
}
