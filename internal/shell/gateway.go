// Package shell is the single channel between databackup and the operating
// system. Every tar, pm, chown and settings invocation goes through a
// Gateway, which owns one privileged session and serializes access to it.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ExitCodeNotFound is what a shell reports when the command or the shell
// itself could not be found. The gateway treats it as a lost session.
const ExitCodeNotFound = 127

// Result is the outcome of one shell command.
type Result struct {
	Succeeded bool
	ExitCode  int
	Lines     []string
}

// Output joins the captured stdout lines and trims surrounding whitespace.
func (r Result) Output() string {
	return strings.TrimSpace(strings.Join(r.Lines, "\n"))
}

// Err returns nil for a successful result and an *ExitError otherwise.
func (r Result) Err(command string) error {
	if r.Succeeded {
		return nil
	}
	return &ExitError{Command: command, Code: r.ExitCode, Output: r.Output()}
}

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.Code)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.Code, e.Output)
}

// Session is a privileged shell session. Run executes one command line;
// Reset re-acquires the session after it was lost.
type Session interface {
	Run(ctx context.Context, command string) (Result, error)
	Reset(ctx context.Context) error
}

// Executor runs shell commands. Components depend on this rather than on
// Gateway so tests can script command results.
type Executor interface {
	Execute(ctx context.Context, command string) Result
	ExecuteQuiet(ctx context.Context, command string) Result
}

// Gateway implements Executor on top of a Session.
type Gateway struct {
	session Session
	logger  *slog.Logger
	mu      sync.Mutex
	resets  int
}

// NewGateway wraps session. A nil logger falls back to slog.Default().
func NewGateway(session Session, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{session: session, logger: logger}
}

// Execute runs command and logs it along with every output line.
func (g *Gateway) Execute(ctx context.Context, command string) Result {
	return g.execute(ctx, command, true)
}

// ExecuteQuiet runs command without logging it.
func (g *Gateway) ExecuteQuiet(ctx context.Context, command string) Result {
	return g.execute(ctx, command, false)
}

// Resets returns how many times the session has been re-acquired.
func (g *Gateway) Resets() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resets
}

func (g *Gateway) execute(ctx context.Context, command string, logEnabled bool) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	if logEnabled {
		g.logger.Debug("shell", "command", command)
	}

	result, err := g.session.Run(ctx, command)
	if err != nil {
		g.logger.Warn("shell session error", "command", command, "error", err)
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
		result.Succeeded = false
	}

	if logEnabled {
		for _, line := range result.Lines {
			g.logger.Debug("shell", "out", line)
		}
		if !result.Succeeded {
			g.logger.Warn("shell command failed", "command", command, "exit", result.ExitCode)
		}
	}

	if result.ExitCode == ExitCodeNotFound {
		g.resets++
		if err := g.session.Reset(ctx); err != nil {
			g.logger.Error("failed to re-acquire shell session", "error", err)
		} else {
			g.logger.Info("shell session re-acquired")
		}
	}

	return result
}
