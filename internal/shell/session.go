package shell

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// DefaultLauncher runs commands through su on a rooted device.
var DefaultLauncher = []string{"su", "-c"}

// LocalSession runs each command line through a launcher such as
// ["su", "-c"] or ["sh", "-c"]. The launcher binary is resolved once and
// again on Reset.
type LocalSession struct {
	launcher []string
	mu       sync.Mutex
	path     string
}

// NewLocalSession creates a session for launcher. An empty launcher uses
// DefaultLauncher.
func NewLocalSession(launcher []string) *LocalSession {
	if len(launcher) == 0 {
		launcher = DefaultLauncher
	}
	s := &LocalSession{launcher: append([]string(nil), launcher...)}
	s.path, _ = exec.LookPath(s.launcher[0])
	return s
}

// Run executes command and captures stdout line by line. Stderr is merged
// into the captured lines so tool diagnostics reach the caller.
func (s *LocalSession) Run(ctx context.Context, command string) (Result, error) {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return Result{ExitCode: ExitCodeNotFound}, nil
	}

	args := append(append([]string(nil), s.launcher[1:]...), command)
	cmd := exec.CommandContext(ctx, path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := Result{Lines: splitLines(out.Bytes())}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			result.ExitCode = ExitCodeNotFound
			return result, nil
		}
		return result, fmt.Errorf("failed to run %s: %w", s.launcher[0], err)
	}

	result.Succeeded = true
	return result, nil
}

// Reset resolves the launcher binary again.
func (s *LocalSession) Reset(ctx context.Context) error {
	path, err := exec.LookPath(s.launcher[0])
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.path = ""
		return fmt.Errorf("launcher %s not available: %w", s.launcher[0], err)
	}
	s.path = path
	return nil
}

func splitLines(b []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
