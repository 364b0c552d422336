package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeTestPID(t *testing.T, pidFile, content string) {
	t.Helper()
	if err := os.WriteFile(pidFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
}

func TestIsDaemonRunning(t *testing.T) {
	tests := []struct {
		name        string
		content     string // empty means no PID file
		wantRunning bool
		wantRemoved bool
	}{
		{name: "no pid file", wantRunning: false},
		{name: "current process", content: strconv.Itoa(os.Getpid()) + "\n", wantRunning: true},
		{name: "dead process", content: "999999\n", wantRunning: false, wantRemoved: true},
		{name: "garbage", content: "not-a-number\n", wantRunning: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pidFile := filepath.Join(t.TempDir(), "watch.pid")
			if tt.content != "" {
				writeTestPID(t, pidFile, tt.content)
			}

			running, err := IsDaemonRunning(pidFile)
			if err != nil {
				t.Fatalf("IsDaemonRunning() error = %v, want nil", err)
			}
			if running != tt.wantRunning {
				t.Errorf("IsDaemonRunning() = %v, want %v", running, tt.wantRunning)
			}
			if tt.wantRemoved {
				if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
					t.Error("stale PID file was not removed")
				}
			}
		})
	}
}

func TestStopDaemon_NotRunning(t *testing.T) {
	err := StopDaemon(filepath.Join(t.TempDir(), "watch.pid"))
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("StopDaemon() error = %v, want ErrNotRunning", err)
	}
}

func TestStopDaemon_InvalidPID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")
	writeTestPID(t, pidFile, "invalid\n")

	if err := StopDaemon(pidFile); err == nil {
		t.Error("StopDaemon() expected error for invalid PID, got nil")
	}
}

func TestStartDaemon_AlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "watch.pid")
	writeTestPID(t, pidFile, strconv.Itoa(os.Getpid())+"\n")

	if err := StartDaemon(pidFile, filepath.Join(dir, "watch.log"), "watch", "--daemon-child"); err == nil {
		t.Error("StartDaemon() expected error for already running daemon, got nil")
	}
}

func TestStartDaemon_InvalidLogFile(t *testing.T) {
	dir := t.TempDir()
	err := StartDaemon(filepath.Join(dir, "watch.pid"), filepath.Join(dir, "missing", "watch.log"), "watch")
	if err == nil {
		t.Error("StartDaemon() expected error for invalid log file path, got nil")
	}
}

func TestWritePID_RoundTrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")
	if err := writePID(pidFile, 4242); err != nil {
		t.Fatalf("writePID() error = %v", err)
	}
	pid, err := readPID(pidFile)
	if err != nil {
		t.Fatalf("readPID() error = %v", err)
	}
	if pid != 4242 {
		t.Errorf("readPID() = %d, want 4242", pid)
	}
}

func TestWaitForExit(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		if err := WaitForExit(filepath.Join(t.TempDir(), "watch.pid"), time.Second); err != nil {
			t.Errorf("WaitForExit() error = %v, want nil", err)
		}
	})

	t.Run("pid file removed while waiting", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "watch.pid")
		writeTestPID(t, pidFile, strconv.Itoa(os.Getpid())+"\n")
		go func() {
			time.Sleep(150 * time.Millisecond)
			os.Remove(pidFile)
		}()
		if err := WaitForExit(pidFile, 5*time.Second); err != nil {
			t.Errorf("WaitForExit() error = %v, want nil", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "watch.pid")
		writeTestPID(t, pidFile, strconv.Itoa(os.Getpid())+"\n")
		if err := WaitForExit(pidFile, 200*time.Millisecond); err == nil {
			t.Error("WaitForExit() should time out while the process lives")
		}
	})
}
