package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, roots ...string) (*Watcher, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	w, err := New(roots, func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.Debounce = 50 * time.Millisecond
	return w, &calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }
	if _, err := New(nil, noop, nil); err == nil {
		t.Error("New(nil roots) expected error, got nil")
	}
	if _, err := New([]string{"/x"}, nil, nil); err == nil {
		t.Error("New(nil callback) expected error, got nil")
	}
	w, err := New([]string{"/x"}, noop, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.Debounce != DefaultDebounce {
		t.Errorf("Debounce = %v, want %v", w.Debounce, DefaultDebounce)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	w, _ := newTestWatcher(t, t.TempDir())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() before Start() error = %v, want nil", err)
	}
}

func TestStart_CreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "apps")
	w, _ := newTestWatcher(t, root)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestWatcher_RebuildsOnNewArchive(t *testing.T) {
	root := t.TempDir()
	w, calls := newTestWatcher(t, root)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	dir := filepath.Join(root, "com.foo", "2024-01-01")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "user.tar.zst"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return calls.Load() >= 1 })
}

func TestWatcher_WatchesNestedDirsCreatedLater(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "com.foo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	w, calls := newTestWatcher(t, root)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "apk.tar.zst"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return calls.Load() >= 1 })
}

func TestWatcher_IgnoresNonArchiveFiles(t *testing.T) {
	root := t.TempDir()
	w, calls := newTestWatcher(t, root)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("rebuilds = %d, want 0 for a non-archive file", got)
	}
}

func TestWatcher_StopFlushesPendingRebuild(t *testing.T) {
	root := t.TempDir()
	w, calls := newTestWatcher(t, root)
	w.Debounce = time.Hour
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "media.tar.zst"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Give the event time to reach the loop.
	time.Sleep(200 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("rebuilds after Stop = %d, want 1", got)
	}
	if w.Rebuilds() != 1 {
		t.Errorf("Rebuilds() = %d, want 1", w.Rebuilds())
	}
}

func TestIsArchive(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/b/apps/com.foo/2024/user.tar.zst", true},
		{"/b/apps/com.foo/2024/apk.tar", true},
		{"/b/media/Pictures/2024/Pictures.tar.lz4", true},
		{"/b/apps/com.foo/2024/notes.txt", false},
		{"/b/apps/com.tar.app/2024", false},
	}
	for _, tt := range tests {
		if got := isArchive(tt.name); got != tt.want {
			t.Errorf("isArchive(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
