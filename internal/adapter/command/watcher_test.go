package command

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatcherReloadsOnNewCommand(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "s", "command", "first.md"), "first")

	reg := NewRegistry(root, newTestLogger())
	reg.Load()

	reloaded := make(chan int, 8)
	w := NewWatcher(reg, newTestLogger(), 50*time.Millisecond, func(n int) { reloaded <- n })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "s", "command", "second.md"), "second")

	select {
	case n := <-reloaded:
		if n != 2 {
			t.Errorf("reloaded count = %d, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}
	if _, ok := reg.Get("second"); !ok {
		t.Error("second command not registered after reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWatcherMissingRoot(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := NewRegistry(filepath.Join(t.TempDir(), "absent"), newTestLogger())
	w := NewWatcher(reg, newTestLogger(), 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
