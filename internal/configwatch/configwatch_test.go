package configwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/artemis/internal/registry"
	"github.com/swarmguard/artemis/internal/taskctx"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registrations.yaml")

	factory := func(moduleRef, className string) (registry.Constructor, error) {
		return func() taskctx.TaskUnit { return nil }, nil
	}
	reg := registry.New(path, factory)

	if err := os.WriteFile(path, []byte("T9:\n  module: m\n  class_name: c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(path, reg, nil)
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if reg.Has("T9") {
			break
		}
		time.Sleep(20 * time.Millisecond)
		touch(t, path)
	}
	cancel()
	<-done

	if !reg.Has("T9") {
		t.Fatalf("expected T9 to be registered after reload")
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}
