package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/recipes"
	"voxelforge.ai/internal/sim/recipes/loader"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherDebouncesBurstIntoOneReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	var calls atomic.Int32
	w, err := New(dir, 100*time.Millisecond, func() error {
		calls.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	waitFor(t, "reload", func() bool { return calls.Load() >= 1 })
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("reloads=%d want 1", n)
	}
	if w.Stats().Events == 0 {
		t.Fatalf("no events counted")
	}
}

func TestWatcherCountsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond, func() error { return errors.New("boom") }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, "start", func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	})
	if err := os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "failed reload", func() bool { return w.Stats().Failures == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWatcherIsSingleUse(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	w, err := New(dir, 50*time.Millisecond, func() error { return nil }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	if err := w.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("restart err=%v want ErrClosed", err)
	}
	w.Stop()

	idle, err := New(dir, 0, func() error { return nil }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	idle.Stop()
	idle.Stop()
}

func TestWatcherStartFailureReleasesHandle(t *testing.T) {
	defer goleak.VerifyNone(t)

	w, err := New(filepath.Join(t.TempDir(), "missing"), 0, func() error { return nil }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatalf("Start on a missing dir should fail")
	}
	if err := w.fs.Add(t.TempDir()); err == nil {
		t.Fatalf("fsnotify handle still open after failed Start")
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Start err=%v want ErrClosed", err)
	}
	w.Stop()
}

func TestReloadRegistryInstallsNewGeneration(t *testing.T) {
	blocks, err := catalogs.NewBlockCatalog([]catalogs.BlockDef{{ID: "STONE"}})
	if err != nil {
		t.Fatalf("NewBlockCatalog: %v", err)
	}
	dir := t.TempDir()
	def := `{"id":"pillar","layers":[["S","S"]],"symbols":{"S":{"block":"STONE"}},"result":{"type":"PILLAR"}}`
	if err := os.WriteFile(filepath.Join(dir, "pillar.json"), []byte(def), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg := recipes.NewRegistry()
	if err := ReloadRegistry(dir, blocks, loader.Options{}, reg, nil)(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reg.Lookup("pillar"); !ok {
		t.Fatalf("pillar not installed")
	}

	if err := ReloadRegistry(filepath.Join(dir, "missing"), blocks, loader.Options{}, reg, nil)(); err == nil {
		t.Fatalf("missing dir should fail")
	}
	if _, ok := reg.Lookup("pillar"); !ok {
		t.Fatalf("failed reload dropped the current generation")
	}
}
