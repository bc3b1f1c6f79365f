package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelforge.ai/internal/sim/items"
)

func TestLatestSnapshotPicksHighestRev(t *testing.T) {
	worldDir := t.TempDir()
	dir := filepath.Join(worldDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"9.snap.zst", "120.snap.zst", "15.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got, want := latestSnapshot(worldDir), filepath.Join(dir, "120.snap.zst"); got != want {
		t.Fatalf("latest=%q want %q", got, want)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("empty dir latest=%q", got)
	}
}

func TestStarterItemsSorted(t *testing.T) {
	got := starterItems(map[string]int{"PLANK": 4, "GLUE": 2})
	want := []items.Stack{{Item: "GLUE", Count: 2}, {Item: "PLANK", Count: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("starter items (-want +got):\n%s", diff)
	}
}

func TestOpenRuntimeIndexDisabled(t *testing.T) {
	idx, err := openRuntimeIndex(t.TempDir(), false)
	if err != nil || idx != nil {
		t.Fatalf("disabled index=%v err=%v", idx, err)
	}
	t.Setenv("VF_INDEX_BACKEND", "d2")
	if _, err := openRuntimeIndex(t.TempDir(), true); err == nil {
		t.Fatalf("unknown backend accepted")
	}
}
