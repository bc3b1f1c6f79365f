package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"voxelforge.ai/internal/sim/world"
)

func TestAssemblyLoggerRotatesHourlyAndAppends(t *testing.T) {
	dir := t.TempDir()
	l := NewAssemblyLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	write := func(id string) {
		t.Helper()
		if err := l.RecordAssembly(world.AssemblyRecord{Op: world.OpAssemble, Actor: "A1", RecipeID: id}); err != nil {
			t.Fatalf("RecordAssembly: %v", err)
		}
	}
	write("a")
	write("b")
	clock = clock.Add(2 * time.Minute)
	write("c")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen the same hour: the new frame is appended to the file.
	l2 := NewAssemblyLogger(dir)
	l2.w.now = func() time.Time { return clock }
	if err := l2.RecordAssembly(world.AssemblyRecord{RecipeID: "d"}); err != nil {
		t.Fatalf("RecordAssembly: %v", err)
	}
	if err := l2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "assemblies"), "assemblies")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2", files)
	}
	var ids []string
	for _, f := range files {
		err := ReadJSONL(f, func(raw json.RawMessage) error {
			var rec world.AssemblyRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			ids = append(ids, rec.RecipeID)
			return nil
		})
		if err != nil {
			t.Fatalf("ReadJSONL %s: %v", f, err)
		}
	}
	if len(ids) != 4 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" || ids[3] != "d" {
		t.Fatalf("ids=%v", ids)
	}
}

func TestReadWhileWriterOpen(t *testing.T) {
	dir := t.TempDir()
	l := NewAssemblyLogger(dir)
	defer l.Close()
	for _, id := range []string{"x", "y"} {
		if err := l.RecordAssembly(world.AssemblyRecord{RecipeID: id}); err != nil {
			t.Fatalf("RecordAssembly: %v", err)
		}
	}
	files, err := Files(filepath.Join(dir, "assemblies"), "assemblies")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	n := 0
	if err := ReadJSONL(files[0], func(json.RawMessage) error { n++; return nil }); err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	st := l.Stats()
	if n != 2 || st.Records != 2 || st.Files != 1 || st.Bytes == 0 {
		t.Fatalf("read %d records, stats=%+v", n, st)
	}
}
