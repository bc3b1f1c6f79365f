package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelforge.ai/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to hourly files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir. Every record is its own
// zstd frame, so a file can be read while it is still being written and
// a crash loses at most the record in flight.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	now func() time.Time
	enc *zstd.Encoder

	mu      sync.Mutex
	curHour string
	f       *os.File
	stats   WriterStats
}

type WriterStats struct {
	Records uint64
	Bytes   uint64 // compressed bytes written
	Files   int    // files opened, counting reopens
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	// A nil-writer encoder is only used through EncodeAll.
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
		enc:     enc,
	}
}

// Close closes the current file. A later Write reopens it.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *JSONLZstdWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	frame := w.enc.EncodeAll(line, nil)
	if _, err := w.f.Write(frame); err != nil {
		return fmt.Errorf("%s: %w", w.f.Name(), err)
	}
	w.stats.Records++
	w.stats.Bytes += uint64(len(frame))
	return nil
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.curHour = hour
	w.stats.Files++
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	w.curHour = ""
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// AssemblyLogger writes one JSONL entry per assembly attempt (compressed).
type AssemblyLogger struct{ w *JSONLZstdWriter }

func NewAssemblyLogger(worldDir string) *AssemblyLogger {
	return &AssemblyLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "assemblies"), "assemblies")}
}

func (l *AssemblyLogger) RecordAssembly(v world.AssemblyRecord) error { return l.w.Write(v) }
func (l *AssemblyLogger) Close() error                                { return l.w.Close() }

func (l *AssemblyLogger) Stats() WriterStats { return l.w.Stats() }
