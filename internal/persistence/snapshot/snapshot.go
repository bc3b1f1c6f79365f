package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Rev     uint64 `json:"rev"`
}

// SnapshotV1 captures a workshop world: the sparse grid plus actor holdings
// and spawned entities.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Palette  []string   `json:"palette"`
	Chunks   []ChunkV1  `json:"chunks"`
	Actors   []ActorV1  `json:"actors,omitempty"`
	Entities []EntityV1 `json:"entities,omitempty"`

	Counters CountersV1 `json:"counters"`
}

// ChunkV1 stores a 16^3 chunk. Blocks is RLE over palette ids; States and
// Payloads are keyed by the in-chunk cell index and only hold non-defaults.
type ChunkV1 struct {
	CX       int                       `json:"cx"`
	CY       int                       `json:"cy"`
	CZ       int                       `json:"cz"`
	Blocks   string                    `json:"blocks"`
	States   map[int]map[string]string `json:"states,omitempty"`
	Payloads map[int]map[string]any    `json:"payloads,omitempty"`
}

type StackV1 struct {
	Item  string         `json:"item"`
	Meta  map[string]any `json:"meta,omitempty"`
	Count int            `json:"count"`
}

type ActorV1 struct {
	ID       string    `json:"id"`
	Holdings []StackV1 `json:"holdings"`
}

type EntityV1 struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	RecipeID string         `json:"recipe_id"`
	Pos      [3]int         `json:"pos"`
	Payload  map[string]any `json:"payload,omitempty"`
	Rev      uint64         `json:"rev"`
}

type CountersV1 struct {
	NextEntity uint64 `json:"next_entity"`
	NextActor  uint64 `json:"next_actor"`
}

// WriteSnapshot writes a header line followed by the JSON body, all inside
// one zstd stream.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	snap.Header.Version = Version
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	hb, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	return snap, nil
}
