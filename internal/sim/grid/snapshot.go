package grid

import (
	"fmt"

	snapv1 "voxelforge.ai/internal/persistence/snapshot"
	"voxelforge.ai/internal/sim/encoding"
	"voxelforge.ai/internal/sim/payload"
)

// ExportChunks converts every loaded chunk into snapshot form.
func (s *Store) ExportChunks() []snapv1.ChunkV1 {
	keys := s.ChunkKeys()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]snapv1.ChunkV1, 0, len(keys))
	for _, k := range keys {
		ch := s.chunks[k]
		if ch == nil {
			continue
		}
		rec := snapv1.ChunkV1{CX: k.CX, CY: k.CY, CZ: k.CZ, Blocks: encoding.EncodeRLE(ch.Blocks)}
		if len(ch.States) > 0 {
			rec.States = make(map[int]map[string]string, len(ch.States))
			for i, st := range ch.States {
				cp := make(map[string]string, len(st))
				for a, v := range st {
					cp[a] = v
				}
				rec.States[i] = cp
			}
		}
		if len(ch.Payloads) > 0 {
			rec.Payloads = make(map[int]map[string]any, len(ch.Payloads))
			for i, d := range ch.Payloads {
				rec.Payloads[i] = map[string]any(d.Clone())
			}
		}
		out = append(out, rec)
	}
	return out
}

// ImportChunks replaces the store contents. palette is the block palette the
// snapshot was written with; ids are remapped onto the current catalog.
func (s *Store) ImportChunks(palette []string, chunks []snapv1.ChunkV1) error {
	remap := make([]uint16, len(palette))
	for i, name := range palette {
		id, ok := s.blocks.Index[name]
		if !ok {
			return fmt.Errorf("snapshot block %s missing from catalog", name)
		}
		remap[i] = id
	}
	loaded := make(map[ChunkKey]*Chunk, len(chunks))
	for _, rec := range chunks {
		blocks, err := encoding.DecodeRLE(rec.Blocks, chunkCells)
		if err != nil {
			return fmt.Errorf("chunk %d,%d,%d: %w", rec.CX, rec.CY, rec.CZ, err)
		}
		k := ChunkKey{rec.CX, rec.CY, rec.CZ}
		ch := newChunk(k)
		for i, b := range blocks {
			if int(b) >= len(remap) {
				return fmt.Errorf("chunk %d,%d,%d: palette id %d out of range", rec.CX, rec.CY, rec.CZ, b)
			}
			ch.Blocks[i] = remap[b]
			if ch.Blocks[i] != 0 {
				ch.nonAir++
			}
		}
		for i, st := range rec.States {
			if i < 0 || i >= chunkCells {
				return fmt.Errorf("chunk %d,%d,%d: state index %d out of range", rec.CX, rec.CY, rec.CZ, i)
			}
			setSparse(&ch.States, i, st)
		}
		for i, d := range rec.Payloads {
			if i < 0 || i >= chunkCells {
				return fmt.Errorf("chunk %d,%d,%d: payload index %d out of range", rec.CX, rec.CY, rec.CZ, i)
			}
			if ch.Payloads == nil {
				ch.Payloads = map[int]payload.Doc{}
			}
			ch.Payloads[i] = payload.Doc(d).Clone()
		}
		if ch.nonAir > 0 {
			loaded[k] = ch
		}
	}
	s.mu.Lock()
	s.chunks = loaded
	s.mu.Unlock()
	return nil
}
