package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/payload"
)

const (
	chunkBits  = 4
	ChunkSize  = 1 << chunkBits
	chunkCells = ChunkSize * ChunkSize * ChunkSize
)

type ChunkKey struct {
	CX, CY, CZ int
}

// Chunk holds a 16^3 block of cells. Blocks are palette ids; States and
// Payloads are sparse and only hold cells that differ from the defaults.
type Chunk struct {
	Key      ChunkKey
	Blocks   []uint16
	States   map[int]map[string]string
	Payloads map[int]payload.Doc

	nonAir int
	dirty  bool
	hash   [32]byte
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{Key: k, Blocks: make([]uint16, chunkCells), dirty: true}
}

func cellIndex(lx, ly, lz int) int {
	return lx | lz<<chunkBits | ly<<(2*chunkBits)
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		idx := make([]int, 0, len(c.States)+len(c.Payloads))
		for i := range c.States {
			idx = append(idx, i)
		}
		for i := range c.Payloads {
			if _, ok := c.States[i]; !ok {
				idx = append(idx, i)
			}
		}
		sort.Ints(idx)
		for _, i := range idx {
			b, _ := json.Marshal([]any{i, c.States[i], c.Payloads[i]})
			h.Write(b)
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Store is a sparse, unbounded grid. Chunks that were never written read as
// AIR. It is safe for concurrent use.
type Store struct {
	blocks catalogs.BlockCatalog

	mu     sync.RWMutex
	chunks map[ChunkKey]*Chunk
	reads  atomic.Uint64
}

func NewStore(blocks catalogs.BlockCatalog) *Store {
	return &Store{
		blocks: blocks,
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *Store) Blocks() catalogs.BlockCatalog { return s.blocks }

func split(pos Vec3i) (ChunkKey, int) {
	k := ChunkKey{pos.X >> chunkBits, pos.Y >> chunkBits, pos.Z >> chunkBits}
	m := ChunkSize - 1
	return k, cellIndex(pos.X&m, pos.Y&m, pos.Z&m)
}

// CellAt returns a copy of the cell at pos with the block's default state
// filled in for attributes that were never set.
func (s *Store) CellAt(pos Vec3i) Cell {
	k, i := split(pos)
	s.reads.Add(1)
	s.mu.RLock()
	ch := s.chunks[k]
	var (
		id    uint16
		state map[string]string
		doc   payload.Doc
	)
	if ch != nil {
		id = ch.Blocks[i]
		state = ch.States[i]
		doc = ch.Payloads[i]
	}
	s.mu.RUnlock()

	name := s.blocks.Palette[id]
	def := s.blocks.Defs[name]
	full := def.DefaultState()
	for attr, v := range state {
		full[attr] = v
	}
	c := Cell{Block: name, State: full}
	if doc != nil {
		c.Payload = doc.Clone()
	}
	return c
}

// Reads reports how many CellAt calls the store has served.
func (s *Store) Reads() uint64 { return s.reads.Load() }

// SetCell validates c against the block catalog and writes it. State values
// equal to the block defaults are not stored.
func (s *Store) SetCell(pos Vec3i, c Cell) error {
	name := c.Block
	if name == "" {
		name = Air
	}
	def, ok := s.blocks.Defs[name]
	if !ok {
		return fmt.Errorf("unknown block %s", name)
	}
	var state map[string]string
	for attr, v := range c.State {
		if !def.HasState(attr) {
			return fmt.Errorf("block %s has no state %s", name, attr)
		}
		if !def.Legal(attr, v) {
			return fmt.Errorf("block %s: %s=%s not allowed", name, attr, v)
		}
		if v == def.Defaults[attr] {
			continue
		}
		if state == nil {
			state = map[string]string{}
		}
		state[attr] = v
	}
	if len(c.Payload) > 0 && !def.Container {
		return fmt.Errorf("block %s cannot carry a payload", name)
	}
	id := s.blocks.Index[name]

	k, i := split(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.chunks[k]
	if ch == nil {
		if id == 0 {
			return nil
		}
		ch = newChunk(k)
		s.chunks[k] = ch
	}
	prev := ch.Blocks[i]
	ch.Blocks[i] = id
	switch {
	case prev == 0 && id != 0:
		ch.nonAir++
	case prev != 0 && id == 0:
		ch.nonAir--
	}
	setSparse(&ch.States, i, state)
	if len(c.Payload) > 0 {
		if ch.Payloads == nil {
			ch.Payloads = map[int]payload.Doc{}
		}
		ch.Payloads[i] = c.Payload.Clone()
	} else if ch.Payloads != nil {
		delete(ch.Payloads, i)
	}
	ch.dirty = true
	if ch.nonAir == 0 {
		delete(s.chunks, k)
	}
	return nil
}

func setSparse(m *map[int]map[string]string, i int, v map[string]string) {
	if len(v) == 0 {
		if *m != nil {
			delete(*m, i)
		}
		return
	}
	if *m == nil {
		*m = map[int]map[string]string{}
	}
	(*m)[i] = v
}

// Clear sets pos to AIR. It fails only when the catalog has no AIR
// definition, which NewBlockCatalog never produces.
func (s *Store) Clear(pos Vec3i) error {
	return s.SetCell(pos, Cell{Block: Air})
}

// ChunkKeys returns the loaded chunk keys in a stable order.
func (s *Store) ChunkKeys() []ChunkKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		return a.CZ < b.CZ
	})
	return keys
}

// Digest hashes every loaded chunk in key order.
func (s *Store) Digest() [32]byte {
	keys := s.ChunkKeys()
	h := sha256.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		ch := s.chunks[k]
		if ch == nil {
			continue
		}
		b, _ := json.Marshal([3]int{k.CX, k.CY, k.CZ})
		h.Write(b)
		d := ch.Digest()
		h.Write(d[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
