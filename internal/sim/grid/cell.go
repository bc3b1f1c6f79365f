// Package grid is the addressable 3-D space of cells that structures are
// recognized in.
package grid

import (
	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/payload"
)

// Air is the grid's empty value.
const Air = catalogs.AirID

// Cell is a read-only view of one grid position.
type Cell struct {
	Block   string            `json:"block"`
	State   map[string]string `json:"state,omitempty"`
	Payload payload.Doc       `json:"payload,omitempty"`
}

func (c Cell) IsAir() bool { return c.Block == "" || c.Block == Air }

// StateValue returns the value of attr; ok is false when the block does not
// expose attr.
func (c Cell) StateValue(attr string) (string, bool) {
	v, ok := c.State[attr]
	return v, ok
}

// Reader is the query surface the matcher consumes. Implementations decide
// how expensive a query is; callers should not assume it is cheap.
type Reader interface {
	CellAt(pos Vec3i) Cell
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(pos Vec3i) Cell

func (f ReaderFunc) CellAt(pos Vec3i) Cell { return f(pos) }
