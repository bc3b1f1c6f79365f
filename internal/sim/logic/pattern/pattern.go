// Package pattern holds immutable 3-D arrays of cell predicates and the
// builder that assembles them from layer text.
package pattern

import (
	"fmt"
	"strings"

	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/predicate"
)

// Orientations selects which placements the matcher tries.
type Orientations uint8

const (
	// CardinalUpOnly tries the four horizontal facings with up as the thumb.
	CardinalUpOnly Orientations = iota
	// AllOrientations tries every finger/thumb pair (24 placements).
	AllOrientations
)

func (o Orientations) String() string {
	if o == AllOrientations {
		return "all"
	}
	return "cardinal_up"
}

func ParseOrientations(s string) (Orientations, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cardinal_up":
		return CardinalUpOnly, nil
	case "all":
		return AllOrientations, nil
	}
	return 0, fmt.Errorf("unknown orientations %q", s)
}

// Pattern is immutable; any number of searches may share one.
// Cells are indexed [depth][height][width].
type Pattern struct {
	width, height, depth int

	cells   []*predicate.Predicate
	layers  [][]string
	symbols map[rune]*predicate.Predicate

	palette       []*predicate.Predicate
	paletteBlocks map[string]struct{}
	materials     []items.Stack
	orient        Orientations
}

func (p *Pattern) Width() int  { return p.width }
func (p *Pattern) Height() int { return p.height }
func (p *Pattern) Depth() int  { return p.depth }

// Radius is the largest dimension; the matcher searches anchors within
// Radius-1 of the initiating cell on each axis.
func (p *Pattern) Radius() int {
	return max(p.width, p.height, p.depth)
}

func (p *Pattern) Orientations() Orientations { return p.orient }

// At returns the predicate for width x, height y (row 0 is the top row) and
// depth z.
func (p *Pattern) At(x, y, z int) *predicate.Predicate {
	return p.cells[(z*p.height+y)*p.width+x]
}

// Palette returns the distinct typed predicates the pattern uses, in first
// use order.
func (p *Pattern) Palette() []*predicate.Predicate {
	return append([]*predicate.Predicate(nil), p.palette...)
}

// InPalette reports whether any palette predicate accepts block, judged by
// type alone.
func (p *Pattern) InPalette(block string) bool {
	_, ok := p.paletteBlocks[block]
	return ok
}

// Materials returns the summed item cost of every typed symbol occurrence.
func (p *Pattern) Materials() []items.Stack {
	return items.Clone(p.materials)
}

// Layers returns a copy of the source text.
func (p *Pattern) Layers() [][]string {
	out := make([][]string, len(p.layers))
	for i, l := range p.layers {
		out[i] = append([]string(nil), l...)
	}
	return out
}

func (p *Pattern) String() string {
	return fmt.Sprintf("pattern %dx%dx%d (%d palette, %s)", p.width, p.height, p.depth, len(p.palette), p.orient)
}
