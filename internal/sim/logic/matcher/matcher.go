// Package matcher finds where a pattern sits in a grid around a cell.
package matcher

import (
	"sort"
	"sync"

	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/logic/pattern"
	"voxelforge.ai/internal/sim/logic/predicate"
)

// Placement is a matched anchor plus the orientation frame. Pattern width
// runs along Palm, height runs against Thumb (row 0 is the top) and depth
// runs along Finger.
type Placement struct {
	Anchor grid.Vec3i     `json:"anchor"`
	Finger grid.Direction `json:"finger"`
	Thumb  grid.Direction `json:"thumb"`
}

func (pl Placement) Palm() grid.Vec3i {
	return pl.Finger.Vec().Cross(pl.Thumb.Vec())
}

// Translate maps pattern coordinates to a world position.
func (pl Placement) Translate(x, y, z int) grid.Vec3i {
	return pl.Anchor.
		Add(pl.Palm().Scale(x)).
		Sub(pl.Thumb.Vec().Scale(y)).
		Add(pl.Finger.Vec().Scale(z))
}

// Cells lists the world positions of every non-wildcard pattern cell, in
// depth, row, column order.
func (pl Placement) Cells(p *pattern.Pattern) []grid.Vec3i {
	var out []grid.Vec3i
	for z := 0; z < p.Depth(); z++ {
		for y := 0; y < p.Height(); y++ {
			for x := 0; x < p.Width(); x++ {
				if p.At(x, y, z).Kind() == predicate.KindWildcard {
					continue
				}
				out = append(out, pl.Translate(x, y, z))
			}
		}
	}
	return out
}

// Stats counts the work done by one search.
type Stats struct {
	Queries      int // distinct grid reads
	Candidates   int // anchors tried
	Orientations int // anchor/orientation pairs tried
}

type frame struct {
	finger, thumb grid.Direction
}

var cardinalUp = func() []frame {
	out := make([]frame, 0, len(grid.Horizontal))
	for _, f := range grid.Horizontal {
		out = append(out, frame{f, grid.Up})
	}
	return out
}()

var allFrames = func() []frame {
	out := make([]frame, 0, 24)
	for _, f := range grid.Directions {
		for _, t := range grid.Directions {
			if f.Axis() == t.Axis() {
				continue
			}
			out = append(out, frame{f, t})
		}
	}
	return out
}()

func frames(o pattern.Orientations) []frame {
	if o == pattern.AllOrientations {
		return allFrames
	}
	return cardinalUp
}

// cellCache memoizes grid reads for the length of one search.
type cellCache struct {
	g     grid.Reader
	cells map[grid.Vec3i]grid.Cell
}

func (c *cellCache) at(pos grid.Vec3i) grid.Cell {
	if cell, ok := c.cells[pos]; ok {
		return cell
	}
	cell := c.g.CellAt(pos)
	c.cells[pos] = cell
	return cell
}

// Find returns the first placement of p that covers at, or false.
func Find(g grid.Reader, at grid.Vec3i, p *pattern.Pattern) (Placement, bool) {
	pl, ok, _ := FindWithStats(g, at, p)
	return pl, ok
}

// FindWithStats is Find plus a count of the work it did. The search is
// deterministic: anchors are tried nearest first and orientations in a
// fixed order, so the same grid always yields the same placement.
func FindWithStats(g grid.Reader, at grid.Vec3i, p *pattern.Pattern) (Placement, bool, Stats) {
	var st Stats
	if g == nil || p == nil {
		return Placement{}, false, st
	}
	cache := &cellCache{g: g, cells: make(map[grid.Vec3i]grid.Cell, 64)}

	if len(p.Palette()) > 0 {
		c := cache.at(at)
		block := c.Block
		if c.IsAir() {
			block = grid.Air
		}
		if !p.InPalette(block) {
			st.Queries = len(cache.cells)
			return Placement{}, false, st
		}
	}

	fs := frames(p.Orientations())
	for _, off := range scanOffsets(p.Radius()) {
		anchor := at.Add(off)
		st.Candidates++
		for _, f := range fs {
			st.Orientations++
			pl := Placement{Anchor: anchor, Finger: f.finger, Thumb: f.thumb}
			if fits(cache, pl, p) {
				st.Queries = len(cache.cells)
				return pl, true, st
			}
		}
	}
	st.Queries = len(cache.cells)
	return Placement{}, false, st
}

func fits(cache *cellCache, pl Placement, p *pattern.Pattern) bool {
	for z := 0; z < p.Depth(); z++ {
		for y := 0; y < p.Height(); y++ {
			for x := 0; x < p.Width(); x++ {
				pred := p.At(x, y, z)
				if pred.Kind() == predicate.KindWildcard {
					continue
				}
				if !pred.Test(cache.at(pl.Translate(x, y, z))) {
					return false
				}
			}
		}
	}
	return true
}

var offsetCache sync.Map // int -> []grid.Vec3i

// scanOffsets returns every offset in the cube -r+1..r-1, ordered by
// Manhattan distance, then y, x, z. The slice is shared and read-only.
func scanOffsets(r int) []grid.Vec3i {
	if v, ok := offsetCache.Load(r); ok {
		return v.([]grid.Vec3i)
	}
	n := r - 1
	if n < 0 {
		n = 0
	}
	out := make([]grid.Vec3i, 0, (2*n+1)*(2*n+1)*(2*n+1))
	for y := -n; y <= n; y++ {
		for x := -n; x <= n; x++ {
			for z := -n; z <= n; z++ {
				out = append(out, grid.Vec3i{X: x, Y: y, Z: z})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := manhattan(out[i]), manhattan(out[j])
		if di != dj {
			return di < dj
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	v, _ := offsetCache.LoadOrStore(r, out)
	return v.([]grid.Vec3i)
}

func manhattan(v grid.Vec3i) int {
	return abs(v.X) + abs(v.Y) + abs(v.Z)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
