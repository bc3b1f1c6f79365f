package pattern

import (
	"fmt"
	"sort"

	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/predicate"
	"voxelforge.ai/internal/sim/payload"
)

// Reserved symbols.
const (
	AnySymbol = ' '
	AirSymbol = '_'
)

type AuthoringError struct {
	Symbol rune
	Reason string
}

func (e *AuthoringError) Error() string {
	if e.Symbol == 0 {
		return "pattern: " + e.Reason
	}
	return fmt.Sprintf("pattern symbol %q: %s", e.Symbol, e.Reason)
}

// Builder assembles a pattern from layers of rows of symbols. Each layer is
// one depth slice; its first row is the top.
type Builder struct {
	layers [][]string
	where  map[rune]predicate.Source
	orient Orientations
	err    error
}

func NewBuilder() *Builder {
	return &Builder{where: map[rune]predicate.Source{}}
}

func (b *Builder) Layer(rows ...string) *Builder {
	b.layers = append(b.layers, append([]string(nil), rows...))
	return b
}

// Where declares what symbol stands for. Reserved symbols and repeated
// declarations are authoring errors.
func (b *Builder) Where(symbol rune, src predicate.Source) *Builder {
	if b.err != nil {
		return b
	}
	switch {
	case symbol == AnySymbol || symbol == AirSymbol:
		b.err = &AuthoringError{Symbol: symbol, Reason: "reserved symbol cannot be redefined"}
	case src == nil:
		b.err = &AuthoringError{Symbol: symbol, Reason: "nil predicate source"}
	default:
		if _, dup := b.where[symbol]; dup {
			b.err = &AuthoringError{Symbol: symbol, Reason: "declared twice"}
			return b
		}
		b.where[symbol] = src
	}
	return b
}

func (b *Builder) Orientations(o Orientations) *Builder {
	b.orient = o
	return b
}

func (b *Builder) Build() (*Pattern, error) {
	if b.err != nil {
		return nil, b.err
	}
	grid, err := b.shape()
	if err != nil {
		return nil, err
	}
	depth, height, width := len(grid), len(grid[0]), len(grid[0][0])

	used := map[rune]int{}
	var order []rune
	for _, layer := range grid {
		for _, row := range layer {
			for _, r := range row {
				if r == AnySymbol || r == AirSymbol {
					continue
				}
				if _, ok := b.where[r]; !ok {
					return nil, &AuthoringError{Symbol: r, Reason: "used but not declared"}
				}
				if used[r] == 0 {
					order = append(order, r)
				}
				used[r]++
			}
		}
	}
	declared := make([]rune, 0, len(b.where))
	for r := range b.where {
		declared = append(declared, r)
	}
	sort.Slice(declared, func(i, j int) bool { return declared[i] < declared[j] })
	for _, r := range declared {
		if used[r] == 0 {
			return nil, &AuthoringError{Symbol: r, Reason: "declared but never used"}
		}
	}

	symbols := make(map[rune]*predicate.Predicate, len(order))
	naive := make(map[rune]payload.Doc, len(order))
	for _, r := range order {
		pred, err := b.where[r].Build()
		if err != nil {
			return nil, fmt.Errorf("pattern symbol %q: %w", r, err)
		}
		symbols[r] = pred
		naive[r] = b.where[r].NaivePayload()
	}

	p := &Pattern{
		width:   width,
		height:  height,
		depth:   depth,
		cells:   make([]*predicate.Predicate, 0, width*height*depth),
		layers:  make([][]string, depth),
		symbols: symbols,
		orient:  b.orient,
	}
	for z, layer := range grid {
		for _, row := range layer {
			p.layers[z] = append(p.layers[z], string(row))
			for _, r := range row {
				switch r {
				case AnySymbol:
					p.cells = append(p.cells, predicate.Wildcard())
				case AirSymbol:
					p.cells = append(p.cells, predicate.Air())
				default:
					p.cells = append(p.cells, symbols[r])
				}
			}
		}
	}
	p.palette, p.paletteBlocks = buildPalette(order, symbols)
	p.materials = buildMaterials(order, symbols, naive, used)
	return p, nil
}

// shape converts layer text to runes and checks the array is a box.
func (b *Builder) shape() ([][][]rune, error) {
	if len(b.layers) == 0 {
		return nil, &AuthoringError{Reason: "no layers"}
	}
	out := make([][][]rune, len(b.layers))
	height, width := -1, -1
	for z, layer := range b.layers {
		if height < 0 {
			height = len(layer)
		}
		if len(layer) == 0 || len(layer) != height {
			return nil, &AuthoringError{Reason: fmt.Sprintf("layer %d has %d rows, want %d", z, len(layer), height)}
		}
		out[z] = make([][]rune, len(layer))
		for y, row := range layer {
			rs := []rune(row)
			if width < 0 {
				width = len(rs)
			}
			if len(rs) == 0 || len(rs) != width {
				return nil, &AuthoringError{Reason: fmt.Sprintf("layer %d row %d has width %d, want %d", z, y, len(rs), width)}
			}
			out[z][y] = rs
		}
	}
	return out, nil
}

func buildPalette(order []rune, symbols map[rune]*predicate.Predicate) ([]*predicate.Predicate, map[string]struct{}) {
	var palette []*predicate.Predicate
	blocks := map[string]struct{}{}
	for _, r := range order {
		pred := symbols[r]
		if !pred.Typed() {
			continue
		}
		dup := false
		for _, q := range palette {
			if payload.Equal(q.Doc(), pred.Doc()) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		palette = append(palette, pred)
		for _, blk := range pred.Blocks() {
			blocks[blk] = struct{}{}
		}
	}
	return palette, blocks
}

// buildMaterials itemizes each typed symbol as its first block plus its
// payload references, counted by occurrences in the text.
func buildMaterials(order []rune, symbols map[rune]*predicate.Predicate, naive map[rune]payload.Doc, used map[rune]int) []items.Stack {
	raw := make([]items.Stack, 0, len(order))
	for _, r := range order {
		pred := symbols[r]
		if !pred.Typed() {
			continue
		}
		s := items.Stack{Item: pred.Blocks()[0], Count: used[r]}
		if len(naive[r]) > 0 {
			s.Meta = naive[r]
		}
		raw = append(raw, s)
	}
	return items.Sum(raw)
}
