package pattern

import (
	"fmt"
	"sort"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/logic/predicate"
)

// Document is the on-disk form of a pattern. Symbols maps one-character
// keys to predicate documents.
type Document struct {
	Layers       [][]string               `json:"layers"`
	Symbols      map[string]predicate.Doc `json:"symbols"`
	Orientations string                   `json:"orientations,omitempty"`
}

func (p *Pattern) Document() Document {
	d := Document{
		Layers:       p.Layers(),
		Symbols:      make(map[string]predicate.Doc, len(p.symbols)),
		Orientations: p.orient.String(),
	}
	for r, pred := range p.symbols {
		d.Symbols[string(r)] = pred.Doc()
	}
	return d
}

// FromDocument compiles d against the block catalog.
func FromDocument(d Document, blocks catalogs.BlockCatalog) (*Pattern, error) {
	orient, err := ParseOrientations(d.Orientations)
	if err != nil {
		return nil, err
	}
	b := NewBuilder().Orientations(orient)
	for _, layer := range d.Layers {
		b.Layer(layer...)
	}
	keys := make([]string, 0, len(d.Symbols))
	for k := range d.Symbols {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rs := []rune(k)
		if len(rs) != 1 {
			return nil, &AuthoringError{Reason: fmt.Sprintf("symbol key %q must be one character", k)}
		}
		src, err := predicate.SourceFor(d.Symbols[k], blocks)
		if err != nil {
			return nil, fmt.Errorf("pattern symbol %q: %w", rs[0], err)
		}
		b.Where(rs[0], src)
	}
	return b.Build()
}
