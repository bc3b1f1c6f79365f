package predicate

import (
	"fmt"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/payload"
)

// Doc is the serializable form of a predicate. Exactly one of Block, Kind
// ("air" or "wildcard") or Any is set.
type Doc struct {
	Kind   string              `json:"kind,omitempty"`
	Block  string              `json:"block,omitempty"`
	States map[string][]string `json:"states,omitempty"`
	Exact  map[string][]string `json:"exact,omitempty"`
	Strict payload.Doc         `json:"strict,omitempty"`
	Soft   payload.Doc         `json:"soft,omitempty"`
	Any    []Doc               `json:"any,omitempty"`
}

// Doc describes p. Resolved state sets are written as States, so exact-mode
// predicates come back through Compile unchanged.
func (p *Predicate) Doc() Doc {
	switch p.kind {
	case KindWildcard:
		return Doc{Kind: KindWildcard.String()}
	case KindAir:
		return Doc{Kind: KindAir.String()}
	case KindAny:
		out := Doc{Any: make([]Doc, 0, len(p.alts))}
		for _, a := range p.alts {
			out.Any = append(out.Any, a.Doc())
		}
		return out
	}
	d := Doc{Block: p.block, Strict: p.strict.Clone(), Soft: p.soft.Clone()}
	if len(p.states) > 0 {
		d.States = make(map[string][]string, len(p.states))
		for a, vs := range p.states {
			d.States[a] = append([]string(nil), vs...)
		}
	}
	return d
}

// Compile builds the predicate a Doc describes, validating it against the
// block catalog the same way the fluent builder does.
func Compile(d Doc, blocks catalogs.BlockCatalog) (*Predicate, error) {
	src, err := SourceFor(d, blocks)
	if err != nil {
		return nil, err
	}
	return src.Build()
}

// SourceFor returns the builder or chain a Doc describes without building
// it, so callers can still inspect its payload references.
func SourceFor(d Doc, blocks catalogs.BlockCatalog) (Source, error) {
	switch d.Kind {
	case "", KindBlock.String():
	case KindWildcard.String():
		return Fixed(Wildcard()), nil
	case KindAir.String():
		return Fixed(Air()), nil
	case KindAny.String():
		if len(d.Any) == 0 {
			return nil, fmt.Errorf("predicate: kind any without alternatives")
		}
	default:
		return nil, fmt.Errorf("predicate: unknown kind %q", d.Kind)
	}
	if len(d.Any) > 0 {
		if d.Block != "" {
			return nil, fmt.Errorf("predicate: both block and any set")
		}
		chain := NewChain()
		for i, alt := range d.Any {
			src, err := SourceFor(alt, blocks)
			if err != nil {
				return nil, fmt.Errorf("predicate: alternative %d: %w", i, err)
			}
			chain.Or(src)
		}
		if err := chain.Err(); err != nil {
			return nil, err
		}
		return chain, nil
	}
	if d.Block == "" {
		return nil, fmt.Errorf("predicate: missing block")
	}
	b := builderFor(d, blocks)
	if err := b.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func builderFor(d Doc, blocks catalogs.BlockCatalog) *Builder {
	b := For(blocks, d.Block)
	for _, attr := range sortedKeys(d.States) {
		b.Allow(attr, d.States[attr]...)
	}
	for _, attr := range sortedKeys(d.Exact) {
		b.Exact(attr, d.Exact[attr]...)
	}
	if len(d.Strict) > 0 {
		b.Strict(d.Strict)
	}
	if len(d.Soft) > 0 {
		b.Soft(d.Soft)
	}
	return b
}
