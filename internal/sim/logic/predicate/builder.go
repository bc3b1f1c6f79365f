package predicate

import (
	"fmt"
	"sort"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/payload"
)

// AuthoringError reports a predicate definition that can never be valid:
// an unknown attribute, an out-of-domain value, or a payload constraint on a
// block that carries no payload.
type AuthoringError struct {
	Block  string
	Attr   string
	Value  string
	Reason string
}

func (e *AuthoringError) Error() string {
	switch {
	case e.Attr != "" && e.Value != "":
		return fmt.Sprintf("predicate %s: %s=%s: %s", e.Block, e.Attr, e.Value, e.Reason)
	case e.Attr != "":
		return fmt.Sprintf("predicate %s: %s: %s", e.Block, e.Attr, e.Reason)
	default:
		return fmt.Sprintf("predicate %s: %s", e.Block, e.Reason)
	}
}

// Source is anything that builds into a predicate: a Builder, a Chain, or a
// fixed predicate.
type Source interface {
	Build() (*Predicate, error)
	NaivePayload() payload.Doc
}

// Builder assembles a predicate against one block type. The first authoring
// mistake is detected at the call that makes it; the builder then ignores
// further calls, Err reports the mistake and Build refuses to produce a
// predicate.
type Builder struct {
	def    catalogs.BlockDef
	allow  map[string][]string
	exact  map[string][]string
	strict payload.Doc
	soft   payload.Doc
	err    error
}

func NewBuilder(def catalogs.BlockDef) *Builder {
	b := &Builder{def: def}
	if def.ID == "" {
		b.err = &AuthoringError{Reason: "empty block id"}
	}
	return b
}

// For looks the block up in the catalog before starting a builder.
func For(blocks catalogs.BlockCatalog, id string) *Builder {
	def, ok := blocks.Def(id)
	if !ok {
		return &Builder{def: catalogs.BlockDef{ID: id}, err: &AuthoringError{Block: id, Reason: "unknown block"}}
	}
	return NewBuilder(def)
}

func (b *Builder) Block() string { return b.def.ID }

func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(attr, value, reason string) *Builder {
	b.err = &AuthoringError{Block: b.def.ID, Attr: attr, Value: value, Reason: reason}
	return b
}

func (b *Builder) check(attr string, values []string) bool {
	if !b.def.HasState(attr) {
		b.fail(attr, "", "unknown attribute")
		return false
	}
	if len(values) == 0 {
		b.fail(attr, "", "no values")
		return false
	}
	for _, v := range values {
		if !b.def.Legal(attr, v) {
			b.fail(attr, v, "value not in domain")
			return false
		}
	}
	return true
}

// Allow adds values to the allowed set of attr. Repeated calls widen it.
func (b *Builder) Allow(attr string, values ...string) *Builder {
	if b.err != nil || !b.check(attr, values) {
		return b
	}
	if b.allow == nil {
		b.allow = map[string][]string{}
	}
	b.allow[attr] = union(b.allow[attr], values)
	return b
}

// Exact switches the builder to exact mode. On first use every attribute is
// pinned to the block's default value; attr is then set to values. Exact
// constraints replace anything added with Allow.
func (b *Builder) Exact(attr string, values ...string) *Builder {
	if b.err != nil || !b.check(attr, values) {
		return b
	}
	if b.exact == nil {
		b.exact = map[string][]string{}
		for a, v := range b.def.DefaultState() {
			b.exact[a] = []string{v}
		}
	}
	b.exact[attr] = union(nil, values)
	return b
}

// Strict requires every key of doc to be present in the cell payload with an
// equal value. The last call wins.
func (b *Builder) Strict(doc payload.Doc) *Builder {
	if b.err != nil {
		return b
	}
	if !b.def.Container {
		return b.fail("", "", "strict payload on a block without payload")
	}
	b.strict = nonEmpty(doc)
	return b
}

// Soft is Strict except that the contents list is compared by summed
// quantity. The last call wins; it does not clear Strict.
func (b *Builder) Soft(doc payload.Doc) *Builder {
	if b.err != nil {
		return b
	}
	if !b.def.Container {
		return b.fail("", "", "soft payload on a block without payload")
	}
	b.soft = nonEmpty(doc)
	return b
}

// NaivePayload merges the strict and soft references for inspection.
func (b *Builder) NaivePayload() payload.Doc {
	return payload.Merge(b.strict, b.soft)
}

func (b *Builder) Build() (*Predicate, error) {
	if b.err != nil {
		return nil, b.err
	}
	src := b.allow
	if b.exact != nil {
		src = b.exact
	}
	var states map[string][]string
	if len(src) > 0 {
		states = make(map[string][]string, len(src))
		for a, vs := range src {
			states[a] = append([]string(nil), vs...)
		}
	}
	return &Predicate{
		kind:   KindBlock,
		block:  b.def.ID,
		states: states,
		strict: b.strict.Clone(),
		soft:   b.soft.Clone(),
	}, nil
}

func union(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, v := range add {
		if !containsString(out, v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func nonEmpty(doc payload.Doc) payload.Doc {
	if len(doc) == 0 {
		return nil
	}
	return doc.Clone()
}

type fixed struct{ p *Predicate }

// Fixed wraps an already-built predicate as a Source.
func Fixed(p *Predicate) Source { return fixed{p} }

func (f fixed) Build() (*Predicate, error) { return f.p, nil }
func (f fixed) NaivePayload() payload.Doc  { return f.p.NaivePayload() }

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
