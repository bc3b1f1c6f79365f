// Package predicate implements cell predicates: boolean tests against one
// grid cell's block type, state attributes and payload, with disjunction.
package predicate

import (
	"sort"
	"strings"

	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/payload"
)

type Kind uint8

const (
	KindBlock Kind = iota
	KindAny
	KindWildcard
	KindAir
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindWildcard:
		return "wildcard"
	case KindAir:
		return "air"
	default:
		return "block"
	}
}

// Predicate is immutable once built. A KindAny predicate holds its
// alternatives; every other kind is a leaf.
type Predicate struct {
	kind   Kind
	block  string
	states map[string][]string
	strict payload.Doc
	soft   payload.Doc
	alts   []*Predicate
}

var (
	wildcard = &Predicate{kind: KindWildcard}
	air      = &Predicate{kind: KindAir}
)

// Wildcard always matches.
func Wildcard() *Predicate { return wildcard }

// Air matches only the grid's empty value.
func Air() *Predicate { return air }

func (p *Predicate) Kind() Kind { return p.kind }

// Block is the required block id of a KindBlock predicate.
func (p *Predicate) Block() string { return p.block }

// Alternatives returns the members of a KindAny predicate.
func (p *Predicate) Alternatives() []*Predicate {
	return append([]*Predicate(nil), p.alts...)
}

// Blocks lists the distinct block ids the predicate can accept, in
// declaration order. Wildcard and air predicates accept no specific block.
func (p *Predicate) Blocks() []string {
	switch p.kind {
	case KindBlock:
		return []string{p.block}
	case KindAny:
		var out []string
		seen := map[string]bool{}
		for _, a := range p.alts {
			for _, b := range a.Blocks() {
				if !seen[b] {
					seen[b] = true
					out = append(out, b)
				}
			}
		}
		return out
	}
	return nil
}

// Typed reports whether the predicate constrains the block type.
func (p *Predicate) Typed() bool {
	return p.kind == KindBlock || p.kind == KindAny
}

// Test evaluates type, then attributes, then strict and soft payload.
func (p *Predicate) Test(c grid.Cell) bool {
	switch p.kind {
	case KindWildcard:
		return true
	case KindAir:
		return c.IsAir()
	case KindAny:
		for _, a := range p.alts {
			if a.Test(c) {
				return true
			}
		}
		return false
	}

	block := c.Block
	if block == "" {
		block = grid.Air
	}
	if block != p.block {
		return false
	}
	for attr, allowed := range p.states {
		v, ok := c.StateValue(attr)
		if !ok || !containsString(allowed, v) {
			return false
		}
	}
	if p.strict != nil && !c.Payload.ContainsAll(p.strict) {
		return false
	}
	if p.soft != nil && !softMatch(p.soft, c.Payload) {
		return false
	}
	return true
}

// softMatch compares non-contents keys by equality and the contents list by
// summed quantity. An empty reference list never matches.
func softMatch(ref, have payload.Doc) bool {
	if !have.ContainsAll(ref, payload.ContentsKey) {
		return false
	}
	if _, ok := ref[payload.ContentsKey]; !ok {
		return true
	}
	want := items.Sum(items.FromContents(ref))
	if len(want) == 0 {
		return false
	}
	got := items.FromContents(have)
	if len(got) == 0 {
		return false
	}
	return items.Compare(want, got)
}

// Or returns a predicate that holds when p or q holds. Nested alternations
// are flattened.
func (p *Predicate) Or(q *Predicate) *Predicate {
	if p.kind == KindWildcard || q.kind == KindWildcard {
		return wildcard
	}
	var alts []*Predicate
	for _, x := range []*Predicate{p, q} {
		if x.kind == KindAny {
			alts = append(alts, x.alts...)
		} else {
			alts = append(alts, x)
		}
	}
	return &Predicate{kind: KindAny, alts: alts}
}

// NaivePayload merges every payload reference in the predicate tree. It is
// for display only and plays no part in matching.
func (p *Predicate) NaivePayload() payload.Doc {
	switch p.kind {
	case KindAny:
		docs := make([]payload.Doc, 0, len(p.alts))
		for _, a := range p.alts {
			docs = append(docs, a.NaivePayload())
		}
		return payload.Merge(docs...)
	case KindBlock:
		return payload.Merge(p.strict, p.soft)
	}
	return payload.Doc{}
}

func (p *Predicate) String() string {
	switch p.kind {
	case KindWildcard:
		return "*"
	case KindAir:
		return "AIR!"
	case KindAny:
		parts := make([]string, 0, len(p.alts))
		for _, a := range p.alts {
			parts = append(parts, a.String())
		}
		return "(" + strings.Join(parts, " | ") + ")"
	}
	var sb strings.Builder
	sb.WriteString(p.block)
	if len(p.states) > 0 {
		attrs := make([]string, 0, len(p.states))
		for a := range p.states {
			attrs = append(attrs, a)
		}
		sort.Strings(attrs)
		sb.WriteByte('[')
		for i, a := range attrs {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(a + "=" + strings.Join(p.states[a], "|"))
		}
		sb.WriteByte(']')
	}
	if p.strict != nil {
		sb.WriteString("{strict}")
	}
	if p.soft != nil {
		sb.WriteString("{soft}")
	}
	return sb.String()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
