// Package items implements item stacks and the summed-contents arithmetic
// shared by payload matching, recipe requirements and token crafting.
package items

import (
	"encoding/json"
	"fmt"
	"strings"

	"voxelforge.ai/internal/sim/payload"
)

// emptyItem mirrors the grid's empty block; stacks of it are placeholders.
const emptyItem = "AIR"

type Stack struct {
	Item  string      `json:"item"`
	Meta  payload.Doc `json:"meta,omitempty"`
	Count int         `json:"count"`
}

func (s Stack) Empty() bool {
	return strings.TrimSpace(s.Item) == "" || s.Item == emptyItem || s.Count <= 0
}

// SameKind reports whether two stacks share item id and metadata.
func (s Stack) SameKind(o Stack) bool {
	return s.Item == o.Item && payload.EqualDocs(s.Meta, o.Meta)
}

func (s Stack) String() string {
	if len(s.Meta) == 0 {
		return fmt.Sprintf("%dx%s", s.Count, s.Item)
	}
	b, _ := json.Marshal(s.Meta)
	return fmt.Sprintf("%dx%s%s", s.Count, s.Item, b)
}

func Clone(in []Stack) []Stack {
	if in == nil {
		return nil
	}
	out := make([]Stack, len(in))
	for i, s := range in {
		out[i] = Stack{Item: s.Item, Meta: s.Meta.Clone(), Count: s.Count}
	}
	return out
}

// Sum groups stacks by (item, meta) and adds their counts. Output keeps
// first-seen order and drops empty entries. Grouping is quadratic because
// metadata equality is structural; lists here hold a few dozen entries.
func Sum(in []Stack) []Stack {
	out := make([]Stack, 0, len(in))
	for _, s := range in {
		if s.Empty() {
			continue
		}
		merged := false
		for i := range out {
			if out[i].SameKind(s) {
				out[i].Count += s.Count
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, Stack{Item: s.Item, Meta: s.Meta.Clone(), Count: s.Count})
		}
	}
	return out
}

// Compare reports whether available covers required: every distinct
// (item, meta) of required appears in available with at least its count.
func Compare(required, available []Stack) bool {
	return len(Missing(required, available)) == 0
}

// Missing returns the part of required that available does not cover.
func Missing(required, available []Stack) []Stack {
	req := Sum(required)
	have := Sum(available)
	var out []Stack
	for _, r := range req {
		n := 0
		for _, a := range have {
			if a.SameKind(r) {
				n = a.Count
				break
			}
		}
		if n < r.Count {
			out = append(out, Stack{Item: r.Item, Meta: r.Meta.Clone(), Count: r.Count - n})
		}
	}
	return out
}

// Subtract removes required from held. It returns the summed remainder, or
// false with a nil slice when held does not cover required.
func Subtract(held, required []Stack) ([]Stack, bool) {
	if !Compare(required, held) {
		return nil, false
	}
	rest := Sum(held)
	for _, r := range Sum(required) {
		for i := range rest {
			if rest[i].SameKind(r) {
				rest[i].Count -= r.Count
				break
			}
		}
	}
	out := rest[:0]
	for _, s := range rest {
		if s.Count > 0 {
			out = append(out, s)
		}
	}
	return out, true
}

// FromContents decodes the reserved contents list of a payload. Malformed
// entries are skipped; a missing key yields nil.
func FromContents(d payload.Doc) []Stack {
	raw, ok := d[payload.ContentsKey]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(b, &list); err != nil {
			return nil
		}
	}
	out := make([]Stack, 0, len(list))
	for _, e := range list {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		var s Stack
		if err := json.Unmarshal(b, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ToContents encodes stacks in the shape FromContents reads.
func ToContents(stacks []Stack) []any {
	out := make([]any, 0, len(stacks))
	for _, s := range stacks {
		e := map[string]any{"item": s.Item, "count": s.Count}
		if len(s.Meta) > 0 {
			e["meta"] = map[string]any(s.Meta.Clone())
		}
		out = append(out, e)
	}
	return out
}
