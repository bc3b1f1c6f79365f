package items

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelforge.ai/internal/sim/payload"
)

func TestSum_GroupsByItemAndMeta(t *testing.T) {
	in := []Stack{
		{Item: "NAILS", Count: 2},
		{Item: "PLANK", Count: 1},
		{Item: "", Count: 5},
		{Item: "NAILS", Count: 3},
		{Item: "PLANK", Meta: payload.Doc{"wood": "oak"}, Count: 4},
		{Item: "AIR", Count: 9},
		{Item: "PLANK", Meta: payload.Doc{"wood": "oak"}, Count: 1},
		{Item: "STONE", Count: 0},
	}
	want := []Stack{
		{Item: "NAILS", Count: 5},
		{Item: "PLANK", Count: 1},
		{Item: "PLANK", Meta: payload.Doc{"wood": "oak"}, Count: 5},
	}
	got := Sum(in)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Sum mismatch (-want +got):\n%s", diff)
	}
}

func TestSum_Idempotent(t *testing.T) {
	in := []Stack{
		{Item: "A", Count: 1},
		{Item: "B", Meta: payload.Doc{"n": 1}, Count: 2},
		{Item: "A", Count: 3},
		{Item: "B", Meta: payload.Doc{"n": 1.0}, Count: 2},
	}
	once := Sum(in)
	twice := Sum(once)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("Sum not idempotent (-once +twice):\n%s", diff)
	}
	if len(once) != 2 || once[1].Count != 4 {
		t.Fatalf("int and float meta values should group together: %v", once)
	}
}

func TestCompare(t *testing.T) {
	req := []Stack{{Item: "NAILS", Count: 3}, {Item: "NAILS", Count: 1}}
	cases := []struct {
		name  string
		avail []Stack
		want  bool
	}{
		{"exact", []Stack{{Item: "NAILS", Count: 4}}, true},
		{"split stacks", []Stack{{Item: "NAILS", Count: 2}, {Item: "NAILS", Count: 2}}, true},
		{"more", []Stack{{Item: "NAILS", Count: 64}}, true},
		{"short", []Stack{{Item: "NAILS", Count: 3}}, false},
		{"other meta", []Stack{{Item: "NAILS", Meta: payload.Doc{"rusty": true}, Count: 9}}, false},
		{"none", nil, false},
	}
	for _, c := range cases {
		if got := Compare(req, c.avail); got != c.want {
			t.Fatalf("%s: Compare=%v want %v", c.name, got, c.want)
		}
	}
}

func TestCompare_UnrelatedItemsDoNotChangeOutcome(t *testing.T) {
	req := []Stack{{Item: "IRON", Count: 2}}
	for _, avail := range [][]Stack{
		{{Item: "IRON", Count: 2}},
		{{Item: "IRON", Count: 1}},
	} {
		base := Compare(req, avail)
		padded := append(Clone(avail), Stack{Item: "COAL", Count: 7}, Stack{Item: "SAND", Count: 1})
		if got := Compare(req, padded); got != base {
			t.Fatalf("unrelated items changed outcome: base=%v padded=%v", base, got)
		}
	}
}

func TestSubtract(t *testing.T) {
	held := []Stack{{Item: "NAILS", Count: 5}, {Item: "PLANK", Count: 2}, {Item: "NAILS", Count: 1}}
	rest, ok := Subtract(held, []Stack{{Item: "NAILS", Count: 6}, {Item: "PLANK", Count: 1}})
	if !ok {
		t.Fatalf("expected subtract to succeed")
	}
	if diff := cmp.Diff([]Stack{{Item: "PLANK", Count: 1}}, rest); diff != "" {
		t.Fatalf("remainder mismatch (-want +got):\n%s", diff)
	}
	if held[0].Count != 5 {
		t.Fatalf("input mutated: %v", held)
	}
	if _, ok := Subtract(held, []Stack{{Item: "PLANK", Count: 3}}); ok {
		t.Fatalf("expected insufficient holdings")
	}
}

func TestFromContents_RoundTrip(t *testing.T) {
	stacks := []Stack{{Item: "NAILS", Count: 2}, {Item: "GEAR", Meta: payload.Doc{"teeth": 12.0}, Count: 1}}
	doc := payload.Doc{payload.ContentsKey: ToContents(stacks), "label": "crate"}
	got := FromContents(doc.Clone())
	if diff := cmp.Diff(stacks, got); diff != "" {
		t.Fatalf("contents mismatch (-want +got):\n%s", diff)
	}
	if FromContents(payload.Doc{"label": "x"}) != nil {
		t.Fatalf("missing contents key should decode to nil")
	}
}
