package predicate

import (
	"errors"
	"testing"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/payload"
)

func testBlocks(t *testing.T) catalogs.BlockCatalog {
	t.Helper()
	cat, err := catalogs.NewBlockCatalog([]catalogs.BlockDef{
		{ID: "STONE"},
		{ID: "LOG", States: map[string][]string{"axis": {"x", "y", "z"}}, Defaults: map[string]string{"axis": "y"}},
		{ID: "FURNACE", States: map[string][]string{
			"facing": {"north", "east", "south", "west"},
			"lit":    {"false", "true"},
		}, Defaults: map[string]string{"facing": "north", "lit": "false"}},
		{ID: "CRATE", Container: true, States: map[string][]string{"open": {"false", "true"}}},
	})
	if err != nil {
		t.Fatalf("NewBlockCatalog: %v", err)
	}
	return cat
}

func mustBuild(t *testing.T, s Source) *Predicate {
	t.Helper()
	p, err := s.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return p
}

func crate(contents []items.Stack, extra payload.Doc) grid.Cell {
	doc := payload.Doc{}
	for k, v := range extra {
		doc[k] = v
	}
	if contents != nil {
		doc[payload.ContentsKey] = items.ToContents(contents)
	}
	return grid.Cell{Block: "CRATE", State: map[string]string{"open": "false"}, Payload: doc.Clone()}
}

func TestTypeOnlyPredicateIgnoresStateAndPayload(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "FURNACE"))
	cells := []grid.Cell{
		{Block: "FURNACE", State: map[string]string{"facing": "north", "lit": "false"}},
		{Block: "FURNACE", State: map[string]string{"facing": "west", "lit": "true"}},
		{Block: "FURNACE"},
		{Block: "FURNACE", Payload: payload.Doc{"anything": 1}},
	}
	for _, c := range cells {
		if !p.Test(c) {
			t.Fatalf("type-only predicate rejected %+v", c)
		}
	}
	for _, c := range []grid.Cell{{Block: "STONE"}, {Block: "AIR"}, {}} {
		if p.Test(c) {
			t.Fatalf("type-only predicate accepted %+v", c)
		}
	}
}

func TestAllowedSetRejectsOtherValues(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "FURNACE").Allow("facing", "north", "south"))
	for _, facing := range []string{"north", "south"} {
		for _, lit := range []string{"false", "true"} {
			if !p.Test(grid.Cell{Block: "FURNACE", State: map[string]string{"facing": facing, "lit": lit}}) {
				t.Fatalf("facing=%s lit=%s should match", facing, lit)
			}
		}
	}
	for _, facing := range []string{"east", "west"} {
		for _, lit := range []string{"false", "true"} {
			if p.Test(grid.Cell{Block: "FURNACE", State: map[string]string{"facing": facing, "lit": lit}}) {
				t.Fatalf("facing=%s lit=%s should not match", facing, lit)
			}
		}
	}
	if p.Test(grid.Cell{Block: "FURNACE", State: map[string]string{"lit": "true"}}) {
		t.Fatalf("cell without the constrained attribute must fail")
	}
}

func TestAllowWidensOnRepeatedCalls(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "LOG").Allow("axis", "x").Allow("axis", "z"))
	if !p.Test(grid.Cell{Block: "LOG", State: map[string]string{"axis": "z"}}) {
		t.Fatalf("second Allow should widen the set")
	}
	if p.Test(grid.Cell{Block: "LOG", State: map[string]string{"axis": "y"}}) {
		t.Fatalf("y was never allowed")
	}
}

func TestExactModePinsUnspecifiedAttributesToDefaults(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "FURNACE").Allow("lit", "true").Exact("facing", "east"))
	if !p.Test(grid.Cell{Block: "FURNACE", State: map[string]string{"facing": "east", "lit": "false"}}) {
		t.Fatalf("exact mode should pin lit to its default")
	}
	if p.Test(grid.Cell{Block: "FURNACE", State: map[string]string{"facing": "east", "lit": "true"}}) {
		t.Fatalf("exact mode takes precedence over Allow")
	}
	if p.Test(grid.Cell{Block: "FURNACE", State: map[string]string{"facing": "north", "lit": "false"}}) {
		t.Fatalf("overridden attribute must use the exact value")
	}
}

func TestBuilderFailsFastOnAuthoringMistakes(t *testing.T) {
	blocks := testBlocks(t)
	cases := []struct {
		name string
		b    *Builder
	}{
		{"unknown block", For(blocks, "LAVA")},
		{"unknown attribute", For(blocks, "LOG").Allow("lit", "true")},
		{"value out of domain", For(blocks, "LOG").Allow("axis", "w")},
		{"exact out of domain", For(blocks, "LOG").Exact("axis", "q")},
		{"no values", For(blocks, "LOG").Allow("axis")},
		{"strict on plain block", For(blocks, "STONE").Strict(payload.Doc{"a": 1})},
		{"soft on plain block", For(blocks, "LOG").Soft(payload.Doc{"a": 1})},
	}
	for _, c := range cases {
		if c.b.Err() == nil {
			t.Fatalf("%s: expected immediate error", c.name)
		}
		p, err := c.b.Build()
		if err == nil || p != nil {
			t.Fatalf("%s: Build must fail without a predicate", c.name)
		}
		var ae *AuthoringError
		if !errors.As(err, &ae) {
			t.Fatalf("%s: expected AuthoringError, got %T", c.name, err)
		}
	}

	b := For(blocks, "LOG").Allow("axis", "w").Allow("axis", "x")
	var ae *AuthoringError
	if !errors.As(b.Err(), &ae) || ae.Value != "w" {
		t.Fatalf("first error must stick, got %v", b.Err())
	}
}

func TestStrictPayload(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "CRATE").Strict(payload.Doc{"label": "tools", "tier": 2}))
	if !p.Test(crate(nil, payload.Doc{"label": "tools", "tier": 2, "extra": true})) {
		t.Fatalf("superset payload should match")
	}
	if p.Test(crate(nil, payload.Doc{"label": "tools", "tier": 3})) {
		t.Fatalf("differing value must fail")
	}
	if p.Test(crate(nil, payload.Doc{"label": "tools"})) {
		t.Fatalf("missing key must fail")
	}
	if p.Test(grid.Cell{Block: "CRATE"}) {
		t.Fatalf("no payload must fail")
	}
}

func TestSoftPayloadComparesQuantities(t *testing.T) {
	blocks := testBlocks(t)
	ref := payload.Doc{payload.ContentsKey: items.ToContents([]items.Stack{{Item: "NAILS", Count: 2}})}
	p := mustBuild(t, For(blocks, "CRATE").Soft(ref))

	cases := []struct {
		name string
		cell grid.Cell
		want bool
	}{
		{"exactly two", crate([]items.Stack{{Item: "NAILS", Count: 2}}, nil), true},
		{"five", crate([]items.Stack{{Item: "NAILS", Count: 5}}, nil), true},
		{"split stacks", crate([]items.Stack{{Item: "NAILS", Count: 1}, {Item: "PLANK", Count: 9}, {Item: "NAILS", Count: 1}}, nil), true},
		{"one", crate([]items.Stack{{Item: "NAILS", Count: 1}}, nil), false},
		{"empty list", crate([]items.Stack{}, nil), false},
		{"no payload", grid.Cell{Block: "CRATE"}, false},
	}
	for _, c := range cases {
		if got := p.Test(c.cell); got != c.want {
			t.Fatalf("%s: Test=%v want %v", c.name, got, c.want)
		}
	}
}

func TestSoftPayloadIsNotSymmetric(t *testing.T) {
	blocks := testBlocks(t)
	three := []items.Stack{{Item: "X", Count: 3}}
	five := []items.Stack{{Item: "X", Count: 5}}
	needThree := mustBuild(t, For(blocks, "CRATE").Soft(payload.Doc{payload.ContentsKey: items.ToContents(three)}))
	needFive := mustBuild(t, For(blocks, "CRATE").Soft(payload.Doc{payload.ContentsKey: items.ToContents(five)}))
	if !needThree.Test(crate(five, nil)) {
		t.Fatalf("3 required, 5 held should match")
	}
	if needFive.Test(crate(three, nil)) {
		t.Fatalf("5 required, 3 held should not match")
	}
}

func TestSoftPayloadOtherKeysNeedEquality(t *testing.T) {
	blocks := testBlocks(t)
	ref := payload.Doc{
		"owner":             "A1",
		payload.ContentsKey: items.ToContents([]items.Stack{{Item: "NAILS", Count: 1}}),
	}
	p := mustBuild(t, For(blocks, "CRATE").Soft(ref))
	if !p.Test(crate([]items.Stack{{Item: "NAILS", Count: 4}}, payload.Doc{"owner": "A1"})) {
		t.Fatalf("expected match")
	}
	if p.Test(crate([]items.Stack{{Item: "NAILS", Count: 4}}, payload.Doc{"owner": "A2"})) {
		t.Fatalf("owner mismatch must fail")
	}
}

func TestEmptyReferenceContentsNeverMatches(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "CRATE").Soft(payload.Doc{payload.ContentsKey: []any{}}))
	if p.Test(crate([]items.Stack{{Item: "NAILS", Count: 4}}, nil)) {
		t.Fatalf("empty required contents must never match")
	}
}

func TestStrictAndSoftBothApply(t *testing.T) {
	blocks := testBlocks(t)
	p := mustBuild(t, For(blocks, "CRATE").
		Strict(payload.Doc{"label": "a"}).
		Soft(payload.Doc{payload.ContentsKey: items.ToContents([]items.Stack{{Item: "N", Count: 1}})}).
		Strict(payload.Doc{"label": "b"}))
	if !p.Test(crate([]items.Stack{{Item: "N", Count: 1}}, payload.Doc{"label": "b"})) {
		t.Fatalf("last strict write should win and soft should still apply")
	}
	if p.Test(crate(nil, payload.Doc{"label": "b"})) {
		t.Fatalf("soft requirement dropped")
	}
	got := For(blocks, "CRATE").Strict(payload.Doc{"label": "a"}).Soft(payload.Doc{"tier": 1}).NaivePayload()
	if !payload.Equal(got, payload.Doc{"label": "a", "tier": 1}) {
		t.Fatalf("NaivePayload = %v", got)
	}
}

func TestOrAndChain(t *testing.T) {
	blocks := testBlocks(t)
	chain := NewChain(For(blocks, "STONE")).
		Or(For(blocks, "LOG").Allow("axis", "x")).
		Or(For(blocks, "CRATE").Strict(payload.Doc{"label": "logs"}))
	p := mustBuild(t, chain)
	if p.Kind() != KindAny || len(p.Alternatives()) != 3 {
		t.Fatalf("expected flat alternation of 3, got %s", p)
	}
	if got := p.Blocks(); len(got) != 3 || got[0] != "STONE" || got[2] != "CRATE" {
		t.Fatalf("Blocks = %v", got)
	}
	if !p.Test(grid.Cell{Block: "STONE"}) || !p.Test(grid.Cell{Block: "LOG", State: map[string]string{"axis": "x"}}) {
		t.Fatalf("alternatives should match")
	}
	if p.Test(grid.Cell{Block: "LOG", State: map[string]string{"axis": "y"}}) {
		t.Fatalf("no alternative accepts axis=y")
	}
	if !payload.Equal(chain.NaivePayload(), payload.Doc{"label": "logs"}) {
		t.Fatalf("chain NaivePayload = %v", chain.NaivePayload())
	}

	if _, err := NewChain(For(blocks, "STONE"), For(blocks, "LOG").Allow("axis", "bad")).Build(); err == nil {
		t.Fatalf("chain must surface member errors")
	}
	if _, err := NewChain().Build(); err == nil {
		t.Fatalf("empty chain must fail")
	}
}

func TestWildcardAndAir(t *testing.T) {
	cells := []grid.Cell{{}, {Block: "AIR"}, {Block: "STONE"}, {Block: "CRATE", Payload: payload.Doc{"x": 1}}}
	for _, c := range cells {
		if !Wildcard().Test(c) {
			t.Fatalf("wildcard rejected %+v", c)
		}
	}
	if !Air().Test(grid.Cell{}) || !Air().Test(grid.Cell{Block: "AIR"}) || Air().Test(grid.Cell{Block: "STONE"}) {
		t.Fatalf("air predicate wrong")
	}
	if Wildcard().Or(Air()) != Wildcard() {
		t.Fatalf("wildcard absorbs alternation")
	}
}

func TestDocRoundTrip(t *testing.T) {
	blocks := testBlocks(t)
	orig := mustBuild(t, NewChain(
		For(blocks, "FURNACE").Exact("facing", "west"),
		For(blocks, "CRATE").Soft(payload.Doc{payload.ContentsKey: items.ToContents([]items.Stack{{Item: "N", Count: 2}})}),
	))
	back, err := Compile(orig.Doc(), blocks)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if back.String() != orig.String() {
		t.Fatalf("round trip changed predicate: %s vs %s", back, orig)
	}
	samples := []grid.Cell{
		{Block: "FURNACE", State: map[string]string{"facing": "west", "lit": "false"}},
		{Block: "FURNACE", State: map[string]string{"facing": "west", "lit": "true"}},
		crate([]items.Stack{{Item: "N", Count: 3}}, nil),
		crate([]items.Stack{{Item: "N", Count: 1}}, nil),
	}
	for _, c := range samples {
		if orig.Test(c) != back.Test(c) {
			t.Fatalf("round trip disagrees on %+v", c)
		}
	}

	mixed := Air().Or(mustBuild(t, For(blocks, "STONE")))
	back, err = Compile(mixed.Doc(), blocks)
	if err != nil {
		t.Fatalf("Compile air alternative: %v", err)
	}
	if back.String() != mixed.String() {
		t.Fatalf("air alternative round trip: %s vs %s", back, mixed)
	}
	for _, c := range []grid.Cell{{}, {Block: "STONE"}, {Block: "LOG"}} {
		if mixed.Test(c) != back.Test(c) {
			t.Fatalf("air alternative disagrees on %+v", c)
		}
	}

	bad := []Doc{
		{},
		{Kind: "sometimes"},
		{Block: "STONE", Any: []Doc{{Block: "LOG"}}},
		{Any: []Doc{{Kind: "air"}, {Kind: "sometimes"}}},
		{Block: "LOG", States: map[string][]string{"axis": {"w"}}},
	}
	for i, d := range bad {
		if _, err := Compile(d, blocks); err == nil {
			t.Fatalf("bad doc %d compiled", i)
		}
	}
}
