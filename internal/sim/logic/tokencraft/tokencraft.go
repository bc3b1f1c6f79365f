// Package tokencraft matches the flat 3x3 recipes that turn a blank token
// into a filled one.
package tokencraft

import (
	"fmt"
	"sort"

	"voxelforge.ai/internal/sim/items"
)

const Size = 3

// Grid is the input: row-major slots, empty stacks for unused slots.
type Grid [Size][Size]items.Stack

// Recipe is either shaped (Mask) or shapeless (Loose). Mask rows use "" for
// a slot that must stay empty. The blank token is never part of the mask.
type Recipe struct {
	ID     string        `json:"id"`
	Blank  string        `json:"blank"`
	Mask   [][]string    `json:"mask,omitempty"`
	Loose  []items.Stack `json:"loose,omitempty"`
	Result items.Stack   `json:"result"`
}

func (r *Recipe) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("token recipe: missing id")
	}
	if r.Blank == "" {
		return fmt.Errorf("token recipe %s: missing blank", r.ID)
	}
	if r.Result.Empty() {
		return fmt.Errorf("token recipe %s: empty result", r.ID)
	}
	shaped, loose := len(r.Mask) > 0, len(r.Loose) > 0
	if shaped == loose {
		return fmt.Errorf("token recipe %s: need exactly one of mask or loose", r.ID)
	}
	if loose && len(r.Loose) > Size*Size {
		return fmt.Errorf("token recipe %s: %d loose requirements, max %d", r.ID, len(r.Loose), Size*Size)
	}
	if shaped {
		if len(r.Mask) > Size {
			return fmt.Errorf("token recipe %s: mask has %d rows", r.ID, len(r.Mask))
		}
		w := len(r.Mask[0])
		for i, row := range r.Mask {
			if len(row) == 0 || len(row) > Size || len(row) != w {
				return fmt.Errorf("token recipe %s: mask row %d has width %d", r.ID, i, len(row))
			}
			for _, item := range row {
				if item == r.Blank {
					return fmt.Errorf("token recipe %s: mask names the blank token", r.ID)
				}
			}
		}
	}
	return nil
}

// Match returns the result when g holds exactly one blank token and the rest
// of the grid satisfies the recipe.
func (r *Recipe) Match(g Grid) (items.Stack, bool) {
	rest, ok := withoutBlank(g, r.Blank)
	if !ok {
		return items.Stack{}, false
	}
	if len(r.Mask) > 0 {
		if !r.matchShaped(rest) {
			return items.Stack{}, false
		}
	} else if !items.Compare(r.Loose, contents(rest)) {
		return items.Stack{}, false
	}
	return items.Clone([]items.Stack{r.Result})[0], true
}

// withoutBlank clears the single blank token slot; more or fewer than one
// blank is no match.
func withoutBlank(g Grid, blank string) (Grid, bool) {
	found := 0
	for y := range g {
		for x := range g[y] {
			if !g[y][x].Empty() && g[y][x].Item == blank {
				found++
				g[y][x] = items.Stack{}
			}
		}
	}
	return g, found == 1
}

func (r *Recipe) matchShaped(g Grid) bool {
	h, w := len(r.Mask), len(r.Mask[0])
	for oy := 0; oy+h <= Size; oy++ {
		for ox := 0; ox+w <= Size; ox++ {
			if r.fitsAt(g, ox, oy, false) || r.fitsAt(g, ox, oy, true) {
				return true
			}
		}
	}
	return false
}

func (r *Recipe) fitsAt(g Grid, ox, oy int, mirrored bool) bool {
	h, w := len(r.Mask), len(r.Mask[0])
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			want := ""
			if mx, my := x-ox, y-oy; mx >= 0 && mx < w && my >= 0 && my < h {
				if mirrored {
					mx = w - 1 - mx
				}
				want = r.Mask[my][mx]
			}
			slot := g[y][x]
			if want == "" {
				if !slot.Empty() {
					return false
				}
				continue
			}
			if slot.Empty() || slot.Item != want {
				return false
			}
		}
	}
	return true
}

func contents(g Grid) []items.Stack {
	var out []items.Stack
	for y := range g {
		for x := range g[y] {
			out = append(out, g[y][x])
		}
	}
	return items.Sum(out)
}

// Book is an immutable, id-ordered set of token recipes.
type Book struct {
	recipes []*Recipe
}

func NewBook(recipes []*Recipe) (*Book, error) {
	seen := map[string]bool{}
	out := make([]*Recipe, 0, len(recipes))
	for _, r := range recipes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("token recipe %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return &Book{recipes: out}, nil
}

func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.recipes)
}

// Recipes returns the recipes in id order.
func (b *Book) Recipes() []*Recipe {
	if b == nil {
		return nil
	}
	return append([]*Recipe(nil), b.recipes...)
}

// Find returns the first recipe, by id, that matches g.
func (b *Book) Find(g Grid) (*Recipe, items.Stack, bool) {
	if b == nil {
		return nil, items.Stack{}, false
	}
	for _, r := range b.recipes {
		if res, ok := r.Match(g); ok {
			return r, res, true
		}
	}
	return nil, items.Stack{}, false
}
