// Package recipes binds patterns to results and requirements and keeps the
// live set of them in a Registry.
package recipes

import (
	"fmt"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/matcher"
	"voxelforge.ai/internal/sim/logic/pattern"
	"voxelforge.ai/internal/sim/payload"
)

// Result describes what a successful assembly spawns.
type Result struct {
	Type    string      `json:"type"`
	Payload payload.Doc `json:"payload,omitempty"`
}

type Recipe struct {
	id           string
	pattern      *pattern.Pattern
	result       Result
	requirements []items.Stack
}

// New validates and freezes a recipe. Requirements are summed; empty
// stacks are dropped.
func New(id string, p *pattern.Pattern, result Result, requirements []items.Stack) (*Recipe, error) {
	if id == "" {
		return nil, fmt.Errorf("recipe: missing id")
	}
	if p == nil {
		return nil, fmt.Errorf("recipe %s: missing pattern", id)
	}
	if result.Type == "" {
		return nil, fmt.Errorf("recipe %s: missing result type", id)
	}
	return &Recipe{
		id:           id,
		pattern:      p,
		result:       Result{Type: result.Type, Payload: result.Payload.Clone()},
		requirements: items.Sum(requirements),
	}, nil
}

func (r *Recipe) ID() string                { return r.id }
func (r *Recipe) Pattern() *pattern.Pattern { return r.pattern }

// Result returns a copy; callers may modify the payload.
func (r *Recipe) Result() Result {
	return Result{Type: r.result.Type, Payload: r.result.Payload.Clone()}
}

// Requirements returns a copy of the summed non-spatial requirements.
func (r *Recipe) Requirements() []items.Stack {
	return items.Clone(r.requirements)
}

// Document is the serializable form of a recipe.
type Document struct {
	ID           string           `json:"id"`
	Pattern      pattern.Document `json:"pattern"`
	Result       Result           `json:"result"`
	Requirements []items.Stack    `json:"requirements,omitempty"`
}

func (r *Recipe) Document() Document {
	return Document{
		ID:           r.id,
		Pattern:      r.pattern.Document(),
		Result:       r.Result(),
		Requirements: r.Requirements(),
	}
}

func FromDocument(d Document, blocks catalogs.BlockCatalog) (*Recipe, error) {
	p, err := pattern.FromDocument(d.Pattern, blocks)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", d.ID, err)
	}
	return New(d.ID, p, d.Result, d.Requirements)
}

// FindPlacement searches for the recipe's pattern around at. It never
// modifies the grid.
func FindPlacement(r *Recipe, g grid.Reader, at grid.Vec3i) (matcher.Placement, bool) {
	if r == nil {
		return matcher.Placement{}, false
	}
	return matcher.Find(g, at, r.pattern)
}

// CheckRequirements compares held items, summed, against the recipe's
// requirements and returns what is missing.
func CheckRequirements(r *Recipe, held []items.Stack) ([]items.Stack, bool) {
	if r == nil {
		return nil, false
	}
	missing := items.Missing(r.requirements, held)
	return missing, len(missing) == 0
}
