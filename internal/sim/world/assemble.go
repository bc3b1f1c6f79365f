package world

import (
	"voxelforge.ai/internal/protocol"
	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/matcher"
	"voxelforge.ai/internal/sim/logic/tokencraft"
	"voxelforge.ai/internal/sim/payload"
	"voxelforge.ai/internal/sim/recipes"
)

const (
	OpProbe      = "PROBE"
	OpAssemble   = "ASSEMBLE"
	OpCraftToken = "CRAFT_TOKEN"
)

// ProbeResult reports where a recipe's structure sits, without changing
// anything. Code is empty on success.
type ProbeResult struct {
	Code      string
	RecipeID  string
	Placement matcher.Placement
	Cells     []grid.Vec3i
	Stats     matcher.Stats
}

func (r ProbeResult) OK() bool { return r.Code == "" }

type AssembleResult struct {
	Code      string
	RecipeID  string
	Placement matcher.Placement
	Cells     []grid.Vec3i
	Missing   []items.Stack
	Holdings  []items.Stack
	Entity    *Entity
	Stats     matcher.Stats
}

func (r AssembleResult) OK() bool { return r.Code == "" }

type TokenResult struct {
	Code     string
	RecipeID string
	Token    items.Stack
	Missing  []items.Stack
	Holdings []items.Stack
}

func (r TokenResult) OK() bool { return r.Code == "" }

// Probe searches for recipeID around at. An empty recipeID tries every
// loaded recipe in id order and reports the first that fits.
func (w *World) Probe(recipeID string, at grid.Vec3i) ProbeResult {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var res ProbeResult
	if recipeID != "" {
		r, ok := w.registry.Lookup(recipeID)
		if !ok {
			res = ProbeResult{Code: protocol.ErrInvalidTarget, RecipeID: recipeID}
		} else {
			res = w.probeLocked(r, at)
		}
	} else {
		res = ProbeResult{Code: protocol.ErrNoMatch}
		for _, r := range w.registry.Current().Recipes() {
			res = w.probeLocked(r, at)
			if res.OK() {
				break
			}
		}
		if !res.OK() {
			res.RecipeID = ""
		}
	}
	w.metrics.outcome(OpProbe, res.Code)
	return res
}

func (w *World) probeLocked(r *recipes.Recipe, at grid.Vec3i) ProbeResult {
	pl, ok, st := matcher.FindWithStats(w.grid, at, r.Pattern())
	w.metrics.search(st)
	if !ok {
		return ProbeResult{Code: protocol.ErrNoMatch, RecipeID: r.ID(), Stats: st}
	}
	return ProbeResult{RecipeID: r.ID(), Placement: pl, Cells: pl.Cells(r.Pattern()), Stats: st}
}

// Assemble finds recipeID's structure around at and, if the actor holds
// the requirements, clears the structure, takes the requirements and
// spawns the result at the anchor. With Consume off only the entity is
// spawned.
func (w *World) Assemble(actorID, recipeID string, at grid.Vec3i) AssembleResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := w.assembleLocked(actorID, recipeID, at)
	w.metrics.outcome(OpAssemble, res.Code)
	w.metrics.setEntities(len(w.entities))

	rec := AssemblyRecord{
		Rev:      w.rev,
		Op:       OpAssemble,
		Actor:    actorID,
		RecipeID: recipeID,
		Pos:      at.Array(),
		Code:     res.Code,
		Missing:  res.Missing,
		Stats:    res.Stats,
	}
	if res.Code != protocol.ErrNoMatch && res.Code != protocol.ErrInvalidTarget {
		a := res.Placement.Anchor.Array()
		rec.Anchor = &a
		rec.Finger = res.Placement.Finger.String()
	}
	if res.Entity != nil {
		rec.EntityID = res.Entity.ID
	}
	w.record(rec)
	return res
}

func (w *World) assembleLocked(actorID, recipeID string, at grid.Vec3i) AssembleResult {
	r, ok := w.registry.Lookup(recipeID)
	if !ok {
		return AssembleResult{Code: protocol.ErrInvalidTarget, RecipeID: recipeID}
	}
	pl, ok, st := matcher.FindWithStats(w.grid, at, r.Pattern())
	w.metrics.search(st)
	if !ok {
		return AssembleResult{Code: protocol.ErrNoMatch, RecipeID: recipeID, Stats: st}
	}
	cells := pl.Cells(r.Pattern())
	held := w.actors[actorID]
	if missing, ok := recipes.CheckRequirements(r, held); !ok {
		return AssembleResult{
			Code:      protocol.ErrNoResource,
			RecipeID:  recipeID,
			Placement: pl,
			Cells:     cells,
			Missing:   missing,
			Holdings:  items.Clone(held),
			Stats:     st,
		}
	}

	if w.cfg.Consume {
		for _, pos := range cells {
			if err := w.grid.Clear(pos); err != nil {
				w.logger.Printf("assemble %s: clear %s: %v", r.ID(), pos, err)
				return AssembleResult{Code: protocol.ErrInternal, RecipeID: recipeID, Placement: pl, Cells: cells, Stats: st}
			}
		}
		rest, _ := items.Subtract(held, r.Requirements())
		w.actors[actorID] = rest
	}
	w.rev++
	e := w.spawnLocked(r, pl.Anchor, payload.Doc{
		"recipe_id": r.ID(),
		"anchor":    pl.Anchor.Array(),
		"finger":    pl.Finger.String(),
	})
	w.logger.Printf("assembled %s for %s at %s facing %s -> %s", r.ID(), actorID, pl.Anchor, pl.Finger, e.ID)
	out := *e
	out.Payload = e.Payload.Clone()
	return AssembleResult{
		RecipeID:  recipeID,
		Placement: pl,
		Cells:     cells,
		Holdings:  items.Clone(w.actors[actorID]),
		Entity:    &out,
		Stats:     st,
	}
}

// CraftToken matches g against the loaded token recipes. The actor must
// hold every stack in the grid; those are consumed and the token added.
func (w *World) CraftToken(actorID string, g tokencraft.Grid) TokenResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := w.craftLocked(actorID, g)
	w.metrics.outcome(OpCraftToken, res.Code)
	w.record(AssemblyRecord{
		Rev:      w.rev,
		Op:       OpCraftToken,
		Actor:    actorID,
		RecipeID: res.RecipeID,
		Code:     res.Code,
		Missing:  res.Missing,
	})
	return res
}

func (w *World) craftLocked(actorID string, g tokencraft.Grid) TokenResult {
	r, token, ok := w.registry.Current().Tokens().Find(g)
	if !ok {
		return TokenResult{Code: protocol.ErrNoMatch}
	}
	var used []items.Stack
	for y := range g {
		for x := range g[y] {
			used = append(used, g[y][x])
		}
	}
	held := w.actors[actorID]
	rest, ok := items.Subtract(held, used)
	if !ok {
		return TokenResult{
			Code:     protocol.ErrNoResource,
			RecipeID: r.ID,
			Missing:  items.Missing(used, held),
			Holdings: items.Clone(held),
		}
	}
	rest = items.Sum(append(rest, token))
	w.actors[actorID] = rest
	w.rev++
	return TokenResult{RecipeID: r.ID, Token: token, Holdings: items.Clone(rest)}
}
