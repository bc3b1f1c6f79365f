// Package world is the workshop: a grid that actors build in, the recipe
// registry they assemble against, their holdings and the entities their
// assemblies spawn.
package world

import (
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/payload"
	"voxelforge.ai/internal/sim/recipes"
)

type Config struct {
	ID string

	// Consume controls whether a successful assembly clears the matched
	// cells and takes the requirements from the actor.
	Consume bool

	// StarterItems are granted on Join.
	StarterItems []items.Stack
}

type Entity struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	RecipeID string      `json:"recipe_id"`
	Pos      grid.Vec3i  `json:"pos"`
	Payload  payload.Doc `json:"payload,omitempty"`
	Rev      uint64      `json:"rev"`
}

type World struct {
	cfg      Config
	catalogs *catalogs.Catalogs
	grid     *grid.Store
	registry *recipes.Registry

	metrics   *Metrics
	recorders []AssemblyRecorder
	logger    *log.Logger
	now       func() time.Time

	// mu orders mutations; probes share it for reading.
	mu         sync.RWMutex
	rev        uint64
	actors     map[string][]items.Stack
	nextActor  uint64
	entities   map[string]*Entity
	nextEntity uint64
}

type Option func(*World)

func WithMetrics(m *Metrics) Option { return func(w *World) { w.metrics = m } }

func WithRecorder(r AssemblyRecorder) Option {
	return func(w *World) {
		if r != nil {
			w.recorders = append(w.recorders, r)
		}
	}
}

func WithLogger(l *log.Logger) Option { return func(w *World) { w.logger = l } }

func WithClock(now func() time.Time) Option { return func(w *World) { w.now = now } }

func New(cfg Config, cats *catalogs.Catalogs, reg *recipes.Registry, opts ...Option) *World {
	if cfg.ID == "" {
		cfg.ID = "workshop"
	}
	w := &World{
		cfg:      cfg,
		catalogs: cats,
		grid:     grid.NewStore(cats.Blocks),
		registry: reg,
		logger:   log.New(io.Discard, "", 0),
		now:      time.Now,
		actors:   map[string][]items.Stack{},
		entities: map[string]*Entity{},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *World) ID() string                   { return w.cfg.ID }
func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }
func (w *World) Registry() *recipes.Registry  { return w.registry }

// Grid exposes the store for read access. Writes go through SetCell.
func (w *World) Grid() grid.Reader { return w.grid }

func (w *World) Rev() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rev
}

// SetCell places or replaces a cell. Unknown blocks, illegal states and
// payloads on non-container blocks are rejected.
func (w *World) SetCell(pos grid.Vec3i, c grid.Cell) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.grid.SetCell(pos, c); err != nil {
		return err
	}
	w.rev++
	return nil
}

// Join registers a new actor and grants the starter items.
func (w *World) Join() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextActor++
	id := fmt.Sprintf("A%d", w.nextActor)
	w.actors[id] = items.Sum(w.cfg.StarterItems)
	w.rev++
	return id
}

// Give adds stacks to an actor's holdings and returns the new total.
// Items missing from a non-empty item catalog are rejected.
func (w *World) Give(actorID string, stacks []items.Stack) ([]items.Stack, error) {
	if actorID == "" {
		return nil, fmt.Errorf("give: missing actor")
	}
	if defs := w.catalogs.Items.Defs; len(defs) > 0 {
		for _, s := range stacks {
			if s.Empty() {
				continue
			}
			if _, ok := defs[s.Item]; !ok {
				return nil, fmt.Errorf("give: unknown item %s", s.Item)
			}
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	held := items.Sum(append(w.actors[actorID], stacks...))
	w.actors[actorID] = held
	w.rev++
	return items.Clone(held), nil
}

func (w *World) Holdings(actorID string) []items.Stack {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return items.Clone(w.actors[actorID])
}

// Entities returns spawned entities in id order.
func (w *World) Entities() []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Entity, 0, len(w.entities))
	for _, e := range w.entities {
		c := *e
		c.Payload = e.Payload.Clone()
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// spawnLocked records a new entity. Caller holds mu.
func (w *World) spawnLocked(r *recipes.Recipe, at grid.Vec3i, extra payload.Doc) *Entity {
	w.nextEntity++
	res := r.Result()
	e := &Entity{
		ID:       fmt.Sprintf("E%d", w.nextEntity),
		Type:     res.Type,
		RecipeID: r.ID(),
		Pos:      at,
		Payload:  payload.Merge(res.Payload, extra),
		Rev:      w.rev,
	}
	w.entities[e.ID] = e
	return e
}
