package world

import (
	"fmt"
	"sort"

	"voxelforge.ai/internal/persistence/snapshot"
	"voxelforge.ai/internal/sim/grid"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/payload"
)

// Snapshot captures the grid, holdings and entities at the current rev.
func (w *World) Snapshot() snapshot.SnapshotV1 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Rev: w.rev},
		Palette:  append([]string(nil), w.catalogs.Blocks.Palette...),
		Chunks:   w.grid.ExportChunks(),
		Counters: snapshot.CountersV1{NextEntity: w.nextEntity, NextActor: w.nextActor},
	}
	ids := make([]string, 0, len(w.actors))
	for id := range w.actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := snapshot.ActorV1{ID: id}
		for _, st := range w.actors[id] {
			a.Holdings = append(a.Holdings, snapshot.StackV1{Item: st.Item, Meta: st.Meta.Clone(), Count: st.Count})
		}
		s.Actors = append(s.Actors, a)
	}
	eids := make([]string, 0, len(w.entities))
	for id := range w.entities {
		eids = append(eids, id)
	}
	sort.Strings(eids)
	for _, id := range eids {
		e := w.entities[id]
		s.Entities = append(s.Entities, snapshot.EntityV1{
			ID:       e.ID,
			Type:     e.Type,
			RecipeID: e.RecipeID,
			Pos:      e.Pos.Array(),
			Payload:  e.Payload.Clone(),
			Rev:      e.Rev,
		})
	}
	return s
}

// Restore replaces the world state with s. On error the world is left
// unchanged.
func (w *World) Restore(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("restore: unsupported snapshot version %d", s.Header.Version)
	}
	store := grid.NewStore(w.catalogs.Blocks)
	if err := store.ImportChunks(s.Palette, s.Chunks); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	actors := make(map[string][]items.Stack, len(s.Actors))
	for _, a := range s.Actors {
		var held []items.Stack
		for _, st := range a.Holdings {
			held = append(held, items.Stack{Item: st.Item, Meta: payload.Doc(st.Meta), Count: st.Count})
		}
		actors[a.ID] = items.Sum(held)
	}
	entities := make(map[string]*Entity, len(s.Entities))
	for _, e := range s.Entities {
		entities[e.ID] = &Entity{
			ID:       e.ID,
			Type:     e.Type,
			RecipeID: e.RecipeID,
			Pos:      grid.FromArray(e.Pos),
			Payload:  payload.Doc(e.Payload).Clone(),
			Rev:      e.Rev,
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.grid = store
	w.actors = actors
	w.entities = entities
	w.rev = s.Header.Rev
	w.nextEntity = s.Counters.NextEntity
	w.nextActor = s.Counters.NextActor
	w.metrics.setEntities(len(entities))
	return nil
}

func (w *World) SaveSnapshot(path string) error {
	return snapshot.WriteSnapshot(path, w.Snapshot())
}

func (w *World) LoadSnapshot(path string) error {
	s, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	return w.Restore(s)
}
