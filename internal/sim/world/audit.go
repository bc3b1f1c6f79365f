package world

import (
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/matcher"
)

// AssemblyRecord is one assembly or token-craft attempt, successful or not.
type AssemblyRecord struct {
	Time     string        `json:"time"`
	WorldID  string        `json:"world_id"`
	Rev      uint64        `json:"rev"`
	Op       string        `json:"op"`
	Actor    string        `json:"actor"`
	RecipeID string        `json:"recipe_id,omitempty"`
	Pos      [3]int        `json:"pos"`
	Code     string        `json:"code,omitempty"`
	Anchor   *[3]int       `json:"anchor,omitempty"`
	Finger   string        `json:"finger,omitempty"`
	EntityID string        `json:"entity_id,omitempty"`
	Missing  []items.Stack `json:"missing,omitempty"`
	Stats    matcher.Stats `json:"stats"`
}

// AssemblyRecorder receives every AssemblyRecord. Errors are logged and do
// not affect the outcome.
type AssemblyRecorder interface {
	RecordAssembly(AssemblyRecord) error
}

func (w *World) record(rec AssemblyRecord) {
	rec.Time = w.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	rec.WorldID = w.cfg.ID
	for _, r := range w.recorders {
		if err := r.RecordAssembly(rec); err != nil {
			w.logger.Printf("record assembly: %v", err)
		}
	}
}
