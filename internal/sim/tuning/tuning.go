package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	WorldID        string `yaml:"world_id" json:"world_id"`
	DefinitionsDir string `yaml:"definitions_dir" json:"definitions_dir"`
	CatalogsDir    string `yaml:"catalogs_dir" json:"catalogs_dir"`
	DataDir        string `yaml:"data_dir" json:"data_dir"`

	// Orientations applies to definitions that do not name a policy:
	// "cardinal_up" or "all".
	Orientations string `yaml:"orientations" json:"orientations"`

	WatchDebounceMs   int            `yaml:"watch_debounce_ms" json:"watch_debounce_ms"`
	SnapshotEverySec  int            `yaml:"snapshot_every_sec" json:"snapshot_every_sec"`
	AuditLog          bool           `yaml:"audit_log" json:"audit_log"`
	Index             bool           `yaml:"index" json:"index"`
	ConsumeOnAssemble bool           `yaml:"consume_on_assemble" json:"consume_on_assemble"`
	StarterItems      map[string]int `yaml:"starter_items" json:"starter_items"`

	RateLimits RateLimits `yaml:"rate_limits" json:"rate_limits"`
}

type RateLimits struct {
	WindowMs    int `yaml:"window_ms" json:"window_ms"`
	ProbeMax    int `yaml:"probe_max" json:"probe_max"`
	AssembleMax int `yaml:"assemble_max" json:"assemble_max"`
	SetCellMax  int `yaml:"set_cell_max" json:"set_cell_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		WorldID:           "workshop",
		DefinitionsDir:    "./configs/recipes",
		CatalogsDir:       "./configs",
		DataDir:           "./data",
		Orientations:      "cardinal_up",
		WatchDebounceMs:   250,
		SnapshotEverySec:  60,
		AuditLog:          true,
		Index:             true,
		ConsumeOnAssemble: true,
		RateLimits: RateLimits{
			WindowMs:    1000,
			ProbeMax:    20,
			AssembleMax: 5,
			SetCellMax:  200,
		},
	}
}

// Load reads path over Defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch t.Orientations {
	case "", "cardinal_up", "all":
	default:
		return fmt.Errorf("orientations: unknown policy %q", t.Orientations)
	}
	if t.WatchDebounceMs < 0 || t.SnapshotEverySec < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	for item, n := range t.StarterItems {
		if n <= 0 {
			return fmt.Errorf("starter_items: %s has count %d", item, n)
		}
	}
	return nil
}

func (t Tuning) WatchDebounce() time.Duration {
	return time.Duration(t.WatchDebounceMs) * time.Millisecond
}

func (t Tuning) SnapshotEvery() time.Duration {
	return time.Duration(t.SnapshotEverySec) * time.Second
}

func (t Tuning) RateWindow() time.Duration {
	return time.Duration(t.RateLimits.WindowMs) * time.Millisecond
}

// Digest is the sha256 of the JSON encoding, sent to clients so they can
// tell when server limits change.
func (t Tuning) Digest() string {
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
