package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := "world_id: forge\norientations: all\nrate_limits:\n  probe_max: 3\nstarter_items:\n  NAIL: 8\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.WorldID != "forge" || got.Orientations != "all" {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.RateLimits.ProbeMax != 3 || got.RateLimits.AssembleMax != Defaults().RateLimits.AssembleMax {
		t.Fatalf("rate limits=%+v", got.RateLimits)
	}
	if got.WatchDebounce() != 250*time.Millisecond {
		t.Fatalf("debounce=%v", got.WatchDebounce())
	}
	if got.StarterItems["NAIL"] != 8 {
		t.Fatalf("starter items=%v", got.StarterItems)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []string{
		"orientations: sideways\n",
		"watch_debounce_ms: -1\n",
		"starter_items:\n  NAIL: 0\n",
		"world_id: [\n",
	}
	for _, body := range cases {
		path := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestDigestTracksValues(t *testing.T) {
	a, b := Defaults(), Defaults()
	if a.Digest() != b.Digest() || len(a.Digest()) != 64 {
		t.Fatalf("digest not stable: %q %q", a.Digest(), b.Digest())
	}
	b.RateLimits.ProbeMax++
	if a.Digest() == b.Digest() {
		t.Fatalf("digest ignores rate limits")
	}
}
