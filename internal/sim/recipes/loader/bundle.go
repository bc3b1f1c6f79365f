package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/logic/tokencraft"
	"voxelforge.ai/internal/sim/recipes"
)

const BundleVersion = 1

// Bundle is the compiled form of a definition set. Patterns are stored as
// documents so a reload skips schema validation and source parsing.
type Bundle struct {
	Version int                  `json:"version"`
	Digest  string               `json:"digest"`
	Recipes []recipes.Document   `json:"recipes"`
	Tokens  []*tokencraft.Recipe `json:"tokens,omitempty"`
}

// WriteBundle stores set as zstd-compressed JSON, replacing path atomically.
func WriteBundle(path string, set *recipes.Set) error {
	b := Bundle{Version: BundleVersion, Digest: set.Digest(), Tokens: set.Tokens().Recipes()}
	for _, r := range set.Recipes() {
		b.Recipes = append(b.Recipes, r.Document())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := json.NewEncoder(zw).Encode(b); err != nil {
		_ = zw.Close()
		_ = f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadBundle decodes a bundle and recompiles it against blocks. A digest
// mismatch means the catalog or the code changed since the bundle was
// written.
func ReadBundle(path string, blocks catalogs.BlockCatalog) (*recipes.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var b Bundle
	if err := json.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("bundle %s: unsupported version %d", path, b.Version)
	}
	list := make([]*recipes.Recipe, 0, len(b.Recipes))
	for _, d := range b.Recipes {
		r, err := recipes.FromDocument(d, blocks)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", path, err)
		}
		list = append(list, r)
	}
	set, err := recipes.NewSet(list, b.Tokens)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	if set.Digest() != b.Digest {
		return nil, fmt.Errorf("bundle %s: digest mismatch", path)
	}
	return set, nil
}
