// Package loader reads recipe definitions from a directory, validates them
// against the definition schema and compiles them against the block catalog.
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/items"
	"voxelforge.ai/internal/sim/logic/pattern"
	"voxelforge.ai/internal/sim/logic/predicate"
	"voxelforge.ai/internal/sim/logic/tokencraft"
	"voxelforge.ai/internal/sim/recipes"
)

//go:embed definition.schema.json
var definitionSchema string

var schema = jsonschema.MustCompileString("definition.schema.json", definitionSchema)

const (
	KindStructure = "structure"
	KindToken     = "token"
)

// Definition is one recipe file.
type Definition struct {
	ID           string                   `json:"id"`
	Kind         string                   `json:"kind,omitempty"`
	Layers       [][]string               `json:"layers,omitempty"`
	Symbols      map[string]predicate.Doc `json:"symbols,omitempty"`
	Orientations string                   `json:"orientations,omitempty"`
	Result       *recipes.Result          `json:"result,omitempty"`
	Requirements []items.Stack            `json:"requirements,omitempty"`
	Token        *TokenDef                `json:"token,omitempty"`
}

type TokenDef struct {
	Blank  string        `json:"blank"`
	Mask   [][]string    `json:"mask,omitempty"`
	Loose  []items.Stack `json:"loose,omitempty"`
	Result items.Stack   `json:"result"`
}

// Options adjust how definitions compile.
type Options struct {
	// Orientations is used for definitions that do not name a policy.
	Orientations string
}

// LoadError ties a failure to the file that caused it.
type LoadError struct {
	File string
	Err  error
}

func (e LoadError) Error() string { return e.File + ": " + e.Err.Error() }
func (e LoadError) Unwrap() error { return e.Err }

// Result is everything a directory load produced. Files that failed are
// listed in Errors and contribute nothing else.
type Result struct {
	Recipes []*recipes.Recipe
	Tokens  []*tokencraft.Recipe
	Files   int
	Errors  []LoadError
}

// Set builds a registry generation from the loaded definitions.
func (r Result) Set() (*recipes.Set, error) {
	return recipes.NewSet(r.Recipes, r.Tokens)
}

// LoadDir reads every *.json file under dir in lexical order. Only an
// unreadable directory fails the whole load; a duplicate id is reported
// against the later file.
func LoadDir(dir string, blocks catalogs.BlockCatalog, opts Options) (Result, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("load definitions %s: %w", dir, err)
	}
	sort.Strings(files)

	var out Result
	seen := map[string]string{}
	for _, path := range files {
		rel, _ := filepath.Rel(dir, path)
		out.Files++
		raw, err := os.ReadFile(path)
		if err != nil {
			out.Errors = append(out.Errors, LoadError{File: rel, Err: err})
			continue
		}
		p, err := Parse(raw, blocks, opts)
		if err != nil {
			out.Errors = append(out.Errors, LoadError{File: rel, Err: err})
			continue
		}
		if prev, dup := seen[p.ID()]; dup {
			out.Errors = append(out.Errors, LoadError{File: rel, Err: fmt.Errorf("id %q already defined in %s", p.ID(), prev)})
			continue
		}
		seen[p.ID()] = rel
		if p.Recipe != nil {
			out.Recipes = append(out.Recipes, p.Recipe)
		} else {
			out.Tokens = append(out.Tokens, p.Token)
		}
	}
	return out, nil
}

// Parsed holds exactly one compiled definition.
type Parsed struct {
	Recipe *recipes.Recipe
	Token  *tokencraft.Recipe
}

func (p Parsed) ID() string {
	if p.Recipe != nil {
		return p.Recipe.ID()
	}
	if p.Token != nil {
		return p.Token.ID
	}
	return ""
}

// Parse validates one definition document and compiles it.
func Parse(raw []byte, blocks catalogs.BlockCatalog, opts Options) (Parsed, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Parsed{}, fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Parsed{}, fmt.Errorf("schema: %w", err)
	}
	var def Definition
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return Parsed{}, fmt.Errorf("decode: %w", err)
	}
	if def.Orientations == "" {
		def.Orientations = opts.Orientations
	}
	switch def.Kind {
	case "", KindStructure:
		r, err := def.structure(blocks)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Recipe: r}, nil
	case KindToken:
		t, err := def.token()
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Token: t}, nil
	}
	return Parsed{}, fmt.Errorf("unknown kind %q", def.Kind)
}

func (d Definition) structure(blocks catalogs.BlockCatalog) (*recipes.Recipe, error) {
	if d.Token != nil {
		return nil, fmt.Errorf("recipe %s: token block on a structure recipe", d.ID)
	}
	if len(d.Layers) == 0 || d.Result == nil {
		return nil, fmt.Errorf("recipe %s: structure recipes need layers and result", d.ID)
	}
	return recipes.FromDocument(recipes.Document{
		ID: d.ID,
		Pattern: pattern.Document{
			Layers:       d.Layers,
			Symbols:      d.Symbols,
			Orientations: d.Orientations,
		},
		Result:       *d.Result,
		Requirements: d.Requirements,
	}, blocks)
}

func (d Definition) token() (*tokencraft.Recipe, error) {
	if d.Token == nil || len(d.Layers) > 0 || d.Result != nil {
		return nil, fmt.Errorf("token recipe %s: needs a token block and nothing else", d.ID)
	}
	t := &tokencraft.Recipe{
		ID:     d.ID,
		Blank:  d.Token.Blank,
		Mask:   d.Token.Mask,
		Loose:  d.Token.Loose,
		Result: d.Token.Result,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
