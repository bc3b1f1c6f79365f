package recipes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"voxelforge.ai/internal/sim/logic/tokencraft"
)

// Set is one immutable generation of loaded definitions.
type Set struct {
	byID   map[string]*Recipe
	ids    []string
	tokens *tokencraft.Book
	digest string
}

// NewSet indexes recipes by id. Duplicate ids are an error.
func NewSet(recipes []*Recipe, tokens []*tokencraft.Recipe) (*Set, error) {
	s := &Set{byID: make(map[string]*Recipe, len(recipes))}
	for _, r := range recipes {
		if r == nil {
			continue
		}
		if _, dup := s.byID[r.ID()]; dup {
			return nil, fmt.Errorf("recipe %s: duplicate id", r.ID())
		}
		s.byID[r.ID()] = r
		s.ids = append(s.ids, r.ID())
	}
	sort.Strings(s.ids)
	book, err := tokencraft.NewBook(tokens)
	if err != nil {
		return nil, err
	}
	s.tokens = book

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, id := range s.ids {
		if err := enc.Encode(s.byID[id].Document()); err != nil {
			return nil, fmt.Errorf("recipe %s: digest: %w", id, err)
		}
	}
	for _, t := range book.Recipes() {
		if err := enc.Encode(t); err != nil {
			return nil, fmt.Errorf("token recipe %s: digest: %w", t.ID, err)
		}
	}
	s.digest = hex.EncodeToString(h.Sum(nil))
	return s, nil
}

func (s *Set) Lookup(id string) (*Recipe, bool) {
	r, ok := s.byID[id]
	return r, ok
}

func (s *Set) IDs() []string { return append([]string(nil), s.ids...) }
func (s *Set) Len() int      { return len(s.ids) }

// Digest is a sha256 over every definition in id order.
func (s *Set) Digest() string { return s.digest }

func (s *Set) Tokens() *tokencraft.Book { return s.tokens }

// Recipes returns the recipes in id order.
func (s *Set) Recipes() []*Recipe {
	out := make([]*Recipe, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Registry holds the current Set. Readers see either the old or the new
// generation in full; Replace never mutates a published Set.
type Registry struct {
	cur atomic.Pointer[Set]
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty, _ := NewSet(nil, nil)
	r.cur.Store(empty)
	return r
}

// Current returns the published generation.
func (r *Registry) Current() *Set { return r.cur.Load() }

func (r *Registry) Lookup(id string) (*Recipe, bool) { return r.Current().Lookup(id) }

func (r *Registry) IDs() []string { return r.Current().IDs() }

func (r *Registry) Digest() string { return r.Current().Digest() }

// Install publishes s and returns the generation it replaced.
func (r *Registry) Install(s *Set) *Set {
	if s == nil {
		return r.Current()
	}
	return r.cur.Swap(s)
}

// Replace builds a Set from recipes and tokens and publishes it. On error
// the current generation stays in place.
func (r *Registry) Replace(recipes []*Recipe, tokens []*tokencraft.Recipe) error {
	s, err := NewSet(recipes, tokens)
	if err != nil {
		return err
	}
	r.Install(s)
	return nil
}
