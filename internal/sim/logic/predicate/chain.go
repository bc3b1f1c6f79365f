package predicate

import (
	"errors"

	"voxelforge.ai/internal/sim/payload"
)

// Chain folds sources into one predicate with Or, left to right. It is how
// alternate blocks or states are accepted for a single pattern symbol.
type Chain struct {
	members []Source
}

func NewChain(members ...Source) *Chain {
	return &Chain{members: append([]Source(nil), members...)}
}

func (c *Chain) Or(s Source) *Chain {
	c.members = append(c.members, s)
	return c
}

// Err returns the first member's authoring error. Members that cannot hold
// one, such as fixed predicates, are skipped.
func (c *Chain) Err() error {
	for _, m := range c.members {
		e, ok := m.(interface{ Err() error })
		if !ok {
			continue
		}
		if err := e.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) Build() (*Predicate, error) {
	if len(c.members) == 0 {
		return nil, errors.New("predicate chain: no members")
	}
	var out *Predicate
	for _, m := range c.members {
		p, err := m.Build()
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = p
			continue
		}
		out = out.Or(p)
	}
	return out, nil
}

// NaivePayload is the union of every member's payload references.
func (c *Chain) NaivePayload() payload.Doc {
	docs := make([]payload.Doc, 0, len(c.members))
	for _, m := range c.members {
		docs = append(docs, m.NaivePayload())
	}
	return payload.Merge(docs...)
}
