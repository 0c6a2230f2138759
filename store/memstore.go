// Package store provides proposal store implementations satisfying the
// engine's compare and swap contract. The in-memory store is the reference
// implementation used throughout the tests; boltstore holds the durable
// variant.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/accord-one/accord/engine"
	"github.com/accord-one/accord/errors"
)

// MemStore is an in-memory engine.ProposalStore. It is safe for concurrent
// use and provides read-your-writes consistency trivially. Records handed
// out and taken in are deep copied, so callers can never mutate stored state
// directly.
type MemStore struct {
	mu        sync.RWMutex
	proposals map[engine.ProposalID]*engine.Proposal
	order     []engine.ProposalID
}

var _ engine.ProposalStore = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		proposals: make(map[engine.ProposalID]*engine.Proposal),
	}
}

func (s *MemStore) Get(_ context.Context, id engine.ProposalID) (*engine.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "proposal %q", id)
	}
	return p.Copy(), nil
}

func (s *MemStore) Create(_ context.Context, p *engine.Proposal) (engine.ProposalID, error) {
	rec := p.Copy()
	rec.ID = engine.ProposalID(uuid.NewString())
	rec.Version = 0
	if err := rec.Validate(); err != nil {
		return "", errors.Wrap(err, "invalid proposal")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[rec.ID]; exists {
		return "", errors.Wrapf(errors.ErrDuplicate, "proposal %q", rec.ID)
	}
	s.proposals[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.ID, nil
}

func (s *MemStore) CompareAndSwap(_ context.Context, id engine.ProposalID, expectedVersion int64, mutate func(p *engine.Proposal) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.proposals[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "proposal %q", id)
	}
	if cur.Version != expectedVersion {
		return errors.Wrapf(errors.ErrConflict, "version is %d, expected %d", cur.Version, expectedVersion)
	}

	next := cur.Copy()
	if err := mutate(next); err != nil {
		return err
	}
	next.ID = cur.ID
	next.Version = expectedVersion + 1
	if err := next.Validate(); err != nil {
		return errors.Wrap(err, "invalid mutation")
	}
	s.proposals[id] = next
	return nil
}

func (s *MemStore) Query(_ context.Context, f engine.Filter) ([]*engine.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.Proposal
	for _, id := range s.order {
		if p := s.proposals[id]; f.Match(p) {
			out = append(out, p.Copy())
		}
	}
	return out, nil
}
