package engine

import "context"

// Filter selects proposals in a Query call. Zero valued fields match
// everything.
type Filter struct {
	Kind  ProposalKind
	State ProposalState
}

// Match reports whether the proposal satisfies the filter.
func (f Filter) Match(p *Proposal) bool {
	if f.Kind != KindInvalid && p.Kind != f.Kind {
		return false
	}
	if f.State != StateInvalid && p.State != f.State {
		return false
	}
	return true
}

// ProposalStore is the durable keyed storage for proposal records. It is the
// only shared mutable resource of the engine; all writes go through the
// compare and swap contract, never through direct mutation.
//
// Implementations must provide read-your-writes consistency for a single
// caller's sequential calls, and must assign the committed write order that
// endorsement tallying relies on.
type ProposalStore interface {
	// Get returns a copy of the proposal, or errors.ErrNotFound.
	Get(ctx context.Context, id ProposalID) (*Proposal, error)

	// Create persists a new proposal, assigns its id and returns it. The
	// stored record starts at version 0.
	Create(ctx context.Context, p *Proposal) (ProposalID, error)

	// CompareAndSwap applies the mutation to the current record if and
	// only if its version equals expectedVersion, then increments the
	// version. A version mismatch fails with errors.ErrConflict and
	// leaves the record untouched. An error returned by the mutation
	// callback aborts the swap.
	CompareAndSwap(ctx context.Context, id ProposalID, expectedVersion int64, mutate func(p *Proposal) error) error

	// Query returns copies of all proposals matching the filter.
	Query(ctx context.Context, f Filter) ([]*Proposal, error)
}
