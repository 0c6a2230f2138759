package engine

import (
	"sync"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/errors"
)

// OwnerRegistry tracks the live owner set used to parameterize new treasury
// proposals. Proposals snapshot the parameters at creation time; changing
// the registry afterwards affects future proposals only and never
// retroactively authorizes or de-authorizes one already in flight.
type OwnerRegistry struct {
	mu        sync.RWMutex
	owners    []accord.Address
	threshold uint32
}

// NewOwnerRegistry returns a registry with the given initial owner set.
func NewOwnerRegistry(owners []accord.Address, threshold uint32) (*OwnerRegistry, error) {
	params := BinaryThresholdParams{Owners: owners, Threshold: threshold}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	snap := params.Copy()
	return &OwnerRegistry{
		owners:    snap.Owners,
		threshold: snap.Threshold,
	}, nil
}

// AddOwner extends the owner set.
func (r *OwnerRegistry) AddOwner(a accord.Address) error {
	if err := a.Validate(); err != nil {
		return errors.Wrap(err, "owner")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.owners {
		if o.Equals(a) {
			return errors.Wrapf(errors.ErrDuplicate, "owner %s", a)
		}
	}
	if len(r.owners) >= maxOwners {
		return errors.Wrapf(errors.ErrState, "owners must not exceed: %d", maxOwners)
	}
	r.owners = append(r.owners, a.Clone())
	return nil
}

// RemoveOwner shrinks the owner set. When the threshold would exceed the
// remaining owner count it is clamped down, mirroring how owner removal
// behaves on the treasury contract. The last owner cannot be removed.
func (r *OwnerRegistry) RemoveOwner(a accord.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, o := range r.owners {
		if o.Equals(a) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errors.Wrapf(errors.ErrNotFound, "owner %s", a)
	}
	if len(r.owners) == 1 {
		return errors.Wrap(errors.ErrState, "cannot remove last owner")
	}
	r.owners = append(r.owners[:idx], r.owners[idx+1:]...)
	if r.threshold > uint32(len(r.owners)) {
		r.threshold = uint32(len(r.owners))
	}
	return nil
}

// SetThreshold changes the required approval count for future proposals.
func (r *OwnerRegistry) SetThreshold(n uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 || int(n) > len(r.owners) {
		return errors.Wrapf(errors.ErrInput, "threshold must be between 1 and %d", len(r.owners))
	}
	r.threshold = n
	return nil
}

// Snapshot returns an immutable copy of the current parameters, suitable for
// embedding into a new proposal.
func (r *OwnerRegistry) Snapshot() BinaryThresholdParams {
	r.mu.RLock()
	defer r.mu.RUnlock()
	params := BinaryThresholdParams{Owners: r.owners, Threshold: r.threshold}
	return *params.Copy()
}
