package engine

import (
	"context"
	"time"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/audit"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/settle"
)

// Coordinator performs the authorized action of a proposal exactly once: it
// submits to the settlement collaborator and persists the terminal state
// with a single compare and swap.
//
// The hard invariant is at most one successful settlement per proposal. The
// version re-check before submission and the terminal swap afterwards narrow
// the double-settlement window to the one residual case that is detected
// only after the fact and reported as a reconciliation requirement.
type Coordinator struct {
	store      ProposalStore
	settlement settle.Settlement
	sink       audit.Sink
	now        func() time.Time
}

// NewCoordinator returns a coordinator using the given collaborators.
func NewCoordinator(store ProposalStore, settlement settle.Settlement, sink audit.Sink, now func() time.Time) *Coordinator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:      store,
		settlement: settlement,
		sink:       sink,
		now:        now,
	}
}

// Execute settles the proposal's action and persists the executed state.
//
// A submission failure leaves the proposal untouched and retryable. A
// persistence conflict after a successful submission cannot be undone on the
// settlement side; the receipt is returned together with errors.ErrReconcile
// and must be repaired out of band.
func (co *Coordinator) Execute(ctx context.Context, p *Proposal) (*ExecutionReceipt, error) {
	cur, err := co.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if cur.Terminal() {
		return nil, errors.Wrapf(errors.ErrState, "proposal is %s", cur.State)
	}
	if cur.Version != p.Version {
		return nil, errors.Wrapf(errors.ErrConflict, "version is %d, expected %d", cur.Version, p.Version)
	}

	act := settle.Action{
		ProposalID: string(p.ID),
		Payload:    p.Payload,
	}
	if p.SubjectAmount != nil {
		a := p.SubjectAmount.Clone()
		act.Amount = &a
	}

	rcpt, err := co.settlement.Submit(ctx, act)
	if err != nil {
		return nil, errors.Wrap(err, "settlement submit")
	}

	receipt := &ExecutionReceipt{
		Ref:        rcpt.Ref,
		ExecutedAt: accord.AsUnixTime(co.now()),
	}
	err = co.store.CompareAndSwap(ctx, p.ID, p.Version, func(cur *Proposal) error {
		cur.State = StateExecuted
		cur.Receipt = receipt
		return nil
	})
	if err != nil {
		publish(ctx, co.sink, eventReconciliationRequired(p.ID, receipt, accord.AsUnixTime(co.now())))
		log.Criticalf("proposal %s settled as %s but terminal state could not be persisted: %v", p.ID, receipt.Ref, err)
		return receipt, errors.Wrapf(errors.ErrReconcile, "proposal %s settled as %s", p.ID, receipt.Ref)
	}

	publish(ctx, co.sink, eventProposalExecuted(p.ID, receipt))
	log.Infof("proposal %s executed: ref=%s", p.ID, receipt.Ref)
	return receipt, nil
}
