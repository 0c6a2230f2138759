package engine

import (
	"context"
	"time"

	"github.com/accord-one/accord/audit"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/settle"
)

// Reconciler repairs proposals whose durable state and settlement outcome
// diverged: the coordinator settled successfully but could not persist the
// terminal state. An already settled external action cannot be undone, so
// the only correct repair is to force the stored terminal state to match
// observed settlement reality.
//
// The reconciler runs only when invoked; the engine starts no background
// loops.
type Reconciler struct {
	store      ProposalStore
	settlement settle.Settlement
	sink       audit.Sink
	now        func() time.Time
}

// NewReconciler returns a reconciler over the given collaborators.
func NewReconciler(store ProposalStore, settlement settle.Settlement, sink audit.Sink) *Reconciler {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Reconciler{
		store:      store,
		settlement: settlement,
		sink:       sink,
		now:        time.Now,
	}
}

// Repair queries the settlement collaborator for the observed outcome of the
// receipt and fixes the proposal's terminal state accordingly.
//
// A confirmed settlement forces the proposal to executed, regardless of what
// state it drifted into meanwhile. A failed settlement means the action
// never took effect and the proposal stays retryable. A still pending
// settlement is reported as errors.ErrTransient; repair again later.
func (r *Reconciler) Repair(ctx context.Context, id ProposalID, receipt *ExecutionReceipt) error {
	if receipt == nil || receipt.Ref == "" {
		return errors.Wrap(errors.ErrEmpty, "receipt")
	}

	conf, err := r.settlement.Status(ctx, &settle.Receipt{Ref: receipt.Ref})
	if err != nil {
		return errors.Wrap(err, "settlement status")
	}

	switch conf {
	case settle.ConfirmationPending:
		return errors.Wrapf(errors.ErrTransient, "settlement %s still pending", receipt.Ref)

	case settle.ConfirmationFailed:
		// The action never took effect. The proposal keeps its
		// endorsements and stays retryable; nothing to repair.
		log.Infof("settlement %s of proposal %s failed, proposal stays retryable", receipt.Ref, id)
		return nil

	case settle.ConfirmationConfirmed:
		return r.forceExecuted(ctx, id, receipt)
	}
	return errors.Wrapf(errors.ErrHuman, "unhandled confirmation %d", conf)
}

func (r *Reconciler) forceExecuted(ctx context.Context, id ProposalID, receipt *ExecutionReceipt) error {
	for attempt := 0; ; attempt++ {
		p, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.State == StateExecuted {
			if p.Receipt != nil && p.Receipt.Ref != receipt.Ref {
				// Two settlements observed for one proposal. This
				// cannot be repaired automatically and must page a
				// human.
				log.Criticalf("proposal %s executed as %s but settlement %s also confirmed", id, p.Receipt.Ref, receipt.Ref)
				return errors.Wrapf(errors.ErrReconcile, "proposal %s carries receipt %s, settlement %s also confirmed", id, p.Receipt.Ref, receipt.Ref)
			}
			return nil
		}

		err = r.store.CompareAndSwap(ctx, id, p.Version, func(cur *Proposal) error {
			cur.State = StateExecuted
			cur.Receipt = receipt
			cur.RejectReason = ""
			return nil
		})
		switch {
		case err == nil:
			publish(ctx, r.sink, eventProposalExecuted(id, receipt))
			log.Infof("proposal %s repaired to executed: ref=%s", id, receipt.Ref)
			return nil
		case errors.ErrConflict.Is(err) && attempt < casRetryBudget:
			continue
		default:
			return err
		}
	}
}
