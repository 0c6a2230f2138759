package engine_test

import (
	"context"
	"testing"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/accordtest"
	"github.com/accord-one/accord/engine"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/settle"
	"github.com/accord-one/accord/store"
)

// blockingStore wraps a MemStore and fails every CompareAndSwap with a
// version conflict while blocked, simulating a writer that loses every swap.
type blockingStore struct {
	*store.MemStore
	blocked bool
}

func (s *blockingStore) CompareAndSwap(ctx context.Context, id engine.ProposalID, expectedVersion int64, mutate func(p *engine.Proposal) error) error {
	if s.blocked {
		return errors.Wrap(errors.ErrConflict, "lost the swap")
	}
	return s.MemStore.CompareAndSwap(ctx, id, expectedVersion, mutate)
}

// authorizedProposal creates a 1-of-1 treasury proposal that is authorized
// by its creation approval alone.
func authorizedProposal(t *testing.T, ctx context.Context, ctrl *engine.Controller) engine.ProposalID {
	t.Helper()
	alice := accordtest.NewAddress("alice")
	id, err := ctrl.Propose(ctx, engine.CreateProposalMsg{
		Proposer: alice,
		Binary: &engine.BinaryThresholdParams{
			Owners:    []accord.Address{alice},
			Threshold: 1,
		},
		Payload: []byte("transfer"),
	})
	if err != nil {
		t.Fatalf("propose: %+v", err)
	}
	return id
}

// TestExecutePersistenceConflict drives the residual window: settlement
// succeeded but the terminal swap failed. The receipt must surface together
// with a reconciliation error, and the divergence must be audited.
func TestExecutePersistenceConflict(t *testing.T) {
	ctx := context.Background()
	blocking := &blockingStore{MemStore: store.NewMemStore()}
	settlement := &accordtest.Settlement{}
	sink := &accordtest.Sink{}
	ctrl, err := engine.NewController(engine.Options{
		Store:      blocking,
		Settlement: settlement,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("controller: %+v", err)
	}
	id := authorizedProposal(t, ctx, ctrl)

	blocking.blocked = true
	out, err := ctrl.EvaluateAndExecute(ctx, engine.ExecuteMsg{
		ProposalID:      id,
		Actor:           accordtest.NewAddress("alice"),
		ExpectedVersion: engine.CurrentVersion,
	})
	if !errors.ErrReconcile.Is(err) {
		t.Fatalf("want ErrReconcile, got %+v", err)
	}
	if out == nil || out.Receipt == nil || out.Receipt.Ref == "" {
		t.Fatalf("the receipt must surface for repair: %+v", out)
	}
	if settlement.SubmitCount() != 1 {
		t.Fatalf("want one settlement, got %d", settlement.SubmitCount())
	}

	types := sink.TypesSeen()
	if types[len(types)-1] != engine.EventReconciliationRequired {
		t.Fatalf("divergence must be audited: %v", types)
	}

	// The stored record drifted: it still reads active.
	p, err := blocking.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.State != engine.StateActive {
		t.Fatalf("want active, got %s", p.State)
	}
}

func TestRepairConfirmedSettlement(t *testing.T) {
	ctx := context.Background()
	blocking := &blockingStore{MemStore: store.NewMemStore()}
	settlement := &accordtest.Settlement{}
	sink := &accordtest.Sink{}
	ctrl, err := engine.NewController(engine.Options{
		Store:      blocking,
		Settlement: settlement,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("controller: %+v", err)
	}
	id := authorizedProposal(t, ctx, ctrl)

	blocking.blocked = true
	out, _ := ctrl.EvaluateAndExecute(ctx, engine.ExecuteMsg{
		ProposalID:      id,
		Actor:           accordtest.NewAddress("alice"),
		ExpectedVersion: engine.CurrentVersion,
	})
	blocking.blocked = false

	r := engine.NewReconciler(blocking, settlement, sink)
	if err := r.Repair(ctx, id, out.Receipt); err != nil {
		t.Fatalf("repair: %+v", err)
	}

	p, err := blocking.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.State != engine.StateExecuted {
		t.Fatalf("want executed, got %s", p.State)
	}
	if p.Receipt == nil || p.Receipt.Ref != out.Receipt.Ref {
		t.Fatalf("receipt mismatch: %+v", p.Receipt)
	}

	// Repair is idempotent once the state matches.
	if err := r.Repair(ctx, id, out.Receipt); err != nil {
		t.Fatalf("second repair: %+v", err)
	}
	if settlement.SubmitCount() != 1 {
		t.Fatalf("repair must never settle again: %d", settlement.SubmitCount())
	}
}

func TestRepairOutcomes(t *testing.T) {
	receipt := &engine.ExecutionReceipt{Ref: "ref-1", ExecutedAt: 1700000000}

	cases := map[string]struct {
		confirmation settle.Confirmation
		statusErr    error
		receipt      *engine.ExecutionReceipt
		wantErr      *errors.Error
		wantState    engine.ProposalState
	}{
		"nil receipt": {
			receipt: nil,
			wantErr: errors.ErrEmpty,
		},
		"pending settlement must be retried later": {
			confirmation: settle.ConfirmationPending,
			receipt:      receipt,
			wantErr:      errors.ErrTransient,
			wantState:    engine.StateActive,
		},
		"failed settlement keeps the proposal retryable": {
			confirmation: settle.ConfirmationFailed,
			receipt:      receipt,
			wantState:    engine.StateActive,
		},
		"confirmed settlement forces executed": {
			confirmation: settle.ConfirmationConfirmed,
			receipt:      receipt,
			wantState:    engine.StateExecuted,
		},
		"status query failure": {
			statusErr: accordtest.TransientErr("gateway down"),
			receipt:   receipt,
			wantErr:   errors.ErrTransient,
			wantState: engine.StateActive,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			ctx := context.Background()
			memstore := store.NewMemStore()
			settlement := &accordtest.Settlement{
				Confirmation: tc.confirmation,
				StatusErr:    tc.statusErr,
			}
			ctrl, err := engine.NewController(engine.Options{
				Store:      memstore,
				Settlement: settlement,
			})
			if err != nil {
				t.Fatalf("controller: %+v", err)
			}
			id := authorizedProposal(t, ctx, ctrl)

			r := engine.NewReconciler(memstore, settlement, nil)
			if err := r.Repair(ctx, id, tc.receipt); !tc.wantErr.Is(err) {
				t.Fatalf("unexpected error: %+v", err)
			}
			if tc.wantState == engine.StateInvalid {
				return
			}
			p, err := memstore.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %+v", err)
			}
			if p.State != tc.wantState {
				t.Fatalf("want %s, got %s", tc.wantState, p.State)
			}
		})
	}
}

// TestRepairConflictingReceipts covers the unrecoverable case: the proposal
// already carries a different confirmed receipt.
func TestRepairConflictingReceipts(t *testing.T) {
	ctx := context.Background()
	memstore := store.NewMemStore()
	settlement := &accordtest.Settlement{}
	ctrl, err := engine.NewController(engine.Options{
		Store:      memstore,
		Settlement: settlement,
	})
	if err != nil {
		t.Fatalf("controller: %+v", err)
	}
	id := authorizedProposal(t, ctx, ctrl)

	out, err := ctrl.EvaluateAndExecute(ctx, engine.ExecuteMsg{
		ProposalID:      id,
		Actor:           accordtest.NewAddress("alice"),
		ExpectedVersion: engine.CurrentVersion,
	})
	if err != nil {
		t.Fatalf("execute: %+v", err)
	}

	other := &engine.ExecutionReceipt{Ref: out.Receipt.Ref + "-other", ExecutedAt: 1700000000}
	r := engine.NewReconciler(memstore, settlement, nil)
	if err := r.Repair(ctx, id, other); !errors.ErrReconcile.Is(err) {
		t.Fatalf("want ErrReconcile, got %+v", err)
	}
}
