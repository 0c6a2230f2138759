package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/accordtest"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/engine"
	"github.com/accord-one/accord/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "accord.db"))
	if err != nil {
		t.Fatalf("cannot open store: %+v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func proposalFixture() *engine.Proposal {
	subject := amount.New(5000)
	return &engine.Proposal{
		Kind: engine.KindBinaryThreshold,
		Binary: &engine.BinaryThresholdParams{
			Owners: []accord.Address{
				accordtest.NewAddress("alice"),
				accordtest.NewAddress("bobby"),
			},
			Threshold: 2,
		},
		SubjectAmount: &subject,
		Payload:       []byte("transfer"),
		Endorsements: []engine.Endorsement{{
			Actor:      accordtest.NewAddress("alice"),
			Polarity:   engine.PolarityApprove,
			Weight:     amount.New(1),
			RecordedAt: 1700000000,
		}},
		State:     engine.StateActive,
		CreatedAt: 1700000000,
		ExpiresAt: 1700086400,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.ID != id || p.Version != 0 {
		t.Fatalf("unexpected record: id=%s version=%d", p.ID, p.Version)
	}
	if p.SubjectAmount == nil || p.SubjectAmount.String() != "5000" {
		t.Fatalf("subject amount lost: %+v", p.SubjectAmount)
	}
	if len(p.Endorsements) != 1 || !p.Endorsements[0].Actor.Equals(accordtest.NewAddress("alice")) {
		t.Fatalf("endorsements lost: %+v", p.Endorsements)
	}
	if p.Binary == nil || p.Binary.Threshold != 2 {
		t.Fatalf("policy params lost: %+v", p.Binary)
	}

	if _, err := s.Get(ctx, "no-such-id"); !errors.ErrNotFound.Is(err) {
		t.Fatalf("want ErrNotFound, got %+v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accord.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %+v", err)
	}
	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %+v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %+v", err)
	}
	defer s.Close()

	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after reopen: %+v", err)
	}
	if p.ID != id || p.State != engine.StateActive {
		t.Fatalf("unexpected record: %+v", p)
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	err = s.CompareAndSwap(ctx, id, 0, func(p *engine.Proposal) error {
		p.Endorsements = append(p.Endorsements, engine.Endorsement{
			Actor:      accordtest.NewAddress("bobby"),
			Polarity:   engine.PolarityApprove,
			Weight:     amount.New(1),
			RecordedAt: 1700000100,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("cas: %+v", err)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.Version != 1 || len(p.Endorsements) != 2 {
		t.Fatalf("unexpected record: version=%d endorsements=%d", p.Version, len(p.Endorsements))
	}

	// Stale version conflicts without writing.
	err = s.CompareAndSwap(ctx, id, 0, func(p *engine.Proposal) error {
		p.State = engine.StateExpired
		return nil
	})
	if !errors.ErrConflict.Is(err) {
		t.Fatalf("want ErrConflict, got %+v", err)
	}
	p, err = s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.Version != 1 || p.State != engine.StateActive {
		t.Fatalf("conflicting swap must not write: %+v", p)
	}

	// A mutation error rolls the transaction back.
	boom := errors.Wrap(errors.ErrHuman, "boom")
	if err := s.CompareAndSwap(ctx, id, 1, func(*engine.Proposal) error { return boom }); !errors.ErrHuman.Is(err) {
		t.Fatalf("want mutation error, got %+v", err)
	}
	p, err = s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.Version != 1 {
		t.Fatalf("aborted swap must not bump the version: %d", p.Version)
	}

	if err := s.CompareAndSwap(ctx, "no-such-id", 0, func(*engine.Proposal) error { return nil }); !errors.ErrNotFound.Is(err) {
		t.Fatalf("want ErrNotFound, got %+v", err)
	}
}

func TestStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Create(ctx, proposalFixture()); err != nil {
		t.Fatalf("create: %+v", err)
	}
	ballot := &engine.Proposal{
		Kind: engine.KindWeightedQuorum,
		Weighted: &engine.WeightedQuorumParams{
			ApprovalThreshold: accord.Fraction{Numerator: 1, Denominator: 2},
			VotingEnd:         1700050000,
		},
		State:     engine.StateActive,
		CreatedAt: 1700000000,
		ExpiresAt: 1700086400,
	}
	ballotID, err := s.Create(ctx, ballot)
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	all, err := s.Query(ctx, engine.Filter{})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(all) != 2 {
		t.Fatalf("want 2 proposals, got %d", len(all))
	}
	ballots, err := s.Query(ctx, engine.Filter{Kind: engine.KindWeightedQuorum})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(ballots) != 1 || ballots[0].ID != ballotID {
		t.Fatalf("unexpected result: %+v", ballots)
	}
}

// TestStoreDrivesController runs a full treasury flow against the durable
// store to make sure the engine semantics hold beyond the in-memory variant.
func TestStoreDrivesController(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	settlement := &accordtest.Settlement{}

	ctrl, err := engine.NewController(engine.Options{
		Store:      s,
		Settlement: settlement,
	})
	if err != nil {
		t.Fatalf("controller: %+v", err)
	}

	alice := accordtest.NewAddress("alice")
	bobby := accordtest.NewAddress("bobby")
	id, err := ctrl.Propose(ctx, engine.CreateProposalMsg{
		Proposer: alice,
		Binary: &engine.BinaryThresholdParams{
			Owners:    []accord.Address{alice, bobby},
			Threshold: 2,
		},
		Payload: []byte("transfer"),
	})
	if err != nil {
		t.Fatalf("propose: %+v", err)
	}
	if err := ctrl.Endorse(ctx, engine.EndorseMsg{
		ProposalID:      id,
		Actor:           bobby,
		Polarity:        engine.PolarityApprove,
		ExpectedVersion: engine.CurrentVersion,
	}); err != nil {
		t.Fatalf("endorse: %+v", err)
	}
	out, err := ctrl.EvaluateAndExecute(ctx, engine.ExecuteMsg{
		ProposalID:      id,
		Actor:           alice,
		ExpectedVersion: engine.CurrentVersion,
	})
	if err != nil {
		t.Fatalf("execute: %+v", err)
	}
	if out.State != engine.StateExecuted || out.Receipt == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if settlement.SubmitCount() != 1 {
		t.Fatalf("want one settlement, got %d", settlement.SubmitCount())
	}
}
