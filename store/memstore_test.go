package store

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/accordtest"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/engine"
	"github.com/accord-one/accord/errors"
)

func proposalFixture() *engine.Proposal {
	return &engine.Proposal{
		Kind: engine.KindBinaryThreshold,
		Binary: &engine.BinaryThresholdParams{
			Owners: []accord.Address{
				accordtest.NewAddress("alice"),
				accordtest.NewAddress("bobby"),
			},
			Threshold: 2,
		},
		State:     engine.StateActive,
		CreatedAt: 1700000000,
		ExpiresAt: 1700086400,
	}
}

func TestMemStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}
	if id == "" {
		t.Fatal("created proposal must get an id")
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.ID != id || p.Version != 0 {
		t.Fatalf("unexpected record: id=%s version=%d", p.ID, p.Version)
	}

	if _, err := s.Get(ctx, "no-such-id"); !errors.ErrNotFound.Is(err) {
		t.Fatalf("want ErrNotFound, got %+v", err)
	}
}

func TestMemStoreCreateValidates(t *testing.T) {
	p := proposalFixture()
	p.ExpiresAt = 0
	if _, err := NewMemStore().Create(context.Background(), p); !errors.ErrEmpty.Is(err) {
		t.Fatalf("want ErrEmpty, got %+v", err)
	}
}

func TestMemStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	// Mutating a returned copy must not leak into the store.
	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	p.State = engine.StateRejected
	p.Binary.Threshold = 1

	again, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if again.State != engine.StateActive || again.Binary.Threshold != 2 {
		t.Fatalf("stored record was mutated through a copy: %+v", again)
	}
}

func TestMemStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	err = s.CompareAndSwap(ctx, id, 0, func(p *engine.Proposal) error {
		p.State = engine.StateRejected
		p.RejectReason = "did not pass"
		return nil
	})
	if err != nil {
		t.Fatalf("cas: %+v", err)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.Version != 1 || p.State != engine.StateRejected {
		t.Fatalf("unexpected record: %+v", p)
	}

	// A stale version must conflict and leave the record untouched.
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
	if p.Version != 1 || p.State != engine.StateRejected {
		t.Fatalf("conflicting swap must not write: %+v", p)
	}

	// A failing mutation aborts the swap.
	boom := errors.Wrap(errors.ErrHuman, "boom")
	err = s.CompareAndSwap(ctx, id, 1, func(*engine.Proposal) error { return boom })
	if !errors.ErrHuman.Is(err) {
		t.Fatalf("want mutation error, got %+v", err)
	}
	p, err = s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.Version != 1 {
		t.Fatalf("aborted swap must not bump the version: %d", p.Version)
	}

	// An invalid mutation result is refused.
	err = s.CompareAndSwap(ctx, id, 1, func(p *engine.Proposal) error {
		p.ExpiresAt = 0
		return nil
	})
	if !errors.ErrEmpty.Is(err) {
		t.Fatalf("want validation error, got %+v", err)
	}

	if err := s.CompareAndSwap(ctx, "no-such-id", 0, func(*engine.Proposal) error { return nil }); !errors.ErrNotFound.Is(err) {
		t.Fatalf("want ErrNotFound, got %+v", err)
	}
}

func TestMemStoreConcurrentSwaps(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	// All writers target version 0; exactly one may win.
	var g errgroup.Group
	wins := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			err := s.CompareAndSwap(ctx, id, 0, func(p *engine.Proposal) error {
				p.Endorsements = append(p.Endorsements, engine.Endorsement{
					Actor:      accordtest.NewAddress("alice"),
					Polarity:   engine.PolarityApprove,
					Weight:     amount.New(1),
					RecordedAt: 1700000100,
				})
				return nil
			})
			switch {
			case err == nil:
				wins <- struct{}{}
				return nil
			case errors.ErrConflict.Is(err):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	close(wins)
	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("want exactly one winner, got %d", won)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %+v", err)
	}
	if p.Version != 1 || len(p.Endorsements) != 1 {
		t.Fatalf("unexpected record: version=%d endorsements=%d", p.Version, len(p.Endorsements))
	}
}

func TestMemStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	first, err := s.Create(ctx, proposalFixture())
	if err != nil {
		t.Fatalf("create: %+v", err)
	}
	weighted := &engine.Proposal{
		Kind: engine.KindWeightedQuorum,
		Weighted: &engine.WeightedQuorumParams{
			ApprovalThreshold: accord.Fraction{Numerator: 1, Denominator: 2},
			VotingEnd:         1700050000,
		},
		State:     engine.StateActive,
		CreatedAt: 1700000000,
		ExpiresAt: 1700086400,
	}
	second, err := s.Create(ctx, weighted)
	if err != nil {
		t.Fatalf("create: %+v", err)
	}

	all, err := s.Query(ctx, engine.Filter{})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(all) != 2 || all[0].ID != first || all[1].ID != second {
		t.Fatalf("query must preserve insertion order: %+v", all)
	}

	ballots, err := s.Query(ctx, engine.Filter{Kind: engine.KindWeightedQuorum})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(ballots) != 1 || ballots[0].ID != second {
		t.Fatalf("unexpected result: %+v", ballots)
	}

	none, err := s.Query(ctx, engine.Filter{State: engine.StateExecuted})
	if err != nil {
		t.Fatalf("query: %+v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unexpected result: %+v", none)
	}
}
