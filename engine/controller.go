package engine

import (
	"context"
	"time"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/audit"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/oracle"
	"github.com/accord-one/accord/settle"
)

const (
	// defaultTreasuryExpiry is the expiration window of a treasury
	// proposal created without an explicit deadline.
	defaultTreasuryExpiry = 7 * 24 * time.Hour

	// ballotExecutionGrace is how long a ballot stays evaluable and
	// executable past its voting end before it expires. A ballot must
	// outlive its voting window, otherwise it would expire at the very
	// moment its outcome becomes decidable.
	ballotExecutionGrace = 7 * 24 * time.Hour

	// casRetryBudget bounds how often an operation re-reads and retries
	// after a version conflict before surfacing it to the caller.
	casRetryBudget = 3
)

// Options configures a Controller.
type Options struct {
	Store      ProposalStore
	Settlement settle.Settlement
	// Oracle supplies voting weight for weighted quorum proposals. It may
	// be nil when only binary threshold proposals are used.
	Oracle oracle.BalanceOracle
	// Sink receives domain events. Defaults to a no-op sink.
	Sink audit.Sink
	// Now is the time source, defaulting to time.Now.
	Now func() time.Time
}

func (o Options) Validate() error {
	if o.Store == nil {
		return errors.Wrap(errors.ErrEmpty, "store")
	}
	if o.Settlement == nil {
		return errors.Wrap(errors.ErrEmpty, "settlement")
	}
	return nil
}

// Controller is the proposal lifecycle state machine. It creates proposals,
// records endorsements, evaluates the endorsement policy and drives
// execution. All shared state lives in the proposal store; the controller
// holds no lock across store or settlement calls and relies on the store's
// compare and swap contract instead.
type Controller struct {
	store  ProposalStore
	oracle oracle.BalanceOracle
	sink   audit.Sink
	exec   *Coordinator
	now    func() time.Time
}

// NewController returns a controller operating on the given collaborators.
func NewController(opts Options) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Sink == nil {
		opts.Sink = audit.NopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		store:  opts.Store,
		oracle: opts.Oracle,
		sink:   opts.Sink,
		exec:   NewCoordinator(opts.Store, opts.Settlement, opts.Sink, opts.Now),
		now:    opts.Now,
	}, nil
}

// Propose creates a new proposal in active state. For a binary threshold
// proposal the proposer must be an owner and their own approval is recorded
// as the first endorsement within the same creation.
func (c *Controller) Propose(ctx context.Context, msg CreateProposalMsg) (ProposalID, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	now := c.now()
	expiresAt := msg.ExpiresAt

	p := &Proposal{
		Kind:      msg.Kind(),
		State:     StateActive,
		CreatedAt: accord.AsUnixTime(now),
	}
	switch p.Kind {
	case KindBinaryThreshold:
		if !msg.Binary.IsOwner(msg.Proposer) {
			return "", errors.Wrap(errors.ErrUnauthorized, "proposer not in owners list")
		}
		if expiresAt.IsZero() {
			expiresAt = accord.AsUnixTime(now.Add(defaultTreasuryExpiry))
		}
		p.Binary = msg.Binary.Copy()
		p.Endorsements = []Endorsement{{
			Actor:      msg.Proposer.Clone(),
			Polarity:   PolarityApprove,
			Weight:     amount.New(1),
			RecordedAt: accord.AsUnixTime(now),
		}}
	case KindWeightedQuorum:
		if !msg.Weighted.VotingEnd.Time().After(now) {
			return "", errors.Wrap(errors.ErrInput, "voting end must be in the future")
		}
		if expiresAt.IsZero() {
			expiresAt = msg.Weighted.VotingEnd.Add(ballotExecutionGrace)
		} else if expiresAt <= msg.Weighted.VotingEnd {
			return "", errors.Wrap(errors.ErrInput, "must expire after voting end")
		}
		p.Weighted = msg.Weighted.Copy()
	}
	if !expiresAt.Time().After(now) {
		return "", errors.Wrap(errors.ErrInput, "expiration must be in the future")
	}
	p.ExpiresAt = expiresAt
	if msg.SubjectAmount != nil {
		a := msg.SubjectAmount.Clone()
		p.SubjectAmount = &a
	}
	if len(msg.Payload) != 0 {
		p.Payload = append([]byte(nil), msg.Payload...)
	}

	id, err := c.store.Create(ctx, p)
	if err != nil {
		return "", errors.Wrap(err, "failed to persist proposal")
	}
	p.ID = id

	publish(ctx, c.sink, eventProposalCreated(p))
	if p.Kind == KindBinaryThreshold {
		publish(ctx, c.sink, eventEndorsementRecorded(id, p.Endorsements[0]))
	}
	log.Debugf("proposal %s created: kind=%s proposer=%s", id, p.Kind, msg.Proposer)
	return id, nil
}

// Endorse records the actor's stance on an active proposal. Two concurrent
// endorsements by different actors both succeed: a version conflict is
// retried against re-read state up to a fixed budget. A pinned expected
// version fails fast on any mismatch instead.
func (c *Controller) Endorse(ctx context.Context, msg EndorseMsg) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err := c.endorseOnce(ctx, msg)
		switch {
		case err == nil:
			return nil
		case !errors.ErrConflict.Is(err):
			return err
		case msg.ExpectedVersion != CurrentVersion:
			return err
		case attempt >= casRetryBudget:
			return errors.Wrap(err, "retry budget exhausted")
		}
	}
}

func (c *Controller) endorseOnce(ctx context.Context, msg EndorseMsg) error {
	p, err := c.store.Get(ctx, msg.ProposalID)
	if err != nil {
		return err
	}
	if msg.ExpectedVersion != CurrentVersion && p.Version != msg.ExpectedVersion {
		return errors.Wrapf(errors.ErrConflict, "version is %d, expected %d", p.Version, msg.ExpectedVersion)
	}
	now := c.now()
	if p.Terminal() {
		return errors.Wrapf(errors.ErrState, "proposal is %s", p.State)
	}
	if accord.IsExpired(p.ExpiresAt, now) {
		c.lazyExpire(ctx, p)
		return errors.Wrapf(errors.ErrExpired, "proposal expired %v", p.ExpiresAt)
	}
	if p.HasEndorsed(msg.Actor) {
		return errors.Wrapf(errors.ErrDuplicate, "actor %s already endorsed", msg.Actor)
	}

	e := Endorsement{
		Actor:      msg.Actor.Clone(),
		Polarity:   msg.Polarity,
		RecordedAt: accord.AsUnixTime(now),
	}
	switch p.Kind {
	case KindBinaryThreshold:
		if msg.Polarity != PolarityApprove {
			return errors.Wrap(errors.ErrInput, "binary threshold proposals accept approvals only")
		}
		if !p.Binary.IsOwner(msg.Actor) {
			return errors.Wrap(errors.ErrUnauthorized, "not in owners list")
		}
		e.Weight = amount.New(1)
	case KindWeightedQuorum:
		if !now.Before(p.Weighted.VotingEnd.Time()) {
			return errors.Wrap(errors.ErrState, "vote after voting end")
		}
		if c.oracle == nil {
			return errors.Wrap(errors.ErrHuman, "no balance oracle configured")
		}
		// The weight is the balance snapshot at proposal creation, so a
		// re-tally is reproducible regardless of later transfers.
		w, err := c.oracle.BalanceAt(ctx, msg.Actor, p.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "voting power")
		}
		if w.IsZero() {
			return errors.Wrapf(errors.ErrInput, "insufficient voting power: %s", msg.Actor)
		}
		e.Weight = w
	}

	err = c.store.CompareAndSwap(ctx, p.ID, p.Version, func(cur *Proposal) error {
		cur.Endorsements = append(cur.Endorsements, e)
		return nil
	})
	if err != nil {
		return err
	}
	publish(ctx, c.sink, eventEndorsementRecorded(p.ID, e))
	log.Debugf("endorsement recorded: proposal=%s actor=%s polarity=%s", p.ID, msg.Actor, msg.Polarity)
	return nil
}

// ExecutionOutcome is the decided result of an evaluation request: either an
// executed proposal with its settlement receipt, or a rejection with its
// reason.
type ExecutionOutcome struct {
	State        ProposalState
	RejectReason string
	Receipt      *ExecutionReceipt
}

// EvaluateAndExecute re-evaluates the endorsement policy on current state
// and drives the outcome: an authorized proposal is executed exactly once
// through the settlement collaborator, a rejected ballot is transitioned
// with its reason.
//
// A settlement failure leaves the proposal unchanged so the call can be
// retried without re-collecting endorsements. When settlement succeeded but
// the terminal state could not be persisted, the receipt is returned
// together with an errors.ErrReconcile; pass both to a Reconciler.
func (c *Controller) EvaluateAndExecute(ctx context.Context, msg ExecuteMsg) (*ExecutionOutcome, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	p, err := c.store.Get(ctx, msg.ProposalID)
	if err != nil {
		return nil, err
	}
	if msg.ExpectedVersion != CurrentVersion && p.Version != msg.ExpectedVersion {
		return nil, errors.Wrapf(errors.ErrConflict, "version is %d, expected %d", p.Version, msg.ExpectedVersion)
	}
	now := c.now()
	if p.Terminal() {
		return nil, errors.Wrapf(errors.ErrState, "proposal is %s", p.State)
	}
	if accord.IsExpired(p.ExpiresAt, now) {
		c.lazyExpire(ctx, p)
		return nil, errors.Wrapf(errors.ErrExpired, "proposal expired %v", p.ExpiresAt)
	}

	ev := p.policy().Evaluate(p.Endorsements, now)
	switch ev.Outcome {
	case OutcomePending:
		if p.Kind == KindWeightedQuorum && now.Before(p.Weighted.VotingEnd.Time()) {
			return nil, errors.Wrap(errors.ErrState, "voting period not ended")
		}
		return nil, errors.Wrap(errors.ErrState, "threshold not reached")

	case OutcomeRejected:
		err := c.store.CompareAndSwap(ctx, p.ID, p.Version, func(cur *Proposal) error {
			cur.State = StateRejected
			cur.RejectReason = ev.Reason
			return nil
		})
		if err != nil {
			return nil, err
		}
		publish(ctx, c.sink, eventProposalRejected(p.ID, ev.Reason, accord.AsUnixTime(now)))
		log.Infof("proposal %s rejected: %s", p.ID, ev.Reason)
		return &ExecutionOutcome{State: StateRejected, RejectReason: ev.Reason}, nil

	case OutcomeAuthorized:
		receipt, err := c.exec.Execute(ctx, p)
		if err != nil {
			if errors.ErrReconcile.Is(err) && receipt != nil {
				return &ExecutionOutcome{State: StateExecuted, Receipt: receipt}, err
			}
			return nil, err
		}
		return &ExecutionOutcome{State: StateExecuted, Receipt: receipt}, nil
	}
	return nil, errors.Wrapf(errors.ErrHuman, "unhandled policy outcome %d", ev.Outcome)
}

// Expire transitions a proposal past its deadline into the expired state. It
// is idempotent: expiring an already expired proposal succeeds.
func (c *Controller) Expire(ctx context.Context, id ProposalID) error {
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.State == StateExpired {
		return nil
	}
	if p.Terminal() {
		return errors.Wrapf(errors.ErrState, "proposal is %s", p.State)
	}
	if !accord.IsExpired(p.ExpiresAt, c.now()) {
		return errors.Wrapf(errors.ErrState, "proposal not expired %v", p.ExpiresAt)
	}
	err = c.store.CompareAndSwap(ctx, id, p.Version, func(cur *Proposal) error {
		cur.State = StateExpired
		return nil
	})
	if err != nil {
		return err
	}
	publish(ctx, c.sink, eventProposalExpired(id, accord.AsUnixTime(c.now())))
	log.Infof("proposal %s expired", id)
	return nil
}

// lazyExpire is invoked by any operation that observes a passed deadline on
// a non terminal proposal. Losing the swap to a concurrent writer is fine;
// the next observer settles it.
func (c *Controller) lazyExpire(ctx context.Context, p *Proposal) {
	err := c.store.CompareAndSwap(ctx, p.ID, p.Version, func(cur *Proposal) error {
		cur.State = StateExpired
		return nil
	})
	switch {
	case err == nil:
		publish(ctx, c.sink, eventProposalExpired(p.ID, accord.AsUnixTime(c.now())))
		log.Infof("proposal %s expired", p.ID)
	case errors.ErrConflict.Is(err):
	default:
		log.Errorf("cannot expire proposal %s: %v", p.ID, err)
	}
}

// ProposalStatus is the externally observable state of a proposal, including
// the derived authorized state that is never persisted on its own.
type ProposalStatus struct {
	Proposal *Proposal
	State    ProposalState
	// Tally is set for weighted quorum proposals.
	Tally *Tally
}

// Status reports the current state of a proposal. Observation has side
// effects on proposals whose verdict is due: a passed deadline is settled
// into expired, and a closed ballot that did not pass is settled into
// rejected.
func (c *Controller) Status(ctx context.Context, id ProposalID) (*ProposalStatus, error) {
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &ProposalStatus{Proposal: p, State: p.State}
	if p.Kind == KindWeightedQuorum {
		t := TallyOf(p.Endorsements)
		st.Tally = &t
	}
	if p.Terminal() {
		return st, nil
	}
	now := c.now()
	if accord.IsExpired(p.ExpiresAt, now) {
		c.lazyExpire(ctx, p)
		st.State = StateExpired
		st.Proposal.State = StateExpired
		return st, nil
	}

	switch ev := p.policy().Evaluate(p.Endorsements, now); ev.Outcome {
	case OutcomeAuthorized:
		st.State = StateAuthorized
	case OutcomeRejected:
		err := c.store.CompareAndSwap(ctx, p.ID, p.Version, func(cur *Proposal) error {
			cur.State = StateRejected
			cur.RejectReason = ev.Reason
			return nil
		})
		switch {
		case err == nil:
			publish(ctx, c.sink, eventProposalRejected(p.ID, ev.Reason, accord.AsUnixTime(now)))
			log.Infof("proposal %s rejected: %s", p.ID, ev.Reason)
		case errors.ErrConflict.Is(err):
			// settled by a concurrent observer
		default:
			return nil, err
		}
		st.State = StateRejected
		st.Proposal.State = StateRejected
		st.Proposal.RejectReason = ev.Reason
	}
	return st, nil
}
