package engine

import (
	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/errors"
)

// ProposalID is an opaque unique identifier assigned by the proposal store
// at creation time.
type ProposalID string

// ProposalKind discriminates the endorsement policy of a proposal.
type ProposalKind uint8

const (
	KindInvalid ProposalKind = iota
	// KindBinaryThreshold is the M-of-N owner approval policy used for
	// treasury transactions.
	KindBinaryThreshold
	// KindWeightedQuorum is the token weighted quorum and majority policy
	// used for governance ballots.
	KindWeightedQuorum
)

func (k ProposalKind) String() string {
	switch k {
	case KindBinaryThreshold:
		return "binary_threshold"
	case KindWeightedQuorum:
		return "weighted_quorum"
	default:
		return "invalid"
	}
}

// ProposalState is the lifecycle state of a proposal.
//
// Active is the initial state. Executed, Rejected and Expired are terminal;
// no transition ever leaves them. Authorized is a derived state: it is what
// the policy reports for an active proposal that reached its threshold, and
// it is never persisted on its own. A binary threshold proposal therefore
// rests as authorized until an explicit execute call, any number of times.
type ProposalState uint8

const (
	StateInvalid ProposalState = iota
	StateActive
	StateAuthorized
	StateRejected
	StateExpired
	StateExecuted
)

func (s ProposalState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateAuthorized:
		return "authorized"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	case StateExecuted:
		return "executed"
	default:
		return "invalid"
	}
}

// Terminal returns true when no further transition can leave this state.
func (s ProposalState) Terminal() bool {
	switch s {
	case StateRejected, StateExpired, StateExecuted:
		return true
	}
	return false
}

// Polarity is the stance an endorsement takes.
type Polarity uint8

const (
	PolarityInvalid Polarity = iota
	PolarityApprove
	PolarityAgainst
	PolarityAbstain
)

func (p Polarity) String() string {
	switch p {
	case PolarityApprove:
		return "approve"
	case PolarityAgainst:
		return "against"
	case PolarityAbstain:
		return "abstain"
	default:
		return "invalid"
	}
}

// Validate returns an error for the zero polarity.
func (p Polarity) Validate() error {
	switch p {
	case PolarityApprove, PolarityAgainst, PolarityAbstain:
		return nil
	}
	return errors.Wrap(errors.ErrInput, "invalid polarity")
}

// Endorsement is a single recorded stance of an actor on a proposal.
// Endorsement lists are append only; entries are never edited or removed,
// including on rejection or expiry.
type Endorsement struct {
	Actor      accord.Address  `json:"actor"`
	Polarity   Polarity        `json:"polarity"`
	Weight     amount.Amount   `json:"weight"`
	RecordedAt accord.UnixTime `json:"recorded_at"`
}

func (e Endorsement) Validate() error {
	if err := e.Actor.Validate(); err != nil {
		return errors.Wrap(err, "actor")
	}
	if err := e.Polarity.Validate(); err != nil {
		return err
	}
	// A zero weight stance is rejected at endorsement time, never
	// recorded as an abstention.
	if e.Weight.IsZero() {
		return errors.Wrap(errors.ErrAmount, "zero weight")
	}
	return nil
}

// ExecutionReceipt carries the external settlement confirmation of an
// executed proposal. It is present if and only if the proposal is executed,
// and is written exactly once.
type ExecutionReceipt struct {
	Ref        string          `json:"ref"`
	ExecutedAt accord.UnixTime `json:"executed_at"`
}

func (r ExecutionReceipt) Validate() error {
	if r.Ref == "" {
		return errors.Wrap(errors.ErrEmpty, "settlement reference")
	}
	return r.ExecutedAt.Validate()
}

// Proposal is the shared mutable record both subsystems operate on. Policy
// parameters and the subject amount are immutable after creation; changing
// the authorized action requires a new proposal. Version is the optimistic
// concurrency guard, incremented by the store on every mutation.
type Proposal struct {
	ID            ProposalID             `json:"id"`
	Kind          ProposalKind           `json:"kind"`
	SubjectAmount *amount.Amount         `json:"subject_amount,omitempty"`
	Payload       []byte                 `json:"payload,omitempty"`
	Binary        *BinaryThresholdParams `json:"binary,omitempty"`
	Weighted      *WeightedQuorumParams  `json:"weighted,omitempty"`
	Endorsements  []Endorsement          `json:"endorsements"`
	State         ProposalState          `json:"state"`
	RejectReason  string                 `json:"reject_reason,omitempty"`
	CreatedAt     accord.UnixTime        `json:"created_at"`
	ExpiresAt     accord.UnixTime        `json:"expires_at"`
	Version       int64                  `json:"version"`
	Receipt       *ExecutionReceipt      `json:"receipt,omitempty"`
}

func (p *Proposal) Validate() error {
	switch p.Kind {
	case KindBinaryThreshold:
		if p.Binary == nil || p.Weighted != nil {
			return errors.Wrap(errors.ErrState, "binary proposal must carry binary params only")
		}
		if err := p.Binary.Validate(); err != nil {
			return errors.Wrap(err, "binary params")
		}
	case KindWeightedQuorum:
		if p.Weighted == nil || p.Binary != nil {
			return errors.Wrap(errors.ErrState, "weighted proposal must carry weighted params only")
		}
		if err := p.Weighted.Validate(); err != nil {
			return errors.Wrap(err, "weighted params")
		}
	default:
		return errors.Wrap(errors.ErrState, "invalid kind")
	}
	if p.State == StateInvalid || p.State == StateAuthorized {
		return errors.Wrapf(errors.ErrState, "state %q cannot be persisted", p.State)
	}
	if p.SubjectAmount != nil {
		if err := p.SubjectAmount.Validate(); err != nil {
			return errors.Wrap(err, "subject amount")
		}
	}
	if p.ExpiresAt.IsZero() {
		return errors.Wrap(errors.ErrEmpty, "expiration required")
	}
	if p.ExpiresAt <= p.CreatedAt {
		return errors.Wrap(errors.ErrState, "must expire after creation")
	}
	for i, e := range p.Endorsements {
		if err := e.Validate(); err != nil {
			return errors.Wrapf(err, "endorsement %d", i)
		}
	}
	if (p.Receipt != nil) != (p.State == StateExecuted) {
		return errors.Wrap(errors.ErrState, "receipt present iff executed")
	}
	if p.Receipt != nil {
		if err := p.Receipt.Validate(); err != nil {
			return errors.Wrap(err, "receipt")
		}
	}
	if p.Version < 0 {
		return errors.Wrap(errors.ErrState, "negative version")
	}
	return nil
}

// Copy returns a deep copy of this proposal.
func (p *Proposal) Copy() *Proposal {
	out := &Proposal{
		ID:           p.ID,
		Kind:         p.Kind,
		State:        p.State,
		RejectReason: p.RejectReason,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
		Version:      p.Version,
	}
	if p.SubjectAmount != nil {
		a := p.SubjectAmount.Clone()
		out.SubjectAmount = &a
	}
	if len(p.Payload) != 0 {
		out.Payload = append([]byte(nil), p.Payload...)
	}
	if p.Binary != nil {
		out.Binary = p.Binary.Copy()
	}
	if p.Weighted != nil {
		out.Weighted = p.Weighted.Copy()
	}
	if p.Endorsements != nil {
		out.Endorsements = make([]Endorsement, len(p.Endorsements))
		for i, e := range p.Endorsements {
			out.Endorsements[i] = Endorsement{
				Actor:      e.Actor.Clone(),
				Polarity:   e.Polarity,
				Weight:     e.Weight.Clone(),
				RecordedAt: e.RecordedAt,
			}
		}
	}
	if p.Receipt != nil {
		r := *p.Receipt
		out.Receipt = &r
	}
	return out
}

// HasEndorsed returns true when the actor already has a recorded
// endorsement on this proposal. At most one endorsement per actor exists; a
// second attempt is a duplicate, never a merge.
func (p *Proposal) HasEndorsed(actor accord.Address) bool {
	for _, e := range p.Endorsements {
		if e.Actor.Equals(actor) {
			return true
		}
	}
	return false
}

// Terminal returns true when the proposal reached a terminal state.
func (p *Proposal) Terminal() bool {
	return p.State.Terminal()
}

// policy returns the endorsement policy matching this proposal's kind.
func (p *Proposal) policy() Policy {
	if p.Kind == KindWeightedQuorum {
		return p.Weighted
	}
	return p.Binary
}
