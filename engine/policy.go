package engine

import (
	"time"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/errors"
)

// Outcome is the verdict of an endorsement policy over a proposal's
// endorsement list.
type Outcome uint8

const (
	OutcomeInvalid Outcome = iota
	// OutcomePending means the policy cannot decide yet. More
	// endorsements, or for a weighted policy the end of the voting
	// window, may still change the verdict.
	OutcomePending
	// OutcomeAuthorized means the action may be executed.
	OutcomeAuthorized
	// OutcomeRejected means the action must not be executed. Only the
	// weighted policy can reject from vote content.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeRejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// Evaluation is the policy verdict together with the rejection reason when
// there is one.
type Evaluation struct {
	Outcome Outcome
	Reason  string
}

// Policy decides, given a proposal's endorsement list, whether the action is
// authorized, rejected or still pending. Policies are pure: they never
// mutate the endorsement list and never touch storage.
type Policy interface {
	Validate() error
	Evaluate(endorsements []Endorsement, now time.Time) Evaluation
}

// maxOwners bounds the owner set of a binary threshold policy.
const maxOwners = 128

// BinaryThresholdParams configures the M-of-N owner approval policy. The
// parameters are snapshotted into the proposal at creation time; later
// changes to the live owner set never affect proposals already in flight.
type BinaryThresholdParams struct {
	Owners    []accord.Address `json:"owners"`
	Threshold uint32           `json:"threshold"`
}

var _ Policy = (*BinaryThresholdParams)(nil)

func (p *BinaryThresholdParams) Validate() error {
	switch n := len(p.Owners); {
	case n == 0:
		return errors.Wrap(errors.ErrInput, "owners must not be empty")
	case n > maxOwners:
		return errors.Wrapf(errors.ErrInput, "owners must not exceed: %d", maxOwners)
	}
	index := make(map[string]struct{}, len(p.Owners))
	for _, o := range p.Owners {
		if err := o.Validate(); err != nil {
			return errors.Wrap(err, "owner")
		}
		key := o.String()
		if _, exists := index[key]; exists {
			return errors.Wrap(errors.ErrInput, "duplicate owner entry")
		}
		index[key] = struct{}{}
	}
	if p.Threshold < 1 || int(p.Threshold) > len(p.Owners) {
		return errors.Wrapf(errors.ErrInput, "threshold must be between 1 and %d", len(p.Owners))
	}
	return nil
}

// IsOwner returns true when the address is in the owner set.
func (p *BinaryThresholdParams) IsOwner(a accord.Address) bool {
	for _, o := range p.Owners {
		if o.Equals(a) {
			return true
		}
	}
	return false
}

// Evaluate counts distinct approving owners against the threshold. The
// binary policy never rejects from vote content; only expiration, handled by
// the controller, can end such a proposal negatively.
func (p *BinaryThresholdParams) Evaluate(endorsements []Endorsement, _ time.Time) Evaluation {
	approved := make(map[string]struct{})
	for _, e := range endorsements {
		if e.Polarity != PolarityApprove {
			continue
		}
		if !p.IsOwner(e.Actor) {
			continue
		}
		approved[e.Actor.String()] = struct{}{}
	}
	if uint32(len(approved)) >= p.Threshold {
		return Evaluation{Outcome: OutcomeAuthorized}
	}
	return Evaluation{Outcome: OutcomePending}
}

// Copy returns a deep copy of the parameters.
func (p *BinaryThresholdParams) Copy() *BinaryThresholdParams {
	owners := make([]accord.Address, len(p.Owners))
	for i, o := range p.Owners {
		owners[i] = o.Clone()
	}
	return &BinaryThresholdParams{
		Owners:    owners,
		Threshold: p.Threshold,
	}
}

// Rejection reasons reported by the weighted quorum policy.
const (
	ReasonDidNotPass   = "did not pass"
	ReasonQuorumNotMet = "quorum not met"
)

// WeightedQuorumParams configures the token weighted quorum and majority
// policy. The voting window must close before an outcome is determined:
// until VotingEnd the policy reports pending unconditionally, even when no
// further vote could mathematically change the result.
type WeightedQuorumParams struct {
	// Quorum is the minimum combined for plus against weight. Nil means
	// no quorum requirement.
	Quorum *amount.Amount `json:"quorum,omitempty"`
	// ApprovalThreshold is the minimum fraction of for weight over the
	// combined for plus against weight.
	ApprovalThreshold accord.Fraction `json:"approval_threshold"`
	// VotingEnd closes the voting window.
	VotingEnd accord.UnixTime `json:"voting_end"`
}

var _ Policy = (*WeightedQuorumParams)(nil)

func (p *WeightedQuorumParams) Validate() error {
	if err := p.ApprovalThreshold.Validate(); err != nil {
		return errors.Wrap(err, "approval threshold")
	}
	if p.VotingEnd.IsZero() {
		return errors.Wrap(errors.ErrEmpty, "voting end required")
	}
	if err := p.VotingEnd.Validate(); err != nil {
		return errors.Wrap(err, "voting end")
	}
	if p.Quorum != nil {
		if err := p.Quorum.Validate(); err != nil {
			return errors.Wrap(err, "quorum")
		}
		if p.Quorum.IsZero() {
			return errors.Wrap(errors.ErrAmount, "zero quorum")
		}
	}
	return nil
}

// Evaluate tallies for and against weight once the voting window closed.
// Abstain weight counts into neither the numerator nor the denominator. The
// majority check runs before the quorum check, so a ballot failing both
// reports "did not pass".
func (p *WeightedQuorumParams) Evaluate(endorsements []Endorsement, now time.Time) Evaluation {
	if now.Before(p.VotingEnd.Time()) {
		return Evaluation{Outcome: OutcomePending}
	}

	tally := TallyOf(endorsements)
	total := tally.ForWeight.Add(tally.AgainstWeight)

	// for/total >= threshold, compared by cross multiplication.
	passed := !total.IsZero() &&
		tally.ForWeight.Mul(uint64(p.ApprovalThreshold.Denominator)).
			Cmp(total.Mul(uint64(p.ApprovalThreshold.Numerator))) >= 0
	if !passed {
		return Evaluation{Outcome: OutcomeRejected, Reason: ReasonDidNotPass}
	}
	if p.Quorum != nil && total.Cmp(*p.Quorum) < 0 {
		return Evaluation{Outcome: OutcomeRejected, Reason: ReasonQuorumNotMet}
	}
	return Evaluation{Outcome: OutcomeAuthorized}
}

// Copy returns a deep copy of the parameters.
func (p *WeightedQuorumParams) Copy() *WeightedQuorumParams {
	out := &WeightedQuorumParams{
		ApprovalThreshold: p.ApprovalThreshold,
		VotingEnd:         p.VotingEnd,
	}
	if p.Quorum != nil {
		q := p.Quorum.Clone()
		out.Quorum = &q
	}
	return out
}

// Tally is the weight distribution over the recorded endorsements.
type Tally struct {
	ForWeight     amount.Amount
	AgainstWeight amount.Amount
	AbstainWeight amount.Amount
}

// TallyOf sums the endorsement weights by polarity.
func TallyOf(endorsements []Endorsement) Tally {
	var t Tally
	for _, e := range endorsements {
		switch e.Polarity {
		case PolarityApprove:
			t.ForWeight = t.ForWeight.Add(e.Weight)
		case PolarityAgainst:
			t.AgainstWeight = t.AgainstWeight.Add(e.Weight)
		case PolarityAbstain:
			t.AbstainWeight = t.AbstainWeight.Add(e.Weight)
		}
	}
	return t
}
