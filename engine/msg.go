package engine

import (
	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/errors"
)

// CurrentVersion passed as an expected version lets the controller work
// against whatever version it reads, retrying a bounded number of times on
// concurrent modification. A non negative expected version pins the exact
// version the caller observed and fails fast on any mismatch.
const CurrentVersion int64 = -1

// CreateProposalMsg asks the controller to open a new proposal. Exactly one
// of Binary and Weighted must be set.
type CreateProposalMsg struct {
	Proposer accord.Address
	Binary   *BinaryThresholdParams
	Weighted *WeightedQuorumParams
	// SubjectAmount is the value being authorized. Nil for governance
	// actions without a value.
	SubjectAmount *amount.Amount
	// Payload is the settlement action to perform once authorized.
	Payload []byte
	// ExpiresAt is optional. When zero, treasury proposals expire after
	// the default window and ballots after a grace period past their
	// voting end.
	ExpiresAt accord.UnixTime
}

func (m CreateProposalMsg) Validate() error {
	if err := m.Proposer.Validate(); err != nil {
		return errors.Wrap(err, "proposer")
	}
	switch {
	case m.Binary == nil && m.Weighted == nil:
		return errors.Wrap(errors.ErrEmpty, "policy params required")
	case m.Binary != nil && m.Weighted != nil:
		return errors.Wrap(errors.ErrInput, "policy params must be of a single kind")
	case m.Binary != nil:
		if err := m.Binary.Validate(); err != nil {
			return errors.Wrap(err, "binary params")
		}
	default:
		if err := m.Weighted.Validate(); err != nil {
			return errors.Wrap(err, "weighted params")
		}
	}
	if m.SubjectAmount != nil {
		if err := m.SubjectAmount.Validate(); err != nil {
			return errors.Wrap(err, "subject amount")
		}
	}
	if err := m.ExpiresAt.Validate(); err != nil {
		return errors.Wrap(err, "expires at")
	}
	return nil
}

// Kind returns the policy kind the message creates.
func (m CreateProposalMsg) Kind() ProposalKind {
	if m.Weighted != nil {
		return KindWeightedQuorum
	}
	return KindBinaryThreshold
}

// EndorseMsg records an actor's stance on an active proposal.
type EndorseMsg struct {
	ProposalID ProposalID
	Actor      accord.Address
	Polarity   Polarity
	// ExpectedVersion is the version the caller observed, or
	// CurrentVersion.
	ExpectedVersion int64
}

func (m EndorseMsg) Validate() error {
	if m.ProposalID == "" {
		return errors.Wrap(errors.ErrEmpty, "proposal id")
	}
	if err := m.Actor.Validate(); err != nil {
		return errors.Wrap(err, "actor")
	}
	if err := m.Polarity.Validate(); err != nil {
		return err
	}
	if m.ExpectedVersion < CurrentVersion {
		return errors.Wrap(errors.ErrInput, "invalid expected version")
	}
	return nil
}

// ExecuteMsg asks the controller to evaluate the policy and, when
// authorized, drive execution.
type ExecuteMsg struct {
	ProposalID ProposalID
	Actor      accord.Address
	// ExpectedVersion is the version the caller observed, or
	// CurrentVersion.
	ExpectedVersion int64
}

func (m ExecuteMsg) Validate() error {
	if m.ProposalID == "" {
		return errors.Wrap(errors.ErrEmpty, "proposal id")
	}
	if err := m.Actor.Validate(); err != nil {
		return errors.Wrap(err, "actor")
	}
	if m.ExpectedVersion < CurrentVersion {
		return errors.Wrap(errors.ErrInput, "invalid expected version")
	}
	return nil
}
