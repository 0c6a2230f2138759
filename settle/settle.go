package settle

import (
	"context"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/errors"
)

// Action describes the single side effect a fully authorized proposal is
// allowed to perform. The payload is opaque to the engine; for an on-chain
// settlement it is the serialized, already signed transaction. Signing and
// custody are outside of this module.
type Action struct {
	// ProposalID links the settlement back to the authorizing proposal.
	ProposalID string
	// Amount is the value being moved. Nil for governance actions that
	// carry no value.
	Amount *amount.Amount
	// Payload is the settlement specific action encoding.
	Payload []byte
}

// Receipt is the settlement confirmation handle. Ref is the digest or
// confirmation id assigned by the settlement layer and is stable across
// status queries.
type Receipt struct {
	Ref         string          `json:"ref"`
	SubmittedAt accord.UnixTime `json:"submitted_at"`
}

// Confirmation is the observed state of a previously submitted action.
type Confirmation uint8

const (
	ConfirmationInvalid Confirmation = iota
	// ConfirmationPending means the action was submitted but its final
	// outcome is not yet observable.
	ConfirmationPending
	// ConfirmationConfirmed means the action landed and took effect.
	ConfirmationConfirmed
	// ConfirmationFailed means the action is known to not have taken
	// effect and may be resubmitted.
	ConfirmationFailed
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmationPending:
		return "pending"
	case ConfirmationConfirmed:
		return "confirmed"
	case ConfirmationFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Settlement is the external collaborator that performs authorized actions.
// Submit must be idempotent on the receiver side: submitting the same payload
// twice settles at most once.
//
// Submit failures are classified through the errors package. A failure
// wrapping errors.ErrTransient may be retried by the caller; any other
// failure is permanent for this payload.
type Settlement interface {
	Submit(ctx context.Context, act Action) (*Receipt, error)
	// Status reports the observed outcome of a receipt. It is used by the
	// reconciliation pass after a coordinator failure between settlement
	// and persistence.
	Status(ctx context.Context, rcpt *Receipt) (Confirmation, error)
}

// Validate returns an error if this action is malformed.
func (a Action) Validate() error {
	if a.ProposalID == "" {
		return errors.Wrap(errors.ErrEmpty, "proposal id")
	}
	if a.Amount != nil {
		if err := a.Amount.Validate(); err != nil {
			return errors.Wrap(err, "amount")
		}
	}
	return nil
}
