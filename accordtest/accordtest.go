// Package accordtest provides test doubles for the engine's external
// collaborators and deterministic fixtures shared by the test suites.
package accordtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/audit"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/settle"
)

// NewAddress returns a deterministic address derived from the given seed.
// Equal seeds yield equal addresses.
func NewAddress(seed string) accord.Address {
	return accord.NewAddress([]byte("accordtest:" + seed))
}

// Settlement is a settle.Settlement double. The zero value settles every
// submission successfully with a deterministic receipt reference.
type Settlement struct {
	mu sync.Mutex

	// SubmitErr, when set, fails every submission.
	SubmitErr error
	// StatusErr, when set, fails every status query.
	StatusErr error
	// Confirmation is returned by Status. Defaults to confirmed.
	Confirmation settle.Confirmation

	// Submitted records every submitted action in order.
	Submitted []settle.Action
}

var _ settle.Settlement = (*Settlement)(nil)

func (s *Settlement) Submit(_ context.Context, act settle.Action) (*settle.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubmitErr != nil {
		return nil, s.SubmitErr
	}
	s.Submitted = append(s.Submitted, act)
	return &settle.Receipt{
		Ref: fmt.Sprintf("settlement-%s-%d", act.ProposalID, len(s.Submitted)),
	}, nil
}

func (s *Settlement) Status(context.Context, *settle.Receipt) (settle.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatusErr != nil {
		return settle.ConfirmationInvalid, s.StatusErr
	}
	if s.Confirmation == settle.ConfirmationInvalid {
		return settle.ConfirmationConfirmed, nil
	}
	return s.Confirmation, nil
}

// SubmitCount returns how many actions were settled.
func (s *Settlement) SubmitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Submitted)
}

// Oracle is an oracle.BalanceOracle double serving fixed balances keyed by
// address. Unknown actors hold a zero balance.
type Oracle struct {
	Balances map[string]amount.Amount
	// Err, when set, fails every query.
	Err error
}

func (o *Oracle) BalanceAt(_ context.Context, actor accord.Address, _ accord.UnixTime) (amount.Amount, error) {
	if o.Err != nil {
		return amount.Amount{}, o.Err
	}
	return o.Balances[actor.String()], nil
}

// Sink is an audit.Sink double capturing every appended event.
type Sink struct {
	mu sync.Mutex
	// Err, when set, fails every append.
	Err    error
	Events []audit.Event
}

var _ audit.Sink = (*Sink)(nil)

func (s *Sink) Append(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Events = append(s.Events, ev)
	return nil
}

// TypesSeen returns the event types in append order.
func (s *Sink) TypesSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Events))
	for i, ev := range s.Events {
		out[i] = ev.Type
	}
	return out
}

// TransientErr returns a fresh transient infrastructure failure.
func TransientErr(msg string) error {
	return errors.Wrap(errors.ErrTransient, msg)
}
