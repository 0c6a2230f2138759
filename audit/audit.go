// Package audit declares the append-only domain event log consumed by the
// engine. Appending is fire and forget from the engine's perspective: a
// failure to log never blocks a proposal's own state transition.
package audit

import (
	"context"
	"sort"
	"strings"

	"github.com/accord-one/accord"
)

// Event is a single domain event. Detail carries event specific fields in a
// flat string form so that sinks stay codec agnostic.
type Event struct {
	Type       string            `json:"type"`
	ProposalID string            `json:"proposal_id"`
	Actor      string            `json:"actor,omitempty"`
	At         accord.UnixTime   `json:"at"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Sink is the external collaborator receiving domain events.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// NopSink drops every event.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) Append(context.Context, Event) error { return nil }

// String renders the event in a stable single line form, detail keys sorted.
func (ev Event) String() string {
	var b strings.Builder
	b.WriteString(ev.Type)
	b.WriteString(" proposal=")
	b.WriteString(ev.ProposalID)
	if ev.Actor != "" {
		b.WriteString(" actor=")
		b.WriteString(ev.Actor)
	}
	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(ev.Detail[k])
	}
	return b.String()
}
