package engine

import (
	"context"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/audit"
)

// Domain event types emitted to the audit sink.
const (
	EventProposalCreated        = "proposal_created"
	EventEndorsementRecorded    = "endorsement_recorded"
	EventProposalRejected       = "proposal_rejected"
	EventProposalExpired        = "proposal_expired"
	EventProposalExecuted       = "proposal_executed"
	EventReconciliationRequired = "reconciliation_required"
)

// publish appends to the audit sink. Appending is fire and forget: a sink
// failure never blocks the proposal's own state transition, it is only
// logged so the sink's own infrastructure can alert on it.
func publish(ctx context.Context, sink audit.Sink, ev audit.Event) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, ev); err != nil {
		log.Warnf("audit append failed for %s on proposal %s: %v", ev.Type, ev.ProposalID, err)
	}
}

func eventProposalCreated(p *Proposal) audit.Event {
	ev := audit.Event{
		Type:       EventProposalCreated,
		ProposalID: string(p.ID),
		At:         p.CreatedAt,
		Detail: map[string]string{
			"kind":       p.Kind.String(),
			"expires_at": p.ExpiresAt.Time().UTC().Format("2006-01-02T15:04:05Z"),
		},
	}
	if p.SubjectAmount != nil {
		ev.Detail["amount"] = p.SubjectAmount.String()
	}
	return ev
}

func eventEndorsementRecorded(id ProposalID, e Endorsement) audit.Event {
	return audit.Event{
		Type:       EventEndorsementRecorded,
		ProposalID: string(id),
		Actor:      e.Actor.String(),
		At:         e.RecordedAt,
		Detail: map[string]string{
			"polarity": e.Polarity.String(),
			"weight":   e.Weight.String(),
		},
	}
}

func eventProposalRejected(id ProposalID, reason string, at accord.UnixTime) audit.Event {
	return audit.Event{
		Type:       EventProposalRejected,
		ProposalID: string(id),
		At:         at,
		Detail:     map[string]string{"reason": reason},
	}
}

func eventProposalExpired(id ProposalID, at accord.UnixTime) audit.Event {
	return audit.Event{
		Type:       EventProposalExpired,
		ProposalID: string(id),
		At:         at,
	}
}

func eventProposalExecuted(id ProposalID, r *ExecutionReceipt) audit.Event {
	return audit.Event{
		Type:       EventProposalExecuted,
		ProposalID: string(id),
		At:         r.ExecutedAt,
		Detail:     map[string]string{"ref": r.Ref},
	}
}

func eventReconciliationRequired(id ProposalID, r *ExecutionReceipt, at accord.UnixTime) audit.Event {
	return audit.Event{
		Type:       EventReconciliationRequired,
		ProposalID: string(id),
		At:         at,
		Detail:     map[string]string{"ref": r.Ref},
	}
}
