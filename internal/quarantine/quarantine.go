// Package quarantine triages raw ingested events before they reach the
// bus. Events that fail structural validation are stored separately
// rather than published, so a malformed adapter payload can never
// corrupt decision queues, trust scores, or the knowledge snapshot.
package quarantine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

// Store persists quarantined events, mirroring the store package's
// quarantine surface.
type Store interface {
	Quarantine(ctx context.Context, q models.QuarantinedEvent) error
	ListQuarantine(ctx context.Context) ([]models.QuarantinedEvent, error)
	ClearQuarantine(ctx context.Context) error
}

var validKinds = map[models.EventKind]bool{
	models.EventStatus:      true,
	models.EventDecision:    true,
	models.EventArtifact:    true,
	models.EventCoherence:   true,
	models.EventToolCall:    true,
	models.EventCompletion:  true,
	models.EventError:       true,
	models.EventDelegation:  true,
	models.EventGuardrail:   true,
	models.EventLifecycle:   true,
	models.EventProgress:    true,
	models.EventRawProvider: true,
}

// Gate validates inbound envelopes and routes the malformed ones to
// quarantine instead of the bus.
type Gate struct {
	store Store
}

// New creates a quarantine gate backed by store.
func New(store Store) *Gate {
	return &Gate{store: store}
}

// Validate checks e for structural well-formedness: a known event
// kind, a non-empty agent and source event id, and (for decision
// events) a present decision payload. It returns a non-empty reason
// when e should be quarantined rather than published.
func (g *Gate) Validate(e models.EventEnvelope) (reason string, ok bool) {
	if e.AgentID == "" {
		return "missing agentId", false
	}
	if e.SourceEventID == "" {
		return "missing sourceEventId", false
	}
	if !validKinds[e.Event.Kind] {
		return fmt.Sprintf("unknown event kind %q", e.Event.Kind), false
	}
	if e.Event.Kind == models.EventDecision && e.Event.Decision == nil {
		return "decision event missing decision payload", false
	}
	return "", true
}

// Admit validates e (the envelope as decoded from the adapter payload);
// rawPayload is its original wire form, kept verbatim for diagnosis. On
// success it returns e unchanged for the caller to publish; on failure
// it quarantines rawPayload with the reason and returns ok=false.
func (g *Gate) Admit(ctx context.Context, e models.EventEnvelope, rawPayload string) (models.EventEnvelope, bool) {
	reason, ok := g.Validate(e)
	if ok {
		return e, true
	}

	log.Warn().
		Str("agentId", e.AgentID).
		Str("sourceEventId", e.SourceEventID).
		Str("reason", reason).
		Msg("quarantine: rejecting malformed event")

	if err := g.store.Quarantine(ctx, models.QuarantinedEvent{
		RawPayload: rawPayload,
		Reason:     reason,
	}); err != nil {
		log.Error().Err(err).Msg("quarantine: failed to persist quarantined event")
	}
	return models.EventEnvelope{}, false
}

// List returns every currently quarantined event.
func (g *Gate) List(ctx context.Context) ([]models.QuarantinedEvent, error) {
	return g.store.ListQuarantine(ctx)
}

// Clear discards all quarantined events, used after an operator has
// reviewed and triaged them.
func (g *Gate) Clear(ctx context.Context) error {
	return g.store.ClearQuarantine(ctx)
}
