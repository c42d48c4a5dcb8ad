package quarantine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/quarantine"
	"github.com/agentoven/conductor/pkg/models"
)

type fakeStore struct {
	quarantined []models.QuarantinedEvent
}

func (f *fakeStore) Quarantine(ctx context.Context, q models.QuarantinedEvent) error {
	f.quarantined = append(f.quarantined, q)
	return nil
}

func (f *fakeStore) ListQuarantine(ctx context.Context) ([]models.QuarantinedEvent, error) {
	return f.quarantined, nil
}

func (f *fakeStore) ClearQuarantine(ctx context.Context) error {
	f.quarantined = nil
	return nil
}

func validEnvelope() models.EventEnvelope {
	return models.EventEnvelope{
		SourceEventID: "se1",
		AgentID:       "a1",
		Event:         models.EventPayload{Kind: models.EventStatus},
	}
}

func TestAdmitAcceptsWellFormedEnvelope(t *testing.T) {
	store := &fakeStore{}
	g := quarantine.New(store)

	_, ok := g.Admit(context.Background(), validEnvelope(), "{}")
	assert.True(t, ok)
	assert.Empty(t, store.quarantined)
}

func TestAdmitRejectsMissingAgentID(t *testing.T) {
	store := &fakeStore{}
	g := quarantine.New(store)
	e := validEnvelope()
	e.AgentID = ""

	_, ok := g.Admit(context.Background(), e, "{}")
	assert.False(t, ok)
	require.Len(t, store.quarantined, 1)
	assert.Contains(t, store.quarantined[0].Reason, "agentId")
}

func TestAdmitRejectsUnknownEventKind(t *testing.T) {
	store := &fakeStore{}
	g := quarantine.New(store)
	e := validEnvelope()
	e.Event.Kind = models.EventKind("bogus")

	_, ok := g.Admit(context.Background(), e, "{}")
	assert.False(t, ok)
	require.Len(t, store.quarantined, 1)
}

func TestAdmitRejectsDecisionEventWithoutDecisionPayload(t *testing.T) {
	store := &fakeStore{}
	g := quarantine.New(store)
	e := validEnvelope()
	e.Event.Kind = models.EventDecision
	e.Event.Decision = nil

	_, ok := g.Admit(context.Background(), e, "{}")
	assert.False(t, ok)
}

func TestAdmitAcceptsDecisionEventWithPayload(t *testing.T) {
	store := &fakeStore{}
	g := quarantine.New(store)
	e := validEnvelope()
	e.Event.Kind = models.EventDecision
	e.Event.Decision = &models.DecisionPayload{}

	_, ok := g.Admit(context.Background(), e, "{}")
	assert.True(t, ok)
}

func TestClearRemovesAllQuarantinedEvents(t *testing.T) {
	store := &fakeStore{}
	g := quarantine.New(store)
	e := validEnvelope()
	e.AgentID = ""
	g.Admit(context.Background(), e, "{}")

	require.NoError(t, g.Clear(context.Background()))
	list, err := g.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
