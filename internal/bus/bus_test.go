package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentoven/conductor/pkg/models"
)

func envelope(kind models.EventKind, agentID string) models.EventEnvelope {
	return models.EventEnvelope{
		SourceEventID: "evt-1",
		AgentID:       agentID,
		Event:         models.EventPayload{Kind: kind},
	}
}

func TestPublishInvokesMatchingHandlersInOrder(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe(Filter{}, func(models.EventEnvelope) { order = append(order, "first") })
	b.Subscribe(Filter{}, func(models.EventEnvelope) { order = append(order, "second") })

	b.Publish(envelope(models.EventStatus, "a1"))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublishFiltersByKindAndAgent(t *testing.T) {
	b := New()
	var got []models.EventEnvelope
	b.Subscribe(Filter{EventKind: models.EventArtifact, AgentID: "a1"}, func(e models.EventEnvelope) {
		got = append(got, e)
	})

	b.Publish(envelope(models.EventStatus, "a1"))
	b.Publish(envelope(models.EventArtifact, "a2"))
	b.Publish(envelope(models.EventArtifact, "a1"))

	assert.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].AgentID)
}

func TestHandlerPanicIsolatedFromOtherSubscribers(t *testing.T) {
	b := New()
	secondRan := false
	b.Subscribe(Filter{}, func(models.EventEnvelope) { panic("boom") })
	b.Subscribe(Filter{}, func(models.EventEnvelope) { secondRan = true })

	assert.NotPanics(t, func() { b.Publish(envelope(models.EventStatus, "a1")) })
	assert.True(t, secondRan)
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	id := b.Subscribe(Filter{}, func(models.EventEnvelope) { count++ })

	b.Publish(envelope(models.EventStatus, "a1"))
	b.Unsubscribe(id)
	b.Unsubscribe(id) // idempotent
	b.Publish(envelope(models.EventStatus, "a1"))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.SubscriberCount())
}
