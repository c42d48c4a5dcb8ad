// Package bus implements the control plane's in-process event bus:
// synchronous, filter-based publish/subscribe over EventEnvelopes.
// Unlike a typical fire-and-forget broadcast bus, publish must return
// only after every matching handler has run, so that downstream
// components (decision queue, trust engine, WS hub) observe a
// consistent ordering relative to the HTTP response that triggered the
// publish.
package bus

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

// Handler processes one envelope. Handlers must be fast and
// non-blocking; slow work should be deferred to a goroutine by the
// handler itself.
type Handler func(models.EventEnvelope)

// Filter narrows which envelopes a subscription receives. An empty
// Filter (zero value) matches everything.
type Filter struct {
	EventKind models.EventKind // "" = match any kind
	AgentID   string           // "" = match any agent
}

func (f Filter) matches(e models.EventEnvelope) bool {
	if f.EventKind != "" && f.EventKind != e.Event.Kind {
		return false
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	return true
}

type subscription struct {
	id      int64
	filter  Filter
	handler Handler
	active  bool
}

// Bus is the in-process synchronous pub/sub dispatcher.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID int64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler against filter and returns a subscription
// id usable with Unsubscribe. Subscriptions are invoked, on publish, in
// the order they were registered.
func (b *Bus) Subscribe(filter Filter, handler Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, filter: filter, handler: handler, active: true}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription. Idempotent — unsubscribing an
// unknown or already-removed id is a no-op.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.id == id {
			s.active = false
		}
	}
}

// Publish synchronously invokes every matching handler, in subscription
// order. A handler panic is recovered and logged; it never prevents
// later handlers in the same publish from running.
func (b *Bus) Publish(e models.EventEnvelope) {
	b.mu.Lock()
	snapshot := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.active {
			snapshot = append(snapshot, s)
		}
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		if !s.filter.matches(e) {
			continue
		}
		b.invoke(s, e)
	}
}

func (b *Bus) invoke(s *subscription, e models.EventEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Int64("subscriptionId", s.id).
				Str("sourceEventId", e.SourceEventID).
				Msg("⚠️ event bus handler panicked; isolated from other subscribers")
		}
	}()
	s.handler(e)
}

// SubscriberCount reports the number of currently active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s.active {
			n++
		}
	}
	return n
}
