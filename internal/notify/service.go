// Package notify is the escalation notifier (§4.15): it fires a
// NotificationEvent — decision timed out, agent orphaned, brake
// engaged — to zero or more registered webhook channels. Adapted from
// the teacher's ChannelDriver abstraction with the MCP-tool dispatch
// path and multi-tenant channel store dropped; channels are a flat,
// in-process registry for a single project.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType names the escalation that triggered a notification.
type EventType string

const (
	EventDecisionTimedOut EventType = "decision_timed_out"
	EventAgentOrphaned    EventType = "agent_orphaned"
	EventBrakeEngaged     EventType = "brake_engaged"
)

// Event is the notification payload dispatched to every subscribed
// channel.
type Event struct {
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agentId,omitempty"`
	DecisionID string        `json:"decisionId,omitempty"`
	Workstream string        `json:"workstream,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(eventType EventType, agentID, decisionID, workstream string, payload map[string]any) Event {
	return Event{
		Type:       eventType,
		AgentID:    agentID,
		DecisionID: decisionID,
		Workstream: workstream,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// ChannelKind names a notification channel transport.
type ChannelKind string

const ChannelWebhook ChannelKind = "webhook"

// Channel is a registered notification destination.
type Channel struct {
	Name    string
	Kind    ChannelKind
	URL     string
	Secret  string   // optional HMAC signing key
	Events  []string // subscribed event types; empty means "all"
}

func (c Channel) subscribes(t EventType) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == string(t) || e == "*" {
			return true
		}
	}
	return false
}

// ChannelDriver sends an event to a channel of its kind.
type ChannelDriver interface {
	Kind() ChannelKind
	Send(ctx context.Context, channel Channel, event Event) error
}

// Result reports the outcome of dispatching to a single channel.
type Result struct {
	Channel   string
	Success   bool
	Error     string
	Timestamp time.Time
}

// Service dispatches escalation events to every registered channel that
// subscribes to the event's type.
type Service struct {
	client   *http.Client
	drivers  map[ChannelKind]ChannelDriver
	drvMu    sync.RWMutex
	channels []Channel
	chMu     sync.RWMutex
}

// NewService creates a notification service with the built-in webhook
// driver registered.
func NewService() *Service {
	svc := &Service{
		client:  &http.Client{Timeout: 15 * time.Second},
		drivers: make(map[ChannelKind]ChannelDriver),
	}
	svc.RegisterDriver(&WebhookChannelDriver{client: svc.client})
	return svc
}

// RegisterDriver adds or replaces a channel driver for the given kind.
func (s *Service) RegisterDriver(driver ChannelDriver) {
	s.drvMu.Lock()
	defer s.drvMu.Unlock()
	s.drivers[driver.Kind()] = driver
	log.Info().Str("kind", string(driver.Kind())).Msg("notify: registered channel driver")
}

func (s *Service) driver(kind ChannelKind) ChannelDriver {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	return s.drivers[kind]
}

// RegisterChannel adds a webhook destination. Multiple channels may
// subscribe to the same event type.
func (s *Service) RegisterChannel(ch Channel) {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	s.channels = append(s.channels, ch)
}

// Channels returns every registered channel.
func (s *Service) Channels() []Channel {
	s.chMu.RLock()
	defer s.chMu.RUnlock()
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Notify dispatches event to every channel subscribed to its type,
// concurrently, and returns one Result per attempted channel.
func (s *Service) Notify(ctx context.Context, event Event) []Result {
	s.chMu.RLock()
	channels := make([]Channel, len(s.channels))
	copy(channels, s.channels)
	s.chMu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)
	for _, ch := range channels {
		if !ch.subscribes(event.Type) {
			continue
		}
		wg.Add(1)
		go func(channel Channel) {
			defer wg.Done()
			r := s.dispatch(ctx, channel, event)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	return results
}

func (s *Service) dispatch(ctx context.Context, channel Channel, event Event) Result {
	result := Result{Channel: channel.Name, Timestamp: time.Now().UTC()}

	driver := s.driver(channel.Kind)
	if driver == nil {
		result.Error = fmt.Sprintf("no driver registered for channel kind %s", channel.Kind)
		log.Warn().Str("kind", string(channel.Kind)).Str("channel", channel.Name).Msg("notify: no channel driver")
		return result
	}

	if err := driver.Send(ctx, channel, event); err != nil {
		result.Error = err.Error()
		log.Warn().Err(err).Str("channel", channel.Name).Str("event", string(event.Type)).Msg("notify: dispatch failed")
		return result
	}
	result.Success = true
	log.Info().Str("channel", channel.Name).Str("event", string(event.Type)).Msg("notify: dispatched")
	return result
}

// ── Webhook channel driver (OSS built-in) ────────────────────

// WebhookChannelDriver sends notifications via HTTP POST with optional
// HMAC-SHA256 signing. This is the only OSS driver; Slack/Teams/Discord
// drivers are a Pro-only extension point registered the same way.
type WebhookChannelDriver struct {
	client *http.Client
}

func (d *WebhookChannelDriver) Kind() ChannelKind { return ChannelWebhook }

func (d *WebhookChannelDriver) Send(ctx context.Context, channel Channel, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "conductor-webhook/1.0")
	req.Header.Set("X-Conductor-Event", string(event.Type))

	if channel.Secret != "" {
		mac := hmac.New(sha256.New, []byte(channel.Secret))
		mac.Write(body)
		req.Header.Set("X-Conductor-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*2) * time.Second)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, channel.URL)
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}
