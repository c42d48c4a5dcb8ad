// Package injector implements the context injection scheduler: per-agent
// tracked state with periodic, staleness, and reactive triggers that
// decide when to push a fresh knowledge snapshot into a running agent.
package injector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

// Priority names why an injection was scheduled.
type Priority string

const (
	PriorityRequired      Priority = "required"
	PriorityRecommended   Priority = "recommended"
	PrioritySupplementary Priority = "supplementary"
)

// SnapshotProvider is the subset of the knowledge store the scheduler
// needs: a versioned, JSON-serializable snapshot, optionally scoped to
// one agent.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, forAgent *string) (models.KnowledgeSnapshot, error)
}

// Plugin is the subset of the gateway's plugin contract the scheduler
// calls into.
type Plugin interface {
	InjectContext(ctx context.Context, handle models.AgentHandle, payload InjectionPayload) error
}

// InjectionPayload is delivered to the plugin on a successful schedule.
type InjectionPayload struct {
	Content         string   `json:"content"`
	Format          string   `json:"format"`
	SnapshotVersion int64    `json:"snapshotVersion"`
	EstimatedTokens int64    `json:"estimatedTokens"`
	Priority        Priority `json:"priority"`
	IsDelta         bool     `json:"isDelta,omitempty"`
}

type trackedAgent struct {
	handle              models.AgentHandle
	brief               models.AgentBrief
	policy              models.ContextInjectionPolicy
	lastInjectionTick   int64
	lastSnapshotVersion int64
	stalenessCounter    int
	injectionTimestamps []time.Time
	hasEverInjected     bool
}

// Scheduler tracks per-agent injection state behind a single mutex,
// released before the (possibly slow) plugin call per §5.
type Scheduler struct {
	mu     sync.Mutex
	agents map[string]*trackedAgent
	store  SnapshotProvider
	plugin Plugin
}

// New creates a scheduler backed by store for snapshots and plugin for
// delivery.
func New(store SnapshotProvider, plugin Plugin) *Scheduler {
	return &Scheduler{agents: make(map[string]*trackedAgent), store: store, plugin: plugin}
}

// Register starts tracking an agent for injection scheduling with the
// given policy. When a brief carries no policy, the caller passes the
// control-mode default (internal/control).
func (s *Scheduler) Register(handle models.AgentHandle, brief models.AgentBrief, policy models.ContextInjectionPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[handle.ID] = &trackedAgent{handle: handle, brief: brief, policy: policy, lastSnapshotVersion: -1}
}

// Unregister stops tracking an agent.
func (s *Scheduler) Unregister(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, agentID)
}

// OnTick evaluates the periodic trigger for every tracked, running
// agent.
func (s *Scheduler) OnTick(ctx context.Context, currentTick int64) {
	for _, agentID := range s.trackedIDs() {
		s.mu.Lock()
		t, ok := s.agents[agentID]
		if !ok {
			s.mu.Unlock()
			continue
		}
		interval := t.policy.PeriodicIntervalTicks
		due := interval != nil && currentTick-t.lastInjectionTick >= *interval
		s.mu.Unlock()
		if due {
			s.scheduleInjection(ctx, agentID, "periodic", PriorityRecommended, currentTick)
		}
	}
}

// OnBusEvent evaluates the staleness and reactive triggers for every
// tracked agent against a single observed event.
func (s *Scheduler) OnBusEvent(ctx context.Context, e models.EventEnvelope, currentTick int64) {
	for _, agentID := range s.trackedIDs() {
		s.mu.Lock()
		t, ok := s.agents[agentID]
		if !ok {
			s.mu.Unlock()
			continue
		}
		differentAgent := e.AgentID != agentID
		readable := isReadableWorkstream(t.brief, e)
		if differentAgent && readable {
			t.stalenessCounter++
		}
		threshold := t.policy.StalenessThreshold
		staleDue := threshold != nil && t.stalenessCounter >= *threshold
		reactiveDue := matchesReactive(t.policy.ReactiveEvents, e)
		s.mu.Unlock()

		if staleDue {
			s.scheduleInjection(ctx, agentID, "staleness", PriorityRecommended, currentTick)
		}
		if reactiveDue {
			s.scheduleInjection(ctx, agentID, "reactive", PriorityRecommended, currentTick)
		}
	}
}

// OnBriefUpdated fires the brief_updated reactive trigger for a single
// agent, at required priority.
func (s *Scheduler) OnBriefUpdated(ctx context.Context, agentID string, currentTick int64) {
	s.scheduleInjection(ctx, agentID, "brief_updated", PriorityRequired, currentTick)
}

func (s *Scheduler) trackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// scheduleInjection runs the cooldown/rate-limit/dedup/budget gauntlet
// and, if all pass, delivers a fresh snapshot to the agent.
func (s *Scheduler) scheduleInjection(ctx context.Context, agentID, reason string, priority Priority, currentTick int64) bool {
	s.mu.Lock()
	t, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if t.handle.Status != models.AgentStatusRunning {
		s.mu.Unlock()
		return false
	}
	if priority != PriorityRequired && t.hasEverInjected && currentTick-t.lastInjectionTick < t.policy.CooldownTicks {
		s.mu.Unlock()
		return false
	}
	t.injectionTimestamps = pruneOlderThanHour(t.injectionTimestamps)
	if priority != PriorityRequired && t.policy.MaxInjectionsPerHour > 0 && len(t.injectionTimestamps) >= t.policy.MaxInjectionsPerHour {
		s.mu.Unlock()
		return false
	}
	handle := t.handle
	lastVersion := t.lastSnapshotVersion
	budget := t.brief.SessionPolicy.ContextBudgetTokens
	s.mu.Unlock()

	snapshot, err := s.store.GetSnapshot(ctx, &agentID)
	if err != nil {
		log.Error().Err(err).Str("agentId", agentID).Msg("injector: failed to read snapshot")
		return false
	}
	if lastVersion != -1 && snapshot.Version == lastVersion {
		return false
	}
	if budget > 0 && snapshot.EstimatedTokens > int64(budget) && priority == PrioritySupplementary {
		return false
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Err(err).Msg("injector: failed to marshal snapshot")
		return false
	}
	payload := InjectionPayload{
		Content:         string(body),
		Format:          "json",
		SnapshotVersion: snapshot.Version,
		EstimatedTokens: snapshot.EstimatedTokens,
		Priority:        priority,
		IsDelta:         reason != "periodic",
	}

	if err := s.plugin.InjectContext(ctx, handle, payload); err != nil {
		log.Error().Err(err).Str("agentId", agentID).Str("reason", reason).Msg("injector: delivery failed")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok = s.agents[agentID]
	if !ok {
		return true
	}
	t.lastInjectionTick = currentTick
	t.lastSnapshotVersion = snapshot.Version
	t.stalenessCounter = 0
	t.injectionTimestamps = append(t.injectionTimestamps, time.Now().UTC())
	t.hasEverInjected = true
	return true
}

func pruneOlderThanHour(ts []time.Time) []time.Time {
	cutoff := time.Now().UTC().Add(-time.Hour)
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func isReadableWorkstream(brief models.AgentBrief, e models.EventEnvelope) bool {
	ws := workstreamOf(e)
	if ws == "" {
		return false
	}
	if ws == brief.Workstream {
		return true
	}
	for _, r := range brief.ReadableWorkstreams {
		if r == ws {
			return true
		}
	}
	return false
}

func workstreamOf(e models.EventEnvelope) string {
	if e.Event.Data == nil {
		return ""
	}
	if ws, ok := e.Event.Data["workstream"].(string); ok {
		return ws
	}
	return ""
}

func matchesReactive(rules []models.ReactiveEventRule, e models.EventEnvelope) bool {
	for _, r := range rules {
		if reactiveMatch(r, e) {
			return true
		}
	}
	return false
}

func reactiveMatch(rule models.ReactiveEventRule, e models.EventEnvelope) bool {
	switch rule.Trigger {
	case "artifact_approved":
		return e.Event.Kind == models.EventArtifact && statusField(e) == "approved"
	case "decision_resolved":
		return e.Event.Kind == models.EventDecision
	case "coherence_issue":
		if e.Event.Kind != models.EventCoherence {
			return false
		}
		min := models.Severity(rule.MinSeverity)
		if min == "" {
			return true
		}
		return severityField(e).AtLeast(min)
	case "agent_completed":
		return e.Event.Kind == models.EventCompletion
	case "brief_updated":
		return false // only fired synchronously via OnBriefUpdated
	default:
		return false
	}
}

func statusField(e models.EventEnvelope) string {
	if e.Event.Data == nil {
		return ""
	}
	if v, ok := e.Event.Data["status"].(string); ok {
		return v
	}
	return ""
}

func severityField(e models.EventEnvelope) models.Severity {
	if e.Event.Data == nil {
		return ""
	}
	if v, ok := e.Event.Data["severity"].(string); ok {
		return models.Severity(v)
	}
	return ""
}
