// Package decisions implements the pending-decision queue: option and
// tool-approval requests awaiting resolution, with priority ordering,
// timeout auto-resolution, and orphan/suspend handling for agent
// lifecycle changes. The resolution-wait mechanics are the same shape
// as the teacher's workflow engine human-gate channel registry,
// generalized from a boolean approve/reject to a structured
// models.Resolution.
package decisions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/conductor/pkg/models"
)

var severityBase = map[models.Severity]int{
	models.SeverityWarning:  10,
	models.SeverityLow:      20,
	models.SeverityMedium:   30,
	models.SeverityHigh:     40,
	models.SeverityCritical: 50,
}

const orphanPriorityBoost = 100

// Queue holds pending decisions and their resolution waiters behind a
// single mutex, matching §5's "guarded by a single mutex covering {map
// of decisions, waiter table}" rule. Waiter channels are completed
// while holding the mutex; callers registered via WaitForResolution
// must not call back into the queue from their continuation.
type Queue struct {
	mu        sync.Mutex
	decisions map[string]*entry
	waiters   map[string][]chan models.Resolution
}

type entry struct {
	decision   models.Decision
	defaultTTL int64 // policy.timeoutTicks fallback, -1 disables
}

// New creates an empty decision queue.
func New() *Queue {
	return &Queue{
		decisions: make(map[string]*entry),
		waiters:   make(map[string][]chan models.Resolution),
	}
}

func priorityFor(d models.DecisionPayload) int {
	if d.Severity == "" {
		return severityBase[models.SeverityWarning]
	}
	return severityBase[d.Severity]
}

// Enqueue adds a decision event at currentTick. A duplicate decisionId
// is silently ignored — enqueue is idempotent by design.
func (q *Queue) Enqueue(id string, event models.EventEnvelope, currentTick int64, defaultTimeoutTicks int64) models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.decisions[id]; ok {
		return existing.decision
	}
	if id == "" {
		id = uuid.NewString()
	}

	payload := event.Event.Decision
	if payload == nil {
		payload = &models.DecisionPayload{}
	}

	d := models.Decision{
		DecisionID:     id,
		AgentID:        event.AgentID,
		Event:          event,
		Status:         models.DecisionPending,
		EnqueuedAtTick: currentTick,
		Priority:       priorityFor(*payload),
	}
	q.decisions[id] = &entry{decision: d, defaultTTL: defaultTimeoutTicks}
	return d
}

// Resolve atomically sets status=resolved and fires every waiter.
// Returns (the resolved decision, true) on success; (zero, false) if the decision
// is missing or already terminal — callers must interpret that as 409.
func (q *Queue) Resolve(id string, resolution models.Resolution) (models.Decision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolveLocked(id, resolution)
}

func (q *Queue) resolveLocked(id string, resolution models.Resolution) (models.Decision, bool) {
	e, ok := q.decisions[id]
	if !ok || e.decision.Status.Terminal() {
		return models.Decision{}, false
	}
	now := time.Now().UTC()
	e.decision.Status = models.DecisionResolved
	e.decision.Resolution = &resolution
	e.decision.ResolvedAt = &now

	for _, ch := range q.waiters[id] {
		ch <- resolution
		close(ch)
	}
	delete(q.waiters, id)
	return e.decision, true
}

// WaitForResolution returns a channel that receives the resolution once
// the decision becomes terminal. If already resolved, the channel is
// pre-loaded and closed immediately.
func (q *Queue) WaitForResolution(id string) <-chan models.Resolution {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan models.Resolution, 1)
	e, ok := q.decisions[id]
	if ok && e.decision.Resolution != nil {
		ch <- *e.decision.Resolution
		close(ch)
		return ch
	}
	q.waiters[id] = append(q.waiters[id], ch)
	return ch
}

// Get returns the current state of a decision.
func (q *Queue) Get(id string) (models.Decision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.decisions[id]
	if !ok {
		return models.Decision{}, false
	}
	return e.decision, true
}

// ListPending returns pending decisions, optionally filtered by agent,
// sorted by priority descending then enqueuedAtTick ascending.
func (q *Queue) ListPending(agentID string) []models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.Decision, 0)
	for _, e := range q.decisions {
		if e.decision.Status != models.DecisionPending {
			continue
		}
		if agentID != "" && e.decision.AgentID != agentID {
			continue
		}
		out = append(out, e.decision)
	}
	sortByPriority(out)
	return out
}

// ListAll returns every decision regardless of status.
func (q *Queue) ListAll() []models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Decision, 0, len(q.decisions))
	for _, e := range q.decisions {
		out = append(out, e.decision)
	}
	sortByPriority(out)
	return out
}

func sortByPriority(ds []models.Decision) {
	// insertion sort: lists stay small (pending decisions per project),
	// and this keeps the tie-break rule (enqueuedAtTick ascending)
	// explicit rather than relying on sort.Slice's instability.
	for i := 1; i < len(ds); i++ {
		j := i
		for j > 0 && less(ds[j], ds[j-1]) {
			ds[j], ds[j-1] = ds[j-1], ds[j]
			j--
		}
	}
}

func less(a, b models.Decision) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.EnqueuedAtTick < b.EnqueuedAtTick
}

// HandleAgentKilled moves every pending decision for agentID to triage,
// elevates its priority by 100, and stamps a badge. This is destructive
// — there is no automatic path back to pending.
func (q *Queue) HandleAgentKilled(agentID string) []models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	affected := make([]models.Decision, 0)
	for _, e := range q.decisions {
		if e.decision.AgentID != agentID || e.decision.Status != models.DecisionPending {
			continue
		}
		e.decision.Status = models.DecisionTriage
		e.decision.Badge = "agent killed"
		e.decision.Priority += orphanPriorityBoost
		affected = append(affected, e.decision)
	}
	return affected
}

// SuspendAgentDecisions toggles every pending decision for agentID to
// suspended, reversibly.
func (q *Queue) SuspendAgentDecisions(agentID string) []models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()
	affected := make([]models.Decision, 0)
	for _, e := range q.decisions {
		if e.decision.AgentID != agentID || e.decision.Status != models.DecisionPending {
			continue
		}
		e.decision.Status = models.DecisionSuspended
		e.decision.Badge = "source agent braked"
		affected = append(affected, e.decision)
	}
	return affected
}

// ResumeAgentDecisions toggles suspended decisions for agentID back to
// pending and clears the badge.
func (q *Queue) ResumeAgentDecisions(agentID string) []models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()
	affected := make([]models.Decision, 0)
	for _, e := range q.decisions {
		if e.decision.AgentID != agentID || e.decision.Status != models.DecisionSuspended {
			continue
		}
		e.decision.Status = models.DecisionPending
		e.decision.Badge = ""
		affected = append(affected, e.decision)
	}
	return affected
}

// OnTick auto-resolves any pending decision whose effective deadline has
// passed. Suspended decisions never time out. Returns the decisions
// that were auto-resolved this tick.
func (q *Queue) OnTick(currentTick int64) []models.Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	timedOut := make([]models.Decision, 0)
	for id, e := range q.decisions {
		if e.decision.Status != models.DecisionPending {
			continue
		}
		deadline, disabled := effectiveDeadline(e, e.decision)
		if disabled || deadline > currentTick {
			continue
		}

		resolution := timeoutResolution(e.decision.Event.Event.Decision)
		e.decision.Resolution = &resolution
		now := time.Now().UTC()
		e.decision.ResolvedAt = &now
		e.decision.Status = models.DecisionTimedOut

		for _, ch := range q.waiters[id] {
			ch <- resolution
			close(ch)
		}
		delete(q.waiters, id)
		timedOut = append(timedOut, e.decision)
	}
	return timedOut
}

func effectiveDeadline(e *entry, d models.Decision) (int64, bool) {
	if d.Event.Event.Decision != nil && d.Event.Event.Decision.DueByTick != nil {
		return *d.Event.Event.Decision.DueByTick, false
	}
	if e.defaultTTL < 0 {
		return 0, true
	}
	return d.EnqueuedAtTick + e.defaultTTL, false
}

func timeoutResolution(payload *models.DecisionPayload) models.Resolution {
	if payload != nil && payload.Kind == models.DecisionToolApproval {
		return models.Resolution{
			Type:       models.DecisionToolApproval,
			Action:     models.ToolActionApprove,
			Rationale:  "timeout: default approve",
			ActionKind: models.ActionKindReview,
		}
	}
	chosen := ""
	if payload != nil {
		chosen = payload.RecommendedOptionID
		if chosen == "" && len(payload.Options) > 0 {
			chosen = payload.Options[0].ID
		}
	}
	return models.Resolution{
		Type:           models.DecisionOption,
		ChosenOptionID: chosen,
		Rationale:      "timeout: auto-selected recommended option",
		ActionKind:     models.ActionKindReview,
	}
}
