// Package brake implements the emergency brake: an engage/release
// switch scoped to all agents, one agent, or one workstream, which
// pauses or kills the affected agents and suspends their pending
// decisions for the duration of the brake.
package brake

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/pkg/models"
)

// AgentLookup resolves which agents are affected by a scope.
type AgentLookup interface {
	AgentsInWorkstream(workstream string) []string
	AllAgentIDs() []string
}

// Gateway is the subset of the agent gateway the brake needs.
type Gateway interface {
	Pause(ctx context.Context, agentID string) (models.SerializedAgentState, error)
	Kill(ctx context.Context, agentID string, opts transport.KillOptions) (transport.KillResult, error)
}

// DecisionQueue is the subset of the decision queue the brake needs.
type DecisionQueue interface {
	SuspendAgentDecisions(agentID string) []models.Decision
	ResumeAgentDecisions(agentID string) []models.Decision
}

// Broadcaster publishes the brake WS message.
type Broadcaster interface {
	BroadcastBrake(state models.BrakeState)
}

// Engine holds brake state behind a mutex and propagates engage/release
// to the gateway and decision queue.
type Engine struct {
	mu      sync.Mutex
	state   models.BrakeState
	agents  AgentLookup
	gateway Gateway
	queue   DecisionQueue
	bcast   Broadcaster
}

// New creates a disengaged brake.
func New(agents AgentLookup, gateway Gateway, queue DecisionQueue, bcast Broadcaster) *Engine {
	return &Engine{agents: agents, gateway: gateway, queue: queue, bcast: bcast}
}

// State returns a copy of the current brake state.
func (e *Engine) State() models.BrakeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Engage pauses or kills every agent in scope and suspends their
// pending decisions. Failures to pause/kill an individual agent are
// logged and do not abort the rest of the scope.
func (e *Engine) Engage(ctx context.Context, scope models.BrakeScopeKind, scopeTarget string, behavior models.BrakeBehavior, release models.ReleaseCondition) models.BrakeState {
	targets := e.targetsFor(scope, scopeTarget)

	for _, agentID := range targets {
		var err error
		if behavior == models.BrakeBehaviorKill {
			_, err = e.gateway.Kill(ctx, agentID, transport.KillOptions{Grace: true})
		} else {
			_, err = e.gateway.Pause(ctx, agentID)
		}
		if err != nil {
			log.Error().Err(err).Str("agentId", agentID).Str("behavior", string(behavior)).Msg("brake: failed to apply to agent")
		}
		e.queue.SuspendAgentDecisions(agentID)
	}

	e.mu.Lock()
	e.state = models.BrakeState{
		Engaged:          true,
		Scope:            scope,
		ScopeTarget:      scopeTarget,
		Behavior:         behavior,
		ReleaseCondition: release,
		EngagedAt:        time.Now().UTC(),
	}
	state := e.state
	e.mu.Unlock()

	if e.bcast != nil {
		e.bcast.BroadcastBrake(state)
	}
	return state
}

// Release disengages the brake and resumes any suspended decisions for
// the agents that were in scope. It does not un-pause or un-kill
// affected agents — resume/respawn is a separate, explicit operation.
func (e *Engine) Release(ctx context.Context) models.BrakeState {
	e.mu.Lock()
	prevScope, prevTarget := e.state.Scope, e.state.ScopeTarget
	e.mu.Unlock()

	targets := e.targetsFor(prevScope, prevTarget)
	for _, agentID := range targets {
		e.queue.ResumeAgentDecisions(agentID)
	}

	e.mu.Lock()
	e.state = models.BrakeState{Engaged: false}
	state := e.state
	e.mu.Unlock()

	if e.bcast != nil {
		e.bcast.BroadcastBrake(state)
	}
	return state
}

// OnTick checks a timer-based release condition.
func (e *Engine) OnTick(ctx context.Context, currentTick, engagedAtTick int64) {
	e.mu.Lock()
	engaged := e.state.Engaged
	cond := e.state.ReleaseCondition
	e.mu.Unlock()
	if engaged && cond.Kind == models.ReleaseTimer && currentTick-engagedAtTick >= cond.AfterTicks {
		e.Release(ctx)
	}
}

// OnDecisionResolved checks a decision-based release condition.
func (e *Engine) OnDecisionResolved(ctx context.Context, decisionID string) {
	e.mu.Lock()
	engaged := e.state.Engaged
	cond := e.state.ReleaseCondition
	e.mu.Unlock()
	if engaged && cond.Kind == models.ReleaseDecision && cond.DecisionID == decisionID {
		e.Release(ctx)
	}
}

func (e *Engine) targetsFor(scope models.BrakeScopeKind, scopeTarget string) []string {
	switch scope {
	case models.BrakeScopeAgent:
		return []string{scopeTarget}
	case models.BrakeScopeWorkstream:
		return e.agents.AgentsInWorkstream(scopeTarget)
	default:
		return e.agents.AllAgentIDs()
	}
}
