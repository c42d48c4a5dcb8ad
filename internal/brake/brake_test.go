package brake_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/brake"
	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/pkg/models"
)

type fakeAgents struct {
	byWorkstream map[string][]string
	all          []string
}

func (f *fakeAgents) AgentsInWorkstream(workstream string) []string { return f.byWorkstream[workstream] }
func (f *fakeAgents) AllAgentIDs() []string                         { return f.all }

type fakeGateway struct {
	paused []string
	killed []string
}

func (f *fakeGateway) Pause(ctx context.Context, agentID string) (models.SerializedAgentState, error) {
	f.paused = append(f.paused, agentID)
	return models.SerializedAgentState{AgentID: agentID}, nil
}

func (f *fakeGateway) Kill(ctx context.Context, agentID string, opts transport.KillOptions) (transport.KillResult, error) {
	f.killed = append(f.killed, agentID)
	return transport.KillResult{CleanShutdown: true}, nil
}

type fakeQueue struct {
	suspended []string
	resumed   []string
}

func (f *fakeQueue) SuspendAgentDecisions(agentID string) []models.Decision {
	f.suspended = append(f.suspended, agentID)
	return nil
}

func (f *fakeQueue) ResumeAgentDecisions(agentID string) []models.Decision {
	f.resumed = append(f.resumed, agentID)
	return nil
}

type fakeBroadcast struct {
	states []models.BrakeState
}

func (f *fakeBroadcast) BroadcastBrake(state models.BrakeState) {
	f.states = append(f.states, state)
}

func TestEngageAllPausesEveryAgentAndSuspendsDecisions(t *testing.T) {
	agents := &fakeAgents{all: []string{"a1", "a2"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	bc := &fakeBroadcast{}
	e := brake.New(agents, gw, q, bc)

	state := e.Engage(context.Background(), models.BrakeScopeAll, "", models.BrakeBehaviorPause, models.ReleaseCondition{Kind: models.ReleaseManual})

	assert.True(t, state.Engaged)
	assert.ElementsMatch(t, []string{"a1", "a2"}, gw.paused)
	assert.ElementsMatch(t, []string{"a1", "a2"}, q.suspended)
	require.Len(t, bc.states, 1)
	assert.True(t, bc.states[0].Engaged)
}

func TestEngageWorkstreamScopeOnlyAffectsThatWorkstream(t *testing.T) {
	agents := &fakeAgents{byWorkstream: map[string][]string{"ws1": {"a1"}}, all: []string{"a1", "a2"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	e := brake.New(agents, gw, q, &fakeBroadcast{})

	e.Engage(context.Background(), models.BrakeScopeWorkstream, "ws1", models.BrakeBehaviorKill, models.ReleaseCondition{Kind: models.ReleaseManual})

	assert.Equal(t, []string{"a1"}, gw.killed)
}

func TestEngageAgentScopeAffectsOnlyThatAgent(t *testing.T) {
	agents := &fakeAgents{all: []string{"a1", "a2"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	e := brake.New(agents, gw, q, &fakeBroadcast{})

	e.Engage(context.Background(), models.BrakeScopeAgent, "a2", models.BrakeBehaviorPause, models.ReleaseCondition{Kind: models.ReleaseManual})

	assert.Equal(t, []string{"a2"}, gw.paused)
}

func TestReleaseResumesSuspendedDecisionsForPriorScope(t *testing.T) {
	agents := &fakeAgents{all: []string{"a1", "a2"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	bc := &fakeBroadcast{}
	e := brake.New(agents, gw, q, bc)

	e.Engage(context.Background(), models.BrakeScopeAll, "", models.BrakeBehaviorPause, models.ReleaseCondition{Kind: models.ReleaseManual})
	state := e.Release(context.Background())

	assert.False(t, state.Engaged)
	assert.ElementsMatch(t, []string{"a1", "a2"}, q.resumed)
	assert.False(t, e.State().Engaged)
}

func TestOnTickReleasesAfterTimerElapses(t *testing.T) {
	agents := &fakeAgents{all: []string{"a1"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	e := brake.New(agents, gw, q, &fakeBroadcast{})

	e.Engage(context.Background(), models.BrakeScopeAll, "", models.BrakeBehaviorPause, models.ReleaseCondition{Kind: models.ReleaseTimer, AfterTicks: 5})

	e.OnTick(context.Background(), 3, 0)
	assert.True(t, e.State().Engaged)

	e.OnTick(context.Background(), 5, 0)
	assert.False(t, e.State().Engaged)
}

func TestOnDecisionResolvedReleasesOnlyMatchingDecision(t *testing.T) {
	agents := &fakeAgents{all: []string{"a1"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	e := brake.New(agents, gw, q, &fakeBroadcast{})

	e.Engage(context.Background(), models.BrakeScopeAll, "", models.BrakeBehaviorPause, models.ReleaseCondition{Kind: models.ReleaseDecision, DecisionID: "d1"})

	e.OnDecisionResolved(context.Background(), "other")
	assert.True(t, e.State().Engaged)

	e.OnDecisionResolved(context.Background(), "d1")
	assert.False(t, e.State().Engaged)
}

func TestManualReleaseConditionRequiresExplicitRelease(t *testing.T) {
	agents := &fakeAgents{all: []string{"a1"}}
	gw := &fakeGateway{}
	q := &fakeQueue{}
	e := brake.New(agents, gw, q, &fakeBroadcast{})

	e.Engage(context.Background(), models.BrakeScopeAll, "", models.BrakeBehaviorPause, models.ReleaseCondition{Kind: models.ReleaseManual})
	e.OnTick(context.Background(), 1000, 0)

	assert.True(t, e.State().Engaged)
}
