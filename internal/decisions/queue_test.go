package decisions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/decisions"
	"github.com/agentoven/conductor/pkg/models"
)

func optionEvent(agentID, recommended string) models.EventEnvelope {
	return models.EventEnvelope{
		AgentID: agentID,
		Event: models.EventPayload{
			Kind: models.EventDecision,
			Decision: &models.DecisionPayload{
				Kind:                models.DecisionOption,
				Severity:            models.SeverityHigh,
				Options:              []models.DecisionChoice{{ID: "opt-1"}, {ID: "opt-2"}},
				RecommendedOptionID: recommended,
			},
		},
	}
}

func TestEnqueueIsIdempotentOnDecisionID(t *testing.T) {
	q := decisions.New()
	first := q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)
	second := q.Enqueue("d1", optionEvent("a1", "opt-2"), 5, 10)

	assert.Equal(t, first.EnqueuedAtTick, second.EnqueuedAtTick)
	assert.Len(t, q.ListAll(), 1)
}

func TestResolveIsExactlyOnce(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)

	_, ok := q.Resolve("d1", models.Resolution{Type: models.DecisionOption, ChosenOptionID: "opt-1"})
	require.True(t, ok)

	_, ok = q.Resolve("d1", models.Resolution{Type: models.DecisionOption, ChosenOptionID: "opt-2"})
	assert.False(t, ok, "second resolve must be rejected")
}

func TestWaitForResolutionFiresOnResolve(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)

	waitCh := q.WaitForResolution("d1")
	q.Resolve("d1", models.Resolution{Type: models.DecisionOption, ChosenOptionID: "opt-1"})

	resolution := <-waitCh
	assert.Equal(t, "opt-1", resolution.ChosenOptionID)
}

func TestWaitForResolutionReturnsImmediatelyIfAlreadyResolved(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)
	q.Resolve("d1", models.Resolution{Type: models.DecisionOption, ChosenOptionID: "opt-1"})

	resolution := <-q.WaitForResolution("d1")
	assert.Equal(t, "opt-1", resolution.ChosenOptionID)
}

func TestOnTickAutoResolvesPastDeadlineWithRecommendedOption(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)

	timedOut := q.OnTick(10)

	require.Len(t, timedOut, 1)
	assert.Equal(t, models.DecisionTimedOut, timedOut[0].Status)
	assert.Equal(t, "opt-1", timedOut[0].Resolution.ChosenOptionID)
	assert.Contains(t, timedOut[0].Resolution.Rationale, "timeout")
}

func TestOnTickLeavesDecisionsBeforeDeadlineAlone(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)

	timedOut := q.OnTick(5)

	assert.Empty(t, timedOut)
	d, _ := q.Get("d1")
	assert.Equal(t, models.DecisionPending, d.Status)
}

func TestHandleAgentKilledElevatesPriorityAndSetsTriage(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)
	before, _ := q.Get("d1")

	affected := q.HandleAgentKilled("a1")

	require.Len(t, affected, 1)
	assert.Equal(t, models.DecisionTriage, affected[0].Status)
	assert.Equal(t, before.Priority+100, affected[0].Priority)
	assert.Equal(t, "agent killed", affected[0].Badge)
}

func TestSuspendAndResumeAgentDecisionsIsReversible(t *testing.T) {
	q := decisions.New()
	q.Enqueue("d1", optionEvent("a1", "opt-1"), 0, 10)

	q.SuspendAgentDecisions("a1")
	d, _ := q.Get("d1")
	assert.Equal(t, models.DecisionSuspended, d.Status)

	// suspended decisions never time out
	timedOut := q.OnTick(9999)
	assert.Empty(t, timedOut)

	q.ResumeAgentDecisions("a1")
	d, _ = q.Get("d1")
	assert.Equal(t, models.DecisionPending, d.Status)
	assert.Empty(t, d.Badge)
}

func TestListPendingSortsByPriorityDescThenTickAsc(t *testing.T) {
	q := decisions.New()
	lowSeverity := optionEvent("a1", "opt-1")
	lowSeverity.Event.Decision.Severity = models.SeverityLow
	q.Enqueue("low", lowSeverity, 0, 10)
	q.Enqueue("high", optionEvent("a1", "opt-1"), 1, 10)

	pending := q.ListPending("")

	require.Len(t, pending, 2)
	assert.Equal(t, "high", pending[0].DecisionID)
	assert.Equal(t, "low", pending[1].DecisionID)
}
