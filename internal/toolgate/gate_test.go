package toolgate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/decisions"
	"github.com/agentoven/conductor/internal/toolgate"
	"github.com/agentoven/conductor/internal/trust"
	"github.com/agentoven/conductor/pkg/models"
)

type fakeHandles struct {
	handles map[string]models.AgentHandle
	status  map[string]string
}

func (f *fakeHandles) GetHandle(agentID string) (models.AgentHandle, bool) {
	h, ok := f.handles[agentID]
	return h, ok
}
func (f *fakeHandles) LastStatusMessage(agentID string) string { return f.status[agentID] }

type fakePlugin struct{ resolved []string }

func (f *fakePlugin) ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error {
	f.resolved = append(f.resolved, decisionID)
	return nil
}

type fakeBroadcast struct {
	resolvedCount int
	trustUpdates  int
}

func (f *fakeBroadcast) BroadcastDecisionResolved(d models.Decision) { f.resolvedCount++ }
func (f *fakeBroadcast) BroadcastTrustUpdate(agentID string, score, delta int) { f.trustUpdates++ }

type fakeAudit struct{ entries []models.AuditLogEntry }

func (f *fakeAudit) AppendAuditLog(ctx context.Context, entry models.AuditLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func newGate(mode toolgate.ControlMode, trustScore int) (*toolgate.Gate, *decisions.Queue, *trust.Engine, *fakeBroadcast, *fakeAudit) {
	q := decisions.New()
	te := trust.New(trust.DefaultConfig())
	if trustScore != 0 {
		te.ApplyOutcome("a1", trust.OutcomeTaskCompletedClean, 0, trust.Context{})
		for te.GetScore("a1") < trustScore {
			te.ApplyOutcome("a1", trust.OutcomeTaskCompletedClean, 0, trust.Context{})
		}
	}
	handles := &fakeHandles{handles: map[string]models.AgentHandle{"a1": {ID: "a1", Status: models.AgentStatusRunning}}, status: map[string]string{}}
	plugin := &fakePlugin{}
	broadcast := &fakeBroadcast{}
	audit := &fakeAudit{}
	g := toolgate.New(q, te, handles, nil, plugin, broadcast, audit, func() toolgate.ControlMode { return mode })
	return g, q, te, broadcast, audit
}

func TestOrchestratorModeNeverAutoResolves(t *testing.T) {
	g, q, _, _, _ := newGate(toolgate.ModeOrchestrator, 0)
	ctx := context.Background()

	resultCh := make(chan toolgate.RequestResult, 1)
	go func() {
		res, err := g.RequestApproval(ctx, "a1", "Write", map[string]any{}, 0)
		require.NoError(t, err)
		resultCh <- res
	}()

	id := waitForPendingDecision(t, q)
	g.Resolve(ctx, id, models.Resolution{Type: models.DecisionToolApproval, Action: models.ToolActionApprove}, "a1")

	res := <-resultCh
	assert.False(t, res.AutoResolved)
	assert.Equal(t, models.ToolActionApprove, res.Decision.Resolution.Action)
}

// waitForPendingDecision polls the queue for the pending decision
// RequestApproval enqueues before it blocks on WaitForResolution.
func waitForPendingDecision(t *testing.T, q *decisions.Queue) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, d := range q.ListAll() {
			if d.Status == models.DecisionPending {
				return d.DecisionID
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for pending decision")
	return ""
}

func TestEcosystemModeAutoApprovesWriteCall(t *testing.T) {
	g, _, _, broadcast, audit := newGate(toolgate.ModeEcosystem, 0)
	ctx := context.Background()

	res, err := g.RequestApproval(ctx, "a1", "Write", map[string]any{}, 0)
	require.NoError(t, err)
	assert.True(t, res.AutoResolved)
	assert.Equal(t, models.ToolActionApprove, res.Decision.Resolution.Action)
	assert.Equal(t, 1, broadcast.resolvedCount)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, true, audit.entries[0].Details["autoResolved"])
}

func TestAdaptiveModeGatesOnTrustThreshold(t *testing.T) {
	g, _, _, _, _ := newGate(toolgate.ModeAdaptive, 0)
	ctx := context.Background()

	// default trust score (50) meets the medium-bucket threshold (50, and >= passes)
	res, err := g.RequestApproval(ctx, "a1", "Write", map[string]any{}, 0)
	require.NoError(t, err)
	assert.True(t, res.AutoResolved)
}

func TestAdaptiveModeBelowThresholdBlocksAutoResolve(t *testing.T) {
	g, q, _, _, _ := newGate(toolgate.ModeAdaptive, 0)
	ctx := context.Background()

	resultCh := make(chan toolgate.RequestResult, 1)
	go func() {
		res, _ := g.RequestApproval(ctx, "a1", "Bash", map[string]any{"command": "rm -rf /"}, 0)
		resultCh <- res
	}()

	id := waitForPendingDecision(t, q)
	resolved, ok := g.Resolve(ctx, id, models.Resolution{Type: models.DecisionToolApproval, Action: models.ToolActionReject}, "a1")
	require.True(t, ok)
	assert.Equal(t, models.ToolActionReject, resolved.Resolution.Action)
	<-resultCh
}

type fakeToolRegistry struct {
	tools map[string]models.RegisteredTool
}

func (f *fakeToolRegistry) Get(workstream, name string) (models.RegisteredTool, bool) {
	t, ok := f.tools[workstream+"/"+name]
	return t, ok
}

func TestRegisteredDestructiveDefaultOverridesBashHeuristic(t *testing.T) {
	g, q, _, _, _ := newGate(toolgate.ModeEcosystem, 0)
	registry := &fakeToolRegistry{tools: map[string]models.RegisteredTool{
		"ws1/deploy_prod": {Workstream: "ws1", Name: "deploy_prod", Capabilities: []string{"destructive_default"}},
	}}
	g.SetToolRegistry(registry, func(agentID string) string { return "ws1" })

	ctx := context.Background()
	resultCh := make(chan toolgate.RequestResult, 1)
	go func() {
		res, _ := g.RequestApproval(ctx, "a1", "deploy_prod", map[string]any{}, 0)
		resultCh <- res
	}()

	id := waitForPendingDecision(t, q)
	resolved, ok := g.Resolve(ctx, id, models.Resolution{Type: models.DecisionToolApproval, Action: models.ToolActionApprove}, "a1")
	require.True(t, ok)
	assert.Equal(t, models.BlastLarge, resolved.Decision.Event.Event.Decision.BlastRadius)
	<-resultCh
}
