package gateway_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/gateway"
	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/pkg/models"
)

type fakeAgent struct {
	paused  bool
	killed  bool
	updated models.AgentBrief
}

func (f *fakeAgent) Pause(ctx context.Context) (map[string]any, error) {
	f.paused = true
	return map[string]any{"step": 3}, nil
}
func (f *fakeAgent) Resume(ctx context.Context, checkpoint map[string]any) error { return nil }
func (f *fakeAgent) Kill(ctx context.Context) error                              { f.killed = true; return nil }
func (f *fakeAgent) ResolveDecision(ctx context.Context, decisionID string, resolution models.Resolution) error {
	return nil
}
func (f *fakeAgent) InjectContext(ctx context.Context, injection transport.Injection) error {
	return nil
}
func (f *fakeAgent) UpdateBrief(ctx context.Context, partial models.AgentBrief) error {
	f.updated = partial
	return nil
}

func TestSpawnPauseKillRoundTripThroughInProcessTransport(t *testing.T) {
	agent := &fakeAgent{}
	tr := transport.NewInProcessTransport(func(ctx context.Context, brief models.AgentBrief) (transport.InProcessAgent, error) {
		return agent, nil
	})

	gw := gateway.New()
	gw.RegisterTransport("demo", tr)

	ctx := context.Background()
	handle, err := gw.Spawn(ctx, models.AgentBrief{PluginName: "demo", Role: "engineer"})
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusRunning, handle.Status)

	state, err := gw.Pause(ctx, handle.ID)
	require.NoError(t, err)
	assert.True(t, agent.paused)
	assert.Equal(t, 3, state.Checkpoint["step"])

	got, ok := gw.GetHandle(handle.ID)
	require.True(t, ok)
	assert.Equal(t, models.AgentStatusPaused, got.Status)

	_, err = gw.Kill(ctx, handle.ID, transport.KillOptions{Grace: true})
	require.NoError(t, err)
	assert.True(t, agent.killed)

	got, _ = gw.GetHandle(handle.ID)
	assert.Equal(t, models.AgentStatusCompleted, got.Status)
}

func TestSpawnUnknownPluginFails(t *testing.T) {
	gw := gateway.New()
	_, err := gw.Spawn(context.Background(), models.AgentBrief{PluginName: "missing"})
	assert.Error(t, err)
}

func TestPortPoolExhaustionFailsLoud(t *testing.T) {
	pool := transport.NewPortPool(9200, 9200)
	_, err := pool.Allocate()
	require.NoError(t, err)
	_, err = pool.Allocate()
	assert.Error(t, err)
}

func TestPortPoolReleaseAllowsReuse(t *testing.T) {
	pool := transport.NewPortPool(9200, 9200)
	p, err := pool.Allocate()
	require.NoError(t, err)
	pool.Release(p)
	_, err = pool.Allocate()
	assert.NoError(t, err)
}
