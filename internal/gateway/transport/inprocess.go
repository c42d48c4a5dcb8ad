package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentoven/conductor/pkg/models"
)

// InProcessAgent is the callback surface an in-process provider
// implements; it is the direct-call analog of the local_http adapter
// shim's HTTP endpoints.
type InProcessAgent interface {
	Pause(ctx context.Context) (map[string]any, error)
	Resume(ctx context.Context, checkpoint map[string]any) error
	Kill(ctx context.Context) error
	ResolveDecision(ctx context.Context, decisionID string, resolution models.Resolution) error
	InjectContext(ctx context.Context, injection Injection) error
	UpdateBrief(ctx context.Context, partial models.AgentBrief) error
}

// InProcessFactory constructs a new InProcessAgent for a brief.
type InProcessFactory func(ctx context.Context, brief models.AgentBrief) (InProcessAgent, error)

// InProcessTransport runs plugins as direct in-memory calls — no
// subprocess, no HTTP round trip. Useful for tests and for lightweight
// built-in providers.
type InProcessTransport struct {
	mu      sync.Mutex
	factory InProcessFactory
	agents  map[string]InProcessAgent
	briefs  map[string]models.AgentBrief
}

// NewInProcessTransport creates a transport backed by factory.
func NewInProcessTransport(factory InProcessFactory) *InProcessTransport {
	return &InProcessTransport{factory: factory, agents: make(map[string]InProcessAgent), briefs: make(map[string]models.AgentBrief)}
}

func (t *InProcessTransport) Spawn(ctx context.Context, brief models.AgentBrief) (models.AgentHandle, error) {
	agent, err := t.factory(ctx, brief)
	if err != nil {
		return models.AgentHandle{}, fmt.Errorf("transport/inprocess: spawn failed: %w", err)
	}
	id := uuid.NewString()
	t.mu.Lock()
	t.agents[id] = agent
	t.briefs[id] = brief
	t.mu.Unlock()
	return models.AgentHandle{ID: id, PluginName: brief.PluginName, Status: models.AgentStatusRunning}, nil
}

func (t *InProcessTransport) get(id string) (InProcessAgent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.agents[id]
	return a, ok
}

func (t *InProcessTransport) Pause(ctx context.Context, handle models.AgentHandle) (models.SerializedAgentState, error) {
	agent, ok := t.get(handle.ID)
	if !ok {
		return models.SerializedAgentState{}, fmt.Errorf("transport/inprocess: unknown handle %q", handle.ID)
	}
	checkpoint, err := agent.Pause(ctx)
	if err != nil {
		return models.SerializedAgentState{}, err
	}
	t.mu.Lock()
	brief := t.briefs[handle.ID]
	t.mu.Unlock()
	return models.SerializedAgentState{AgentID: handle.ID, Checkpoint: checkpoint, Brief: brief, SerializedBy: models.SerializedByPause}, nil
}

func (t *InProcessTransport) Resume(ctx context.Context, state models.SerializedAgentState) (models.AgentHandle, error) {
	agent, ok := t.get(state.AgentID)
	if !ok {
		return models.AgentHandle{}, fmt.Errorf("transport/inprocess: unknown handle %q", state.AgentID)
	}
	if err := agent.Resume(ctx, state.Checkpoint); err != nil {
		return models.AgentHandle{}, err
	}
	return models.AgentHandle{ID: state.AgentID, PluginName: state.Brief.PluginName, Status: models.AgentStatusRunning}, nil
}

func (t *InProcessTransport) Kill(ctx context.Context, handle models.AgentHandle, opts KillOptions) (KillResult, error) {
	agent, ok := t.get(handle.ID)
	if !ok {
		return KillResult{}, fmt.Errorf("transport/inprocess: unknown handle %q", handle.ID)
	}
	err := agent.Kill(ctx)
	t.mu.Lock()
	delete(t.agents, handle.ID)
	delete(t.briefs, handle.ID)
	t.mu.Unlock()
	return KillResult{CleanShutdown: err == nil}, err
}

func (t *InProcessTransport) ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error {
	agent, ok := t.get(handle.ID)
	if !ok {
		return fmt.Errorf("transport/inprocess: unknown handle %q", handle.ID)
	}
	return agent.ResolveDecision(ctx, decisionID, resolution)
}

func (t *InProcessTransport) InjectContext(ctx context.Context, handle models.AgentHandle, injection Injection) error {
	agent, ok := t.get(handle.ID)
	if !ok {
		return fmt.Errorf("transport/inprocess: unknown handle %q", handle.ID)
	}
	return agent.InjectContext(ctx, injection)
}

func (t *InProcessTransport) UpdateBrief(ctx context.Context, handle models.AgentHandle, partial models.AgentBrief) error {
	agent, ok := t.get(handle.ID)
	if !ok {
		return fmt.Errorf("transport/inprocess: unknown handle %q", handle.ID)
	}
	return agent.UpdateBrief(ctx, partial)
}

func (t *InProcessTransport) RequestCheckpoint(ctx context.Context, handle models.AgentHandle, decisionID string) (models.SerializedAgentState, error) {
	return t.Pause(ctx, handle)
}

func (t *InProcessTransport) Capabilities() Capabilities {
	return Capabilities{Pause: true, Resume: true, Checkpoint: true, ContextInjection: true}
}
