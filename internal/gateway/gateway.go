// Package gateway is the Agent Gateway of §4.8: it resolves a brief's
// pluginName to a transport, tracks live handles, and exposes the
// plugin contract (spawn/pause/resume/kill/resolveDecision/
// injectContext/updateBrief/requestCheckpoint) as one facade so callers
// (tool gate, injector, HTTP handlers) don't need to know which
// transport backs a given agent.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/internal/injector"
	"github.com/agentoven/conductor/pkg/models"
)

// ExitListener is notified when an agent process exits unexpectedly.
type ExitListener func(agentID string, clean bool)

// Gateway routes lifecycle calls to the transport registered for a
// given plugin name and tracks every live handle.
type Gateway struct {
	mu         sync.RWMutex
	transports map[string]transport.Transport
	handles    map[string]models.AgentHandle
	pluginOf   map[string]string
	listeners  []ExitListener
	statusMsg  map[string]string
}

// New creates an empty gateway. Register transports with RegisterTransport
// before spawning agents that reference them by brief.PluginName.
func New() *Gateway {
	return &Gateway{
		transports: make(map[string]transport.Transport),
		handles:    make(map[string]models.AgentHandle),
		pluginOf:   make(map[string]string),
		statusMsg:  make(map[string]string),
	}
}

// SetStatusMessage records the most recent free-text status/reasoning
// an agent reported (via a bridge event), consulted by the tool gate
// when enqueuing a decision (§4.7's "reasoning" field).
func (g *Gateway) SetStatusMessage(agentID, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusMsg[agentID] = message
}

// LastStatusMessage implements toolgate.HandleRegistry.
func (g *Gateway) LastStatusMessage(agentID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statusMsg[agentID]
}

// RegisterTransport binds a plugin name to the transport that serves it.
func (g *Gateway) RegisterTransport(pluginName string, t transport.Transport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transports[pluginName] = t
}

// OnExit registers a listener fired when a Kill (including a crash
// detected by a future watcher) completes.
func (g *Gateway) OnExit(fn ExitListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Gateway) transportFor(pluginName string) (transport.Transport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.transports[pluginName]
	if !ok {
		return nil, fmt.Errorf("gateway: no transport registered for plugin %q", pluginName)
	}
	return t, nil
}

func (g *Gateway) transportForHandle(agentID string) (transport.Transport, models.AgentHandle, error) {
	g.mu.RLock()
	handle, ok := g.handles[agentID]
	plugin := g.pluginOf[agentID]
	g.mu.RUnlock()
	if !ok {
		return nil, models.AgentHandle{}, fmt.Errorf("gateway: unknown agent %q", agentID)
	}
	t, err := g.transportFor(plugin)
	return t, handle, err
}

// Spawn resolves brief.PluginName to a transport and spawns the agent.
func (g *Gateway) Spawn(ctx context.Context, brief models.AgentBrief) (models.AgentHandle, error) {
	t, err := g.transportFor(brief.PluginName)
	if err != nil {
		return models.AgentHandle{}, err
	}
	handle, err := t.Spawn(ctx, brief)
	if err != nil {
		return models.AgentHandle{}, err
	}
	g.mu.Lock()
	g.handles[handle.ID] = handle
	g.pluginOf[handle.ID] = brief.PluginName
	g.mu.Unlock()
	return handle, nil
}

// GetHandle returns the tracked handle for agentID.
func (g *Gateway) GetHandle(agentID string) (models.AgentHandle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[agentID]
	return h, ok
}

// Pause pauses a running agent and returns its serialized state.
func (g *Gateway) Pause(ctx context.Context, agentID string) (models.SerializedAgentState, error) {
	t, handle, err := g.transportForHandle(agentID)
	if err != nil {
		return models.SerializedAgentState{}, err
	}
	if !t.Capabilities().Pause {
		return models.SerializedAgentState{}, fmt.Errorf("gateway: plugin %q does not support pause", g.pluginOf[agentID])
	}
	state, err := t.Pause(ctx, handle)
	if err != nil {
		return models.SerializedAgentState{}, err
	}
	g.setStatus(agentID, models.AgentStatusPaused)
	return state, nil
}

// Resume restores an agent from a checkpoint. Requires the transport
// that originally serialized it.
func (g *Gateway) Resume(ctx context.Context, pluginName string, state models.SerializedAgentState) (models.AgentHandle, error) {
	t, err := g.transportFor(pluginName)
	if err != nil {
		return models.AgentHandle{}, err
	}
	if !t.Capabilities().Resume {
		return models.AgentHandle{}, fmt.Errorf("gateway: plugin %q does not support resume", pluginName)
	}
	handle, err := t.Resume(ctx, state)
	if err != nil {
		return models.AgentHandle{}, err
	}
	g.mu.Lock()
	g.handles[handle.ID] = handle
	g.pluginOf[handle.ID] = pluginName
	g.mu.Unlock()
	return handle, nil
}

// Kill terminates an agent, marks its handle completed, and fires exit
// listeners.
func (g *Gateway) Kill(ctx context.Context, agentID string, opts transport.KillOptions) (transport.KillResult, error) {
	t, handle, err := g.transportForHandle(agentID)
	if err != nil {
		return transport.KillResult{}, err
	}
	result, err := t.Kill(ctx, handle, opts)
	g.setStatus(agentID, models.AgentStatusCompleted)

	g.mu.RLock()
	listeners := append([]ExitListener(nil), g.listeners...)
	g.mu.RUnlock()
	for _, l := range listeners {
		l(agentID, result.CleanShutdown)
	}
	return result, err
}

// ResolveDecision implements toolgate.Plugin — forwards a resolution to
// the originating agent, best-effort. Callers should treat a non-nil
// error as informational (the decision is already resolved in the
// queue regardless).
func (g *Gateway) ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error {
	t, _, err := g.transportForHandle(handle.ID)
	if err != nil {
		return err
	}
	return t.ResolveDecision(ctx, handle, decisionID, resolution)
}

// InjectContext implements injector.Plugin.
func (g *Gateway) InjectContext(ctx context.Context, handle models.AgentHandle, payload injector.InjectionPayload) error {
	t, _, err := g.transportForHandle(handle.ID)
	if err != nil {
		return err
	}
	return t.InjectContext(ctx, handle, transport.Injection{
		Content:         payload.Content,
		Format:          payload.Format,
		SnapshotVersion: payload.SnapshotVersion,
		EstimatedTokens: payload.EstimatedTokens,
		Priority:        string(payload.Priority),
		IsDelta:         payload.IsDelta,
	})
}

// UpdateBrief pushes a partial brief update to a running agent, used by
// control-mode propagation and the PATCH brief endpoint.
func (g *Gateway) UpdateBrief(ctx context.Context, agentID string, partial models.AgentBrief) error {
	t, handle, err := g.transportForHandle(agentID)
	if err != nil {
		return err
	}
	return t.UpdateBrief(ctx, handle, partial)
}

// RequestCheckpoint asks the agent's transport for a fresh serialized
// state without killing or pausing it.
func (g *Gateway) RequestCheckpoint(ctx context.Context, agentID, decisionID string) (models.SerializedAgentState, error) {
	t, handle, err := g.transportForHandle(agentID)
	if err != nil {
		return models.SerializedAgentState{}, err
	}
	if !t.Capabilities().Checkpoint {
		return models.SerializedAgentState{}, fmt.Errorf("gateway: plugin %q does not support checkpointing", g.pluginOf[agentID])
	}
	return t.RequestCheckpoint(ctx, handle, decisionID)
}

func (g *Gateway) setStatus(agentID string, status models.AgentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.handles[agentID]; ok {
		h.Status = status
		g.handles[agentID] = h
	}
}

// ListHandles returns a snapshot of every tracked handle.
func (g *Gateway) ListHandles() []models.AgentHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.AgentHandle, 0, len(g.handles))
	for _, h := range g.handles {
		out = append(out, h)
	}
	return out
}
