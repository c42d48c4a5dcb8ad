package server

import (
	"context"

	"github.com/agentoven/conductor/internal/decisions"
	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/models"
)

// snapshotAdapter bridges the store's pending-decisions-as-argument
// GetSnapshot to the scheduler's per-agent SnapshotProvider contract.
type snapshotAdapter struct {
	store store.Store
	queue *decisions.Queue
}

func (a *snapshotAdapter) GetSnapshot(ctx context.Context, forAgent *string) (models.KnowledgeSnapshot, error) {
	var pending []models.Decision
	if forAgent != nil {
		pending = a.queue.ListPending(*forAgent)
	} else {
		pending = a.queue.ListAll()
	}
	return a.store.GetSnapshot(ctx, pending)
}

// artifactLookupAdapter resolves decision-affected artifact ids to
// their kind and workstream for the tool gate's trust-context lookup.
type artifactLookupAdapter struct {
	store store.Store
}

func (a *artifactLookupAdapter) ArtifactKindsAndWorkstreams(ctx context.Context, artifactIDs []string) (kinds []string, workstreams []string) {
	for _, id := range artifactIDs {
		artifact, err := a.store.GetArtifact(ctx, id)
		if err != nil || artifact == nil {
			continue
		}
		kinds = append(kinds, string(artifact.Kind))
		workstreams = append(workstreams, artifact.Workstream)
	}
	return kinds, workstreams
}

// agentLookupAdapter resolves which agents a brake scope targets.
type agentLookupAdapter struct {
	store store.Store
}

func (a *agentLookupAdapter) AllAgentIDs() []string {
	agents, err := a.store.ListAgents(context.Background())
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(agents))
	for _, ag := range agents {
		ids = append(ids, ag.ID)
	}
	return ids
}

func (a *agentLookupAdapter) AgentsInWorkstream(workstream string) []string {
	agents, err := a.store.ListAgents(context.Background())
	if err != nil {
		return nil
	}
	var ids []string
	for _, ag := range agents {
		if ag.Workstream == workstream {
			ids = append(ids, ag.ID)
		}
	}
	return ids
}

// nullAgent is the in_process transport's default agent: it accepts
// every lifecycle call as a no-op. Real deployments register a factory
// that spawns an actual in-process agent loop instead of this one.
type nullAgent struct {
	brief models.AgentBrief
}

func newNullAgent(_ context.Context, brief models.AgentBrief) (transport.InProcessAgent, error) {
	return &nullAgent{brief: brief}, nil
}

func (a *nullAgent) Pause(_ context.Context) (map[string]any, error) {
	return map[string]any{"brief": a.brief}, nil
}

func (a *nullAgent) Resume(_ context.Context, checkpoint map[string]any) error {
	return nil
}

func (a *nullAgent) Kill(_ context.Context) error {
	return nil
}

func (a *nullAgent) ResolveDecision(_ context.Context, decisionID string, resolution models.Resolution) error {
	return nil
}

func (a *nullAgent) InjectContext(_ context.Context, injection transport.Injection) error {
	return nil
}

func (a *nullAgent) UpdateBrief(_ context.Context, partial models.AgentBrief) error {
	if partial.Role != "" {
		a.brief.Role = partial.Role
	}
	if partial.Workstream != "" {
		a.brief.Workstream = partial.Workstream
	}
	return nil
}
