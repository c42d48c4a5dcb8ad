package injector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/injector"
	"github.com/agentoven/conductor/pkg/models"
)

type fakeStore struct {
	snapshot models.KnowledgeSnapshot
}

func (f *fakeStore) GetSnapshot(ctx context.Context, forAgent *string) (models.KnowledgeSnapshot, error) {
	return f.snapshot, nil
}

type fakePlugin struct {
	calls []injector.InjectionPayload
	err   error
}

func (f *fakePlugin) InjectContext(ctx context.Context, handle models.AgentHandle, payload injector.InjectionPayload) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, payload)
	return nil
}

func intPtr(v int) *int          { return &v }
func int64Ptr(v int64) *int64    { return &v }

func TestStalenessTriggerFiresOnceThresholdReached(t *testing.T) {
	store := &fakeStore{snapshot: models.KnowledgeSnapshot{Version: 1, EstimatedTokens: 10}}
	plugin := &fakePlugin{}
	s := injector.New(store, plugin)

	handle := models.AgentHandle{ID: "a1", Status: models.AgentStatusRunning}
	brief := models.AgentBrief{Workstream: "ws-a", ReadableWorkstreams: []string{"ws-b"}}
	policy := models.ContextInjectionPolicy{StalenessThreshold: intPtr(3), MaxInjectionsPerHour: 12}
	s.Register(handle, brief, policy)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := models.EventEnvelope{AgentID: "a2", Event: models.EventPayload{Kind: models.EventStatus, Data: map[string]any{"workstream": "ws-b"}}}
		s.OnBusEvent(ctx, e, 1)
	}

	require.Len(t, plugin.calls, 1)
	assert.Equal(t, injector.PriorityRecommended, plugin.calls[0].Priority)
}

func TestCooldownBlocksSecondNonRequiredInjection(t *testing.T) {
	store := &fakeStore{snapshot: models.KnowledgeSnapshot{Version: 1}}
	plugin := &fakePlugin{}
	s := injector.New(store, plugin)

	handle := models.AgentHandle{ID: "a1", Status: models.AgentStatusRunning}
	policy := models.ContextInjectionPolicy{PeriodicIntervalTicks: int64Ptr(1), CooldownTicks: 100, MaxInjectionsPerHour: 12}
	s.Register(handle, models.AgentBrief{}, policy)

	ctx := context.Background()
	s.OnTick(ctx, 1)
	require.Len(t, plugin.calls, 1)

	store.snapshot.Version = 2 // new version available, but cooldown should still block
	s.OnTick(ctx, 2)
	assert.Len(t, plugin.calls, 1)
}

func TestSnapshotVersionDedupBlocksRepeatDelivery(t *testing.T) {
	store := &fakeStore{snapshot: models.KnowledgeSnapshot{Version: 5}}
	plugin := &fakePlugin{}
	s := injector.New(store, plugin)

	handle := models.AgentHandle{ID: "a1", Status: models.AgentStatusRunning}
	policy := models.ContextInjectionPolicy{PeriodicIntervalTicks: int64Ptr(0), MaxInjectionsPerHour: 100}
	s.Register(handle, models.AgentBrief{}, policy)

	ctx := context.Background()
	s.OnTick(ctx, 1)
	require.Len(t, plugin.calls, 1)

	s.OnTick(ctx, 2) // same snapshot version
	assert.Len(t, plugin.calls, 1)
}

func TestNonRunningAgentNeverScheduled(t *testing.T) {
	store := &fakeStore{snapshot: models.KnowledgeSnapshot{Version: 1}}
	plugin := &fakePlugin{}
	s := injector.New(store, plugin)

	handle := models.AgentHandle{ID: "a1", Status: models.AgentStatusPaused}
	policy := models.ContextInjectionPolicy{PeriodicIntervalTicks: int64Ptr(0), MaxInjectionsPerHour: 100}
	s.Register(handle, models.AgentBrief{}, policy)

	s.OnTick(context.Background(), 1)
	assert.Empty(t, plugin.calls)
}

func TestRequiredPriorityBypassesCooldown(t *testing.T) {
	store := &fakeStore{snapshot: models.KnowledgeSnapshot{Version: 1}}
	plugin := &fakePlugin{}
	s := injector.New(store, plugin)

	handle := models.AgentHandle{ID: "a1", Status: models.AgentStatusRunning}
	policy := models.ContextInjectionPolicy{PeriodicIntervalTicks: int64Ptr(1), CooldownTicks: 1000, MaxInjectionsPerHour: 12}
	s.Register(handle, models.AgentBrief{}, policy)

	ctx := context.Background()
	s.OnTick(ctx, 1)
	require.Len(t, plugin.calls, 1)

	store.snapshot.Version = 2
	s.OnBriefUpdated(ctx, "a1", 1)
	assert.Len(t, plugin.calls, 2)
}
