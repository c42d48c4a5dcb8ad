package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/models"
)

// newTestStore creates a fresh store for tests that persists to a per-test temp dir.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("AGENTOVEN_DATA_DIR", dir)
	defer os.Unsetenv("AGENTOVEN_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertArtifactVersioningAndConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	art := models.Artifact{ID: "art-1", Name: "a", Workstream: "ws-a"}
	created, err := s.UpsertArtifact(ctx, art, 0, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	v, err := s.GetArtifactVersion(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// caller B updates with the correct expected version
	_, err = s.UpsertArtifact(ctx, art, 1, "agent-b")
	require.NoError(t, err)

	// caller A retries with the now-stale expected version
	_, err = s.UpsertArtifact(ctx, art, 1, "agent-a")
	require.Error(t, err)
	var conflict *store.Conflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	final, err := s.GetArtifact(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, 2, final.Version)
}

func TestVersionMonotonicityAcrossSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap1, err := s.GetSnapshot(ctx, nil)
	require.NoError(t, err)

	_, err = s.UpsertArtifact(ctx, models.Artifact{ID: "art-1", Workstream: "ws-a"}, 0, "a1")
	require.NoError(t, err)

	snap2, err := s.GetSnapshot(ctx, nil)
	require.NoError(t, err)

	assert.Greater(t, snap2.Version, snap1.Version)
}

func TestTrustBoundsClamping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	score, err := s.UpdateTrust(ctx, "a1", 1000, "test")
	require.NoError(t, err)
	assert.Equal(t, 100, score)

	score, err = s.UpdateTrust(ctx, "a1", -1000, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestCheckpointRetentionKeepsNewestN(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.StoreCheckpoint(ctx, models.SerializedAgentState{AgentID: "a1", LastSequence: int64(i)}, "", 3)
		require.NoError(t, err)
	}

	count, err := s.GetCheckpointCount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	latest, err := s.GetLatestCheckpoint(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.State.LastSequence)
}

func TestAppendEventIsIdempotentOnSourceEventID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := models.EventEnvelope{SourceEventID: "evt-1", AgentID: "a1", IngestedAt: time.Now()}
	require.NoError(t, s.AppendEvent(ctx, e))
	require.NoError(t, s.AppendEvent(ctx, e))

	got, err := s.GetEvents(ctx, store.EventFilter{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestResolveCoherenceIssueOnlyTransitionsOpenToResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue, err := s.StoreCoherenceIssue(ctx, models.CoherenceIssue{Kind: models.CoherenceGap, Summary: "missing tests"})
	require.NoError(t, err)

	resolved, err := s.ResolveCoherenceIssue(ctx, issue.ID, "added tests", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.CoherenceResolved, resolved.Status)

	// resolving again is a no-op, not an error
	again, err := s.ResolveCoherenceIssue(ctx, issue.ID, "noop", "a1")
	require.NoError(t, err)
	assert.Equal(t, "added tests", again.Resolution)
}

func TestGetAgentNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "missing")
	require.Error(t, err)
	var nf *store.ErrNotFound
	require.ErrorAs(t, err, &nf)
}
