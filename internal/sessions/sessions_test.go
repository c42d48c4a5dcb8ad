package sessions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/sessions"
	"github.com/agentoven/conductor/pkg/models"
)

func TestCreateAndGetSessionRoundTrips(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()

	err := store.CreateSession(ctx, &models.Session{ID: "s1", AgentID: "a1", Workstream: "ws1"})
	require.NoError(t, err)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AgentID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "s1", AgentID: "a1"}))

	err := store.CreateSession(ctx, &models.Session{ID: "s1", AgentID: "a1"})
	assert.Error(t, err)
}

func TestAppendTurnCreatesSessionOnFirstUse(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()

	sess, err := store.AppendTurn(ctx, "a1", "ws1", models.SessionTurn{Role: "agent", Content: "starting work"})
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 1)
	assert.Equal(t, "a1", sess.AgentID)
}

func TestAppendTurnReusesMostRecentSession(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()

	first, err := store.AppendTurn(ctx, "a1", "ws1", models.SessionTurn{Role: "agent", Content: "turn 1"})
	require.NoError(t, err)
	second, err := store.AppendTurn(ctx, "a1", "ws1", models.SessionTurn{Role: "agent", Content: "turn 2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Turns, 2)
}

func TestListSessionsByAgentOnlyReturnsMatchingAgent(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "s1", AgentID: "a1"}))
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "s2", AgentID: "a2"}))

	list, err := store.ListSessionsByAgent(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)
}

func TestRecentTurnsReturnsOnlyLastN(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.AppendTurn(ctx, "a1", "ws1", models.SessionTurn{Role: "agent", Content: "turn"})
		require.NoError(t, err)
	}

	recent, err := store.RecentTurns(ctx, "a1", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDeleteSessionRemovesIt(t *testing.T) {
	store := sessions.NewMemorySessionStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "s1", AgentID: "a1"}))

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	_, err := store.GetSession(ctx, "s1")
	assert.Error(t, err)
}
