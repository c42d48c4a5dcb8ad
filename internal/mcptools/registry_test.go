package mcptools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/conductor/internal/mcptools"
	"github.com/agentoven/conductor/pkg/models"
)

func TestRegisterAndGetRoundTrips(t *testing.T) {
	r := mcptools.New()
	err := r.Register(context.Background(), models.RegisteredTool{Workstream: "ws1", Name: "deploy_prod", Enabled: true})
	require.NoError(t, err)

	tool, ok := r.Get("ws1", "deploy_prod")
	assert.True(t, ok)
	assert.True(t, tool.Enabled)
}

func TestGetUnknownToolReturnsFalse(t *testing.T) {
	r := mcptools.New()
	_, ok := r.Get("ws1", "missing")
	assert.False(t, ok)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := mcptools.New()
	err := r.Register(context.Background(), models.RegisteredTool{Workstream: "ws1"})
	assert.Error(t, err)
}

func TestListOnlyReturnsMatchingWorkstream(t *testing.T) {
	r := mcptools.New()
	require.NoError(t, r.Register(context.Background(), models.RegisteredTool{Workstream: "ws1", Name: "t1"}))
	require.NoError(t, r.Register(context.Background(), models.RegisteredTool{Workstream: "ws2", Name: "t2"}))

	list := r.List("ws1")
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].Name)
}

func TestSetEnabledTogglesExistingTool(t *testing.T) {
	r := mcptools.New()
	require.NoError(t, r.Register(context.Background(), models.RegisteredTool{Workstream: "ws1", Name: "t1", Enabled: true}))

	require.NoError(t, r.SetEnabled("ws1", "t1", false))
	tool, _ := r.Get("ws1", "t1")
	assert.False(t, tool.Enabled)
}

func TestSetEnabledUnknownToolErrors(t *testing.T) {
	r := mcptools.New()
	err := r.SetEnabled("ws1", "missing", true)
	assert.Error(t, err)
}

func TestDestructiveDefaultReadsCapability(t *testing.T) {
	tool := models.RegisteredTool{Capabilities: []string{"destructive_default"}}
	assert.True(t, mcptools.DestructiveDefault(tool))

	tool2 := models.RegisteredTool{Capabilities: []string{"readonly"}}
	assert.False(t, mcptools.DestructiveDefault(tool2))
}
