package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentoven/conductor/internal/catalog"
	"github.com/agentoven/conductor/pkg/models"
)

func TestLookupFindsSeededModel(t *testing.T) {
	c := catalog.New()
	entry, ok := c.Lookup("anthropic", "claude-sonnet-4-20250514")
	assert.True(t, ok)
	assert.True(t, entry.SupportsTools)
}

func TestLookupUnknownModelReturnsFalse(t *testing.T) {
	c := catalog.New()
	_, ok := c.Lookup("openai", "nonexistent-model")
	assert.False(t, ok)
}

func TestRegisterModelAddsNewEntryWithoutDroppingExisting(t *testing.T) {
	c := catalog.New()
	c.RegisterModel(models.CatalogEntry{Provider: "custom", Model: "house-model", ContextWindow: 4096})

	entry, ok := c.Lookup("custom", "house-model")
	assert.True(t, ok)
	assert.Equal(t, 4096, entry.ContextWindow)

	_, stillThere := c.Lookup("openai", "gpt-4o")
	assert.True(t, stillThere)
}

func TestRefreshUpdatesLastRefreshedTimestamp(t *testing.T) {
	c := catalog.New()
	before, _ := c.Lookup("openai", "gpt-4o")

	count := c.Refresh(context.Background())
	assert.Greater(t, count, 0)

	after, _ := c.Lookup("openai", "gpt-4o")
	assert.True(t, after.LastRefreshed.After(before.LastRefreshed) || after.LastRefreshed.Equal(before.LastRefreshed))
}

func TestListAllReturnsEverySeededEntry(t *testing.T) {
	c := catalog.New()
	all := c.ListAll()
	assert.GreaterOrEqual(t, len(all), 7)
}

func TestStartStopDoesNotPanic(t *testing.T) {
	c := catalog.New()
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, 0)
	cancel()
	c.Stop()
}
