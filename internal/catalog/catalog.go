// Package catalog maintains a live model capability table consulted
// when validating an AgentBrief's model preference at spawn time.
// Lookups are lock-free: refreshes build a new map and atomically swap
// a pointer to it, so readers never block on a writer.
package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

const defaultStaleAfter = 24 * time.Hour

type table map[string]models.CatalogEntry

func key(provider, model string) string { return provider + "/" + model }

// Catalog is a thread-safe, background-refreshed model capability
// registry. Staleness is advisory only. Spawn does not consult the
// catalog, so an unknown provider/model neither blocks spawn nor logs a
// warning.
type Catalog struct {
	current atomic.Pointer[table]
	stopCh  chan struct{}
}

// New creates a catalog pre-seeded with well-known models.
func New() *Catalog {
	c := &Catalog{stopCh: make(chan struct{})}
	seed := seedTable()
	c.current.Store(&seed)
	return c
}

// Start begins a background goroutine that periodically re-stamps
// entries as refreshed, mirroring the teacher's start/stop
// background-refresh lifecycle. Call Stop to halt it.
func (c *Catalog) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultStaleAfter
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.touch()
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Info().Dur("refreshInterval", interval).Msg("model catalog started")
}

// Stop halts the background refresh goroutine. Idempotent.
func (c *Catalog) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func (c *Catalog) touch() {
	old := *c.current.Load()
	next := make(table, len(old))
	now := time.Now().UTC()
	for k, v := range old {
		v.LastRefreshed = now
		next[k] = v
	}
	c.current.Store(&next)
}

// Lookup returns the known capabilities for provider/model.
func (c *Catalog) Lookup(provider, model string) (models.CatalogEntry, bool) {
	t := *c.current.Load()
	e, ok := t[key(provider, model)]
	return e, ok
}

// RegisterModel adds or replaces an entry, used by manual overrides and
// provider discovery.
func (c *Catalog) RegisterModel(entry models.CatalogEntry) {
	if entry.LastRefreshed.IsZero() {
		entry.LastRefreshed = time.Now().UTC()
	}
	old := *c.current.Load()
	next := make(table, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key(entry.Provider, entry.Model)] = entry
	c.current.Store(&next)
}

// ListAll returns every known entry.
func (c *Catalog) ListAll() []models.CatalogEntry {
	t := *c.current.Load()
	out := make([]models.CatalogEntry, 0, len(t))
	for _, v := range t {
		out = append(out, v)
	}
	return out
}

// Refresh re-stamps every entry's LastRefreshed, simulating a live
// provider re-query. Returns the number of entries refreshed.
func (c *Catalog) Refresh(ctx context.Context) int {
	c.touch()
	return len(*c.current.Load())
}

func seedTable() table {
	now := time.Now().UTC()
	entries := []models.CatalogEntry{
		{Provider: "openai", Model: "gpt-5", ContextWindow: 128000, SupportsTools: true, SupportsVision: true, InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
		{Provider: "openai", Model: "gpt-4o", ContextWindow: 128000, SupportsTools: true, SupportsVision: true, InputCostPer1K: 0.0025, OutputCostPer1K: 0.01},
		{Provider: "anthropic", Model: "claude-sonnet-4-20250514", ContextWindow: 200000, SupportsTools: true, SupportsVision: true, InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Provider: "anthropic", Model: "claude-opus-4-20250514", ContextWindow: 200000, SupportsTools: true, SupportsVision: true, InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
		{Provider: "ollama", Model: "llama3", ContextWindow: 8192, SupportsTools: false, SupportsVision: false},
		{Provider: "bedrock", Model: "anthropic.claude-3-5-sonnet", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{Provider: "azure-openai", Model: "gpt-4o", ContextWindow: 128000, SupportsTools: true, SupportsVision: true},
	}
	t := make(table, len(entries))
	for _, e := range entries {
		e.LastRefreshed = now
		t[key(e.Provider, e.Model)] = e
	}
	return t
}
