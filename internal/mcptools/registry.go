// Package mcptools is the MCP tool registry: per-workstream bookkeeping
// of which tools agents may call, adapted from the teacher's
// mcpgw.Gateway tool-registration bookkeeping with the JSON-RPC
// dispatch surface dropped (out of scope — MCP server provisioning
// details are not covered here).
package mcptools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
)

func key(workstream, name string) string { return workstream + "/" + name }

// Registry holds registered MCP tools, keyed by (workstream, name).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]models.RegisteredTool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]models.RegisteredTool)}
}

// Register adds or replaces a tool entry for a workstream.
func (r *Registry) Register(_ context.Context, tool models.RegisteredTool) error {
	if tool.Name == "" {
		return fmt.Errorf("mcptools: tool name is required")
	}
	tool.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[key(tool.Workstream, tool.Name)] = tool
	return nil
}

// Get looks up a tool by workstream and name. Returns ok=false when the
// tool isn't registered — the tool-gate falls back to its fixed
// severity table in that case (registration is additive, never
// required, per §4.7).
func (r *Registry) Get(workstream, name string) (models.RegisteredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[key(workstream, name)]
	return t, ok
}

// List returns every tool registered for a workstream.
func (r *Registry) List(workstream string) []models.RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RegisteredTool
	for _, t := range r.tools {
		if t.Workstream == workstream {
			out = append(out, t)
		}
	}
	return out
}

// SetEnabled toggles whether a tool may currently be invoked, without
// touching its schema or capabilities.
func (r *Registry) SetEnabled(workstream, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(workstream, name)
	t, ok := r.tools[k]
	if !ok {
		return fmt.Errorf("mcptools: tool %q not registered for workstream %q", name, workstream)
	}
	t.Enabled = enabled
	t.UpdatedAt = time.Now().UTC()
	r.tools[k] = t
	return nil
}

// DestructiveDefault reports whether a registered tool forces a
// destructive classification regardless of its argument text — used by
// the tool gate to skip the Bash token-scan heuristic for tools like a
// custom deploy_prod MCP tool (§4.7).
func DestructiveDefault(tool models.RegisteredTool) bool {
	return tool.HasCapability("destructive_default")
}
