// Package handlers implements the HTTP surface of the control plane
// (§6): agent lifecycle, decisions, tool-gate, brake, control-mode,
// trust, artifacts, coherence, events, tick, quarantine, project
// config, the agent-side bridge, and token/auth endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/internal/auth"
	"github.com/agentoven/conductor/internal/brake"
	"github.com/agentoven/conductor/internal/bus"
	"github.com/agentoven/conductor/internal/catalog"
	"github.com/agentoven/conductor/internal/control"
	"github.com/agentoven/conductor/internal/decisions"
	"github.com/agentoven/conductor/internal/gateway"
	"github.com/agentoven/conductor/internal/gateway/transport"
	"github.com/agentoven/conductor/internal/injector"
	"github.com/agentoven/conductor/internal/mcptools"
	"github.com/agentoven/conductor/internal/notify"
	"github.com/agentoven/conductor/internal/quarantine"
	"github.com/agentoven/conductor/internal/retention"
	"github.com/agentoven/conductor/internal/sessions"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/tick"
	"github.com/agentoven/conductor/internal/toolgate"
	"github.com/agentoven/conductor/internal/trust"
	"github.com/agentoven/conductor/internal/wshub"
	mdl "github.com/agentoven/conductor/pkg/middleware"
	"github.com/agentoven/conductor/pkg/models"
)

// Handlers holds every component the HTTP surface calls into. Fields
// are exported so a future composition root can override a subset
// without reaching into unexported state.
type Handlers struct {
	Store       store.Store
	Bus         *bus.Bus
	Tick        *tick.Service
	Queue       *decisions.Queue
	Trust       *trust.Engine
	Scheduler   *injector.Scheduler
	Gate        *toolgate.Gate
	Gateway     *gateway.Gateway
	Control     *control.Manager
	Brake       *brake.Engine
	Quarantine  *quarantine.Gate
	Tools       *mcptools.Registry
	Catalog     *catalog.Catalog
	Sessions    *sessions.MemorySessionStore
	Retention   *retention.Janitor
	Notifier    *notify.Service
	Hub         *wshub.Hub
	AuthChain   *auth.ProviderChain
	ServiceSalt []byte
}

// ── small response helpers ─────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": "request_failed", "message": message})
}

func respondValidation(w http.ResponseWriter, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": "Validation failed", "details": details})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathParam(r *http.Request, name string) string { return chi.URLParam(r, name) }

// ══════════════════════════════════════════════════════════════
// ── Health ───────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "tick": h.Tick.Current()})
}

// ══════════════════════════════════════════════════════════════
// ── Agents ───────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	agent, err := h.Store.GetAgent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

type spawnAgentRequest struct {
	Brief models.AgentBrief `json:"brief"`
}

// SpawnAgent implements POST /api/agents/spawn: gateway spawn, registry
// register, scheduler register, broadcast state_sync. It makes no trust
// engine call; the engine creates an agent's score entry on its first
// score lookup or outcome.
func (h *Handlers) SpawnAgent(w http.ResponseWriter, r *http.Request) {
	var req spawnAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	if req.Brief.Role == "" || req.Brief.Workstream == "" || req.Brief.PluginName == "" {
		respondValidation(w, "brief.role, brief.workstream, and brief.pluginName are required")
		return
	}
	if req.Brief.ContextInjectionPolicy == nil {
		policy := control.DefaultContextInjectionPolicy(h.Control.Current())
		req.Brief.ContextInjectionPolicy = &policy
	}

	ctx := r.Context()
	handle, err := h.Gateway.Spawn(ctx, req.Brief)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := h.Store.RegisterAgent(ctx, handle, req.Brief); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Scheduler.Register(handle, req.Brief, *req.Brief.ContextInjectionPolicy)
	h.broadcastStateSync(ctx)
	respondJSON(w, http.StatusCreated, map[string]any{"agent": handle})
}

func (h *Handlers) KillAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	ctx := r.Context()
	result, err := h.Gateway.Kill(ctx, id, transport.KillOptions{Grace: true, GraceTimeoutMs: 5000})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Store.UpdateAgentStatus(ctx, id, models.AgentStatusCompleted)
	h.Scheduler.Unregister(id)
	orphaned := h.Queue.HandleAgentKilled(id)
	if len(orphaned) > 0 && h.Notifier != nil {
		h.Notifier.Notify(ctx, notify.NewEvent(notify.EventAgentOrphaned, id, "", "", map[string]any{"orphanedDecisions": len(orphaned)}))
	}
	h.broadcastStateSync(ctx)
	respondJSON(w, http.StatusOK, map[string]any{
		"state":              result.State,
		"artifactsExtracted": result.ArtifactsExtracted,
		"cleanShutdown":      result.CleanShutdown,
		"orphanedDecisions":  len(orphaned),
	})
}

func (h *Handlers) PauseAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	ctx := r.Context()
	state, err := h.Gateway.Pause(ctx, id)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.Store.UpdateAgentStatus(ctx, id, models.AgentStatusPaused)
	h.broadcastStateSync(ctx)
	respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	ctx := r.Context()
	cp, err := h.Store.GetLatestCheckpoint(ctx, id)
	if err != nil || cp == nil {
		respondError(w, http.StatusConflict, "resume requires an existing latest checkpoint")
		return
	}
	handle, err := h.Gateway.Resume(ctx, cp.State.Brief.PluginName, cp.State)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Store.UpdateAgentStatus(ctx, id, models.AgentStatusRunning)
	h.Scheduler.Register(handle, cp.State.Brief, *nonNilPolicy(cp.State.Brief.ContextInjectionPolicy, h.Control.Current()))
	h.broadcastStateSync(ctx)
	respondJSON(w, http.StatusOK, map[string]any{"agent": handle})
}

func nonNilPolicy(p *models.ContextInjectionPolicy, mode control.Mode) *models.ContextInjectionPolicy {
	if p != nil {
		return p
	}
	def := control.DefaultContextInjectionPolicy(mode)
	return &def
}

func (h *Handlers) PatchAgentBrief(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var partial models.AgentBrief
	if err := decodeJSON(r, &partial); err != nil {
		respondValidation(w, err.Error())
		return
	}
	ctx := r.Context()
	if err := h.Gateway.UpdateBrief(ctx, id, partial); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Scheduler.OnBriefUpdated(ctx, id, h.Tick.Current())
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) RequestCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	decisionID := r.URL.Query().Get("decisionId")
	ctx := r.Context()
	state, err := h.Gateway.RequestCheckpoint(ctx, id, decisionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cp, err := h.Store.StoreCheckpoint(ctx, state, decisionID, 10)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, cp)
}

func (h *Handlers) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	cps, err := h.Store.GetCheckpoints(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cps)
}

func (h *Handlers) LatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	cp, err := h.Store.GetLatestCheckpoint(r.Context(), id)
	if err != nil || cp == nil {
		respondError(w, http.StatusNotFound, "no checkpoint for agent")
		return
	}
	respondJSON(w, http.StatusOK, cp)
}

// ══════════════════════════════════════════════════════════════
// ── Decisions ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agentId")
	var decisionsList []models.Decision
	if agentID == "" {
		decisionsList = h.Queue.ListAll()
	} else {
		decisionsList = h.Queue.ListPending(agentID)
	}
	respondJSON(w, http.StatusOK, decisionsList)
}

type resolveDecisionRequest struct {
	Resolution models.Resolution `json:"resolution"`
	AgentID    string            `json:"agentId,omitempty"`
}

func (h *Handlers) ResolveDecision(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req resolveDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	if identity := mdl.GetIdentity(r.Context()); identity != nil {
		req.Resolution.ResolvedBy = identity.Subject
	}
	decision, ok := h.Gate.Resolve(r.Context(), id, req.Resolution, req.AgentID)
	if !ok {
		existing, found := h.Queue.Get(id)
		if !found {
			respondError(w, http.StatusNotFound, "unknown decision")
			return
		}
		respondJSON(w, http.StatusConflict, existing)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// ══════════════════════════════════════════════════════════════
// ── Tool gate ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type toolGateRequest struct {
	AgentID  string         `json:"agentId"`
	ToolName string         `json:"toolName"`
	ToolArgs map[string]any `json:"toolArgs"`
	ToolUseID string        `json:"toolUseId,omitempty"`
}

func (h *Handlers) RequestApproval(w http.ResponseWriter, r *http.Request) {
	var req toolGateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	if req.AgentID == "" || req.ToolName == "" {
		respondValidation(w, "agentId and toolName are required")
		return
	}
	if _, ok := h.Gateway.GetHandle(req.AgentID); !ok {
		respondError(w, http.StatusNotFound, "unknown agent")
		return
	}
	result, err := h.Gate.RequestApproval(r.Context(), req.AgentID, req.ToolName, req.ToolArgs, h.Tick.Current())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.TimedOut && h.Notifier != nil {
		workstream := ""
		if agent, err := h.Store.GetAgent(r.Context(), req.AgentID); err == nil && agent != nil {
			workstream = agent.Workstream
		}
		h.Notifier.Notify(r.Context(), notify.NewEvent(notify.EventDecisionTimedOut, req.AgentID, result.Decision.DecisionID, workstream, map[string]any{"toolName": req.ToolName}))
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) ToolGateStats(w http.ResponseWriter, r *http.Request) {
	all := h.Queue.ListAll()
	stats := map[string]int{"pending": 0, "resolved": 0, "timedOut": 0, "triage": 0, "suspended": 0}
	for _, d := range all {
		switch d.Status {
		case models.DecisionPending:
			stats["pending"]++
		case models.DecisionResolved:
			stats["resolved"]++
		case models.DecisionTimedOut:
			stats["timedOut"]++
		case models.DecisionTriage:
			stats["triage"]++
		case models.DecisionSuspended:
			stats["suspended"]++
		}
	}
	respondJSON(w, http.StatusOK, stats)
}

// ══════════════════════════════════════════════════════════════
// ── Brake ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type brakeRequest struct {
	Scope            models.BrakeScopeKind    `json:"scope"`
	ScopeTarget      string                   `json:"scopeTarget,omitempty"`
	Behavior         models.BrakeBehavior     `json:"behavior"`
	ReleaseCondition models.ReleaseCondition  `json:"releaseCondition,omitempty"`
}

func (h *Handlers) EngageBrake(w http.ResponseWriter, r *http.Request) {
	var req brakeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	if req.Scope == "" || req.Behavior == "" {
		respondValidation(w, "scope and behavior are required")
		return
	}
	state := h.Brake.Engage(r.Context(), req.Scope, req.ScopeTarget, req.Behavior, req.ReleaseCondition)
	if h.Notifier != nil {
		h.Notifier.Notify(r.Context(), notify.NewEvent(notify.EventBrakeEngaged, "", "", req.ScopeTarget, map[string]any{"scope": req.Scope, "behavior": req.Behavior}))
	}
	respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) ReleaseBrake(w http.ResponseWriter, r *http.Request) {
	state := h.Brake.Release(r.Context())
	respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) GetBrake(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Brake.State())
}

// ══════════════════════════════════════════════════════════════
// ── Control mode ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) GetControlMode(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"mode": string(h.Control.Current())})
}

type controlModeRequest struct {
	Mode models.ControlMode `json:"mode"`
}

func (h *Handlers) SetControlMode(w http.ResponseWriter, r *http.Request) {
	var req controlModeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	mode := control.Mode(req.Mode)
	switch mode {
	case control.ModeOrchestrator, control.ModeAdaptive, control.ModeEcosystem:
	default:
		respondValidation(w, "mode must be one of orchestrator, adaptive, ecosystem")
		return
	}
	h.Control.Set(mode)

	ctx := r.Context()
	for _, handle := range h.Gateway.ListHandles() {
		policy := control.DefaultContextInjectionPolicy(mode)
		partial := models.AgentBrief{ContextInjectionPolicy: &policy}
		if err := h.Gateway.UpdateBrief(ctx, handle.ID, partial); err != nil {
			log.Warn().Err(err).Str("agentId", handle.ID).Msg("control mode: failed to propagate to agent")
		}
	}
	h.broadcastStateSync(ctx)
	respondJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

// ══════════════════════════════════════════════════════════════
// ── Trust ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) GetTrust(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "agentId")
	respondJSON(w, http.StatusOK, models.TrustProfile{
		AgentID:      agentID,
		Score:        h.Trust.GetScore(agentID),
		DomainScores: h.Trust.GetDomainScores(agentID),
	})
}

func (h *Handlers) ListTrustProfiles(w http.ResponseWriter, r *http.Request) {
	scores := h.Trust.GetAllScores()
	domainScores := h.Trust.GetAllDomainScores()
	out := make([]models.TrustProfile, 0, len(scores))
	for agentID, score := range scores {
		out = append(out, models.TrustProfile{AgentID: agentID, Score: score, DomainScores: domainScores[agentID]})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) SetTrustCalibration(w http.ResponseWriter, r *http.Request) {
	var partial trust.Config
	if err := decodeJSON(r, &partial); err != nil {
		respondValidation(w, err.Error())
		return
	}
	h.Trust.Reconfigure(partial)
	h.Hub.BroadcastTrustConfigUpdate(h.Trust.GetConfig())
	respondJSON(w, http.StatusOK, h.Trust.GetConfig())
}

// ══════════════════════════════════════════════════════════════
// ── Artifacts ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	workstream := r.URL.Query().Get("workstream")
	artifacts, err := h.Store.ListArtifacts(r.Context(), workstream)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}
	respondJSON(w, http.StatusOK, artifacts)
}

func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	artifact, err := h.Store.GetArtifact(r.Context(), id)
	if err != nil || artifact == nil {
		respondError(w, http.StatusNotFound, "unknown artifact")
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

func (h *Handlers) GetArtifactContent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	agentID := r.URL.Query().Get("agentId")
	content, mimeType, err := h.Store.GetArtifactContent(r.Context(), agentID, id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Write(content)
}

type createArtifactRequest struct {
	Artifact        models.Artifact `json:"artifact"`
	ExpectedVersion int             `json:"expectedVersion"`
	Content         string          `json:"content,omitempty"`
	MimeType        string          `json:"mimeType,omitempty"`
	CallerAgentID   string          `json:"callerAgentId"`
}

func (h *Handlers) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	var req createArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	ctx := r.Context()
	stored, err := h.Store.UpsertArtifact(ctx, req.Artifact, req.ExpectedVersion, req.CallerAgentID)
	if err != nil {
		if _, ok := err.(*store.Conflict); ok {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Content != "" {
		uri, _, err := h.Store.StoreArtifactContent(ctx, req.CallerAgentID, stored.ID, []byte(req.Content), req.MimeType)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		stored.URI = uri
	}
	h.broadcastStateSync(ctx)
	respondJSON(w, http.StatusCreated, stored)
}

// ══════════════════════════════════════════════════════════════
// ── Coherence ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListCoherenceIssues(w http.ResponseWriter, r *http.Request) {
	status := models.CoherenceStatus(r.URL.Query().Get("status"))
	issues, err := h.Store.ListCoherenceIssues(r.Context(), status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		issues = []models.CoherenceIssue{}
	}
	respondJSON(w, http.StatusOK, issues)
}

// ══════════════════════════════════════════════════════════════
// ── Events ───────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		AgentID: q.Get("agentId"),
		RunID:   q.Get("runId"),
		Limit:   100,
	}
	if types := q.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Kinds = append(filter.Kinds, models.EventKind(strings.TrimSpace(t)))
		}
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	events, err := h.Store.GetEvents(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []models.EventEnvelope{}
	}
	respondJSON(w, http.StatusOK, events)
}

// ══════════════════════════════════════════════════════════════
// ── Tick ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type tickAdvanceRequest struct {
	N int64 `json:"n"`
}

func (h *Handlers) AdvanceTick(w http.ResponseWriter, r *http.Request) {
	if h.Tick.Mode() != tick.ModeManual {
		respondError(w, http.StatusConflict, "tick advance is only permitted in manual mode")
		return
	}
	var req tickAdvanceRequest
	if err := decodeJSON(r, &req); err != nil || req.N <= 0 {
		req.N = 1
	}
	current := h.Tick.Advance(req.N)
	respondJSON(w, http.StatusOK, map[string]int64{"tick": current})
}

// ══════════════════════════════════════════════════════════════
// ── Quarantine ───────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	events, err := h.Quarantine.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []models.QuarantinedEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *Handlers) ClearQuarantine(w http.ResponseWriter, r *http.Request) {
	if err := h.Quarantine.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Project config ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) SeedProject(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "create"
	}
	if mode == "create" && h.Store.HasProject(r.Context()) {
		respondError(w, http.StatusConflict, "project already seeded; use mode=merge")
		return
	}
	var cfg models.ProjectConfig
	if err := decodeJSON(r, &cfg); err != nil {
		respondValidation(w, err.Error())
		return
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if mode == "merge" {
		if existing, err := h.Store.GetProjectConfig(r.Context()); err == nil && existing != nil {
			cfg = mergeProjectConfig(*existing, cfg)
		}
	}
	stored, err := h.Store.UpsertProjectConfig(r.Context(), cfg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

func mergeProjectConfig(existing, patch models.ProjectConfig) models.ProjectConfig {
	merged := existing
	if patch.Name != "" {
		merged.Name = patch.Name
	}
	if patch.Description != "" {
		merged.Description = patch.Description
	}
	if patch.Brief != "" {
		merged.Brief = patch.Brief
	}
	if patch.Tags != nil {
		if merged.Tags == nil {
			merged.Tags = map[string]string{}
		}
		for k, v := range patch.Tags {
			merged.Tags[k] = v
		}
	}
	merged.UpdatedAt = patch.UpdatedAt
	return merged
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.GetProjectConfig(r.Context())
	if err != nil || cfg == nil {
		respondError(w, http.StatusNotFound, "project not seeded")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) PatchProject(w http.ResponseWriter, r *http.Request) {
	var patch models.ProjectConfig
	if err := decodeJSON(r, &patch); err != nil {
		respondValidation(w, err.Error())
		return
	}
	existing, err := h.Store.GetProjectConfig(r.Context())
	if err != nil || existing == nil {
		respondError(w, http.StatusNotFound, "project not seeded")
		return
	}
	patch.UpdatedAt = time.Now().UTC()
	merged := mergeProjectConfig(*existing, patch)
	stored, err := h.Store.UpsertProjectConfig(r.Context(), merged)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

// DraftBrief proposes an AgentBrief skeleton derived from the project
// config and a requested role/workstream — a thin scaffold, not an LLM
// call (no model-invocation surface is wired here).
func (h *Handlers) DraftBrief(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role       string `json:"role"`
		Workstream string `json:"workstream"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	cfg, _ := h.Store.GetProjectConfig(r.Context())
	brief := models.AgentBrief{
		Role:       req.Role,
		Workstream: req.Workstream,
	}
	if cfg != nil {
		brief.ProjectBriefSnapshot = cfg.Brief
	}
	respondJSON(w, http.StatusOK, brief)
}

// ══════════════════════════════════════════════════════════════
// ── Catalog, sessions, retention (domain-stack additions) ────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Catalog.ListAll())
}

func (h *Handlers) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	n := h.Catalog.Refresh(r.Context())
	respondJSON(w, http.StatusOK, map[string]int{"refreshed": n})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "agentId")
	sess, err := h.Sessions.ListSessionsByAgent(r.Context(), agentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) ListArchiveManifests(w http.ResponseWriter, r *http.Request) {
	manifests, err := h.Retention.Manifests(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, manifests)
}

// ══════════════════════════════════════════════════════════════
// ── Bridge (agent-side hook surface, §6) ─────────────────────
// ══════════════════════════════════════════════════════════════

type adapterEvent struct {
	SourceEventID    string              `json:"sourceEventId"`
	SourceSequence   int64               `json:"sourceSequence"`
	SourceOccurredAt time.Time           `json:"sourceOccurredAt"`
	RunID            string              `json:"runId"`
	Event            models.EventPayload `json:"event"`
}

type bridgeEventsRequest struct {
	AgentID string         `json:"agentId"`
	Events  []adapterEvent `json:"events"`
}

// BridgeEvents ingests a batch of adapter-shim events through the
// quarantine gate onto the bus.
func (h *Handlers) BridgeEvents(w http.ResponseWriter, r *http.Request) {
	var req bridgeEventsRequest
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondValidation(w, err.Error())
		return
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	ctx := r.Context()
	accepted, quarantined := 0, 0
	for _, ae := range req.Events {
		envelope := models.EventEnvelope{
			SourceEventID:    ae.SourceEventID,
			SourceSequence:   ae.SourceSequence,
			SourceOccurredAt: ae.SourceOccurredAt,
			RunID:            ae.RunID,
			AgentID:          req.AgentID,
			IngestedAt:       time.Now().UTC(),
			Event:            ae.Event,
		}
		admitted, ok := h.Quarantine.Admit(ctx, envelope, string(raw))
		if !ok {
			quarantined++
			continue
		}
		if admitted.Event.Kind == models.EventStatus {
			if msg, ok := admitted.Event.Data["message"].(string); ok {
				h.Gateway.SetStatusMessage(admitted.AgentID, msg)
			}
		}
		if err := h.Store.AppendEvent(ctx, admitted); err != nil {
			log.Error().Err(err).Msg("bridge: failed to append event")
			continue
		}
		h.Bus.Publish(admitted)
		h.Scheduler.OnBusEvent(ctx, admitted, h.Tick.Current())
		h.Hub.BroadcastEvent(admitted, workstreamVisibility(admitted))
		accepted++
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted, "quarantined": quarantined})
}

func workstreamVisibility(e models.EventEnvelope) string {
	if e.Event.Data == nil {
		return ""
	}
	if ws, ok := e.Event.Data["workstream"].(string); ok {
		return ws
	}
	return ""
}

type bridgeRegisterRequest struct {
	AgentID string            `json:"agentId"`
	Brief   models.AgentBrief `json:"brief"`
}

// BridgeRegister lets an adapter shim confirm its own registration once
// it has started, independent of the spawn call that created it.
func (h *Handlers) BridgeRegister(w http.ResponseWriter, r *http.Request) {
	var req bridgeRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	if _, ok := h.Gateway.GetHandle(req.AgentID); !ok {
		respondError(w, http.StatusNotFound, "unknown agent")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// BridgeContext returns the latest knowledge snapshot for the agent —
// the shim polls this when it cannot accept a push (e.g. after a
// reconnect).
func (h *Handlers) BridgeContext(w http.ResponseWriter, r *http.Request) {
	agentID := pathParam(r, "agentId")
	snapshot, err := h.Store.GetSnapshot(r.Context(), h.Queue.ListPending(agentID))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// BridgeBrake lets a shim poll whether it is currently braked (in
// addition to the push-based kill/pause call).
func (h *Handlers) BridgeBrake(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Brake.State())
}

// ══════════════════════════════════════════════════════════════
// ── Token renewal & operator auth ────────────────────────────
// ══════════════════════════════════════════════════════════════

type tokenRenewRequest struct {
	AgentID string `json:"agentId"`
}

// TokenRenew issues a fresh short-lived service-account-style token for
// a running sandbox, used by AGENT_BOOTSTRAP.tokenExpiresAt renewal.
func (h *Handlers) TokenRenew(w http.ResponseWriter, r *http.Request) {
	var req tokenRenewRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	if _, ok := h.Gateway.GetHandle(req.AgentID); !ok {
		respondError(w, http.StatusNotFound, "unknown agent")
		return
	}
	token, err := auth.GenerateToken(h.ServiceSalt, req.AgentID, "agent", time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"backendToken":  token,
		"tokenExpiresAt": time.Now().Add(time.Hour).Unix(),
	})
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondValidation(w, err.Error())
		return
	}
	fake := &http.Request{Header: http.Header{"X-Api-Key": []string{req.APIKey}}}
	identity, err := h.AuthChain.Authenticate(r.Context(), fake)
	if err != nil || identity == nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	identity := mdl.GetIdentity(r.Context())
	if identity == nil {
		respondError(w, http.StatusUnauthorized, "no active session")
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := mdl.GetIdentity(r.Context())
	if identity == nil {
		respondJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"authenticated": true, "identity": identity})
}

// ── helpers ──────────────────────────────────────────────────

func (h *Handlers) broadcastStateSync(ctx context.Context) {
	snapshot, err := h.Store.GetSnapshot(ctx, h.Queue.ListAll())
	if err != nil {
		log.Error().Err(err).Msg("handlers: failed to build snapshot for state_sync")
		return
	}
	var projectCfg *models.ProjectConfig
	if cfg, err := h.Store.GetProjectConfig(ctx); err == nil {
		projectCfg = cfg
	}
	h.Hub.BroadcastStateSync(snapshot, h.Gateway.ListHandles(), h.Trust.GetAllScores(), string(h.Control.Current()), projectCfg)
}
