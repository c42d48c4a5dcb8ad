// Package toolgate implements the synchronous tool-approval checkpoint:
// severity/blast-radius classification, the bash safe/destructive
// heuristic, auto-resolution by control mode, and the shared
// resolution-side-effects pipeline (trust, audit, WS broadcast).
package toolgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/internal/decisions"
	"github.com/agentoven/conductor/internal/mcptools"
	"github.com/agentoven/conductor/internal/trust"
	"github.com/agentoven/conductor/pkg/models"
)

// riskBucket names one of the four trust-threshold buckets used by
// adaptive mode.
type riskBucket string

const (
	bucketSmallTrivial   riskBucket = "small_trivial"
	bucketMedium         riskBucket = "medium"
	bucketLargeSafe      riskBucket = "large_safe"
	bucketLargeDestruct  riskBucket = "large_destructive"
)

var adaptiveThreshold = map[riskBucket]int{
	bucketSmallTrivial:  30,
	bucketMedium:        50,
	bucketLargeSafe:     60,
	bucketLargeDestruct: 80,
}

// toolRiskTable is the fixed severity/blastRadius table keyed by tool
// name; unlisted tools fall back to the "else" row.
var toolRiskTable = map[string]struct {
	severity    models.Severity
	blastRadius models.BlastRadius
}{
	"Bash":  {models.SeverityHigh, models.BlastLarge},
	"Write": {models.SeverityMedium, models.BlastMedium},
	"Edit":  {models.SeverityMedium, models.BlastMedium},
}

var defaultRisk = struct {
	severity    models.Severity
	blastRadius models.BlastRadius
}{models.SeverityLow, models.BlastSmall}

// bashSafeFirstTokens and bashDestructiveFirstTokens classify the first
// command of a Bash chain. Unknown first tokens default to destructive.
var bashSafeFirstTokens = map[string]bool{
	"ls": true, "cat": true, "echo": true, "pwd": true, "grep": true,
	"find": true, "head": true, "tail": true, "wc": true, "diff": true,
	"git": true, "go": true, "node": true, "npm": true, "python": true,
	"python3": true, "test": true, "which": true, "env": true,
}

var bashDestructiveFirstTokens = map[string]bool{
	"rm": true, "rmdir": true, "mv": true, "dd": true, "mkfs": true,
	"shutdown": true, "reboot": true, "kill": true, "killall": true,
	"chmod": true, "chown": true, "curl": true, "wget": true, "sudo": true,
	"truncate": true,
}

// classifyBash returns "safe" or "destructive" for the first command in
// a shell chain delimited by &&, ||, ;, or |.
func classifyBash(command string) string {
	first := strings.TrimSpace(command)
	for _, sep := range []string{"&&", "||", ";", "|"} {
		if idx := strings.Index(first, sep); idx >= 0 {
			first = first[:idx]
			break
		}
	}
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return "destructive"
	}
	token := fields[0]
	if bashSafeFirstTokens[token] {
		return "safe"
	}
	if bashDestructiveFirstTokens[token] {
		return "destructive"
	}
	return "destructive"
}

// classify derives severity, blast radius, and (for Bash) the
// safe/destructive verdict for a tool call.
func classify(toolName string, toolArgs map[string]any) (models.Severity, models.BlastRadius, string) {
	risk, ok := toolRiskTable[toolName]
	if !ok {
		risk = defaultRisk
	}
	bashRisk := ""
	if toolName == "Bash" {
		cmd, _ := toolArgs["command"].(string)
		bashRisk = classifyBash(cmd)
	}
	return risk.severity, risk.blastRadius, bashRisk
}

func bucketFor(blastRadius models.BlastRadius, bashRisk string) riskBucket {
	switch blastRadius {
	case models.BlastTrivial, models.BlastSmall:
		return bucketSmallTrivial
	case models.BlastMedium:
		return bucketMedium
	case models.BlastLarge:
		if bashRisk == "destructive" {
			return bucketLargeDestruct
		}
		return bucketLargeSafe
	default:
		return bucketMedium
	}
}

// ControlMode names the three operating modes governing auto-resolution.
type ControlMode string

const (
	ModeOrchestrator ControlMode = "orchestrator"
	ModeAdaptive     ControlMode = "adaptive"
	ModeEcosystem    ControlMode = "ecosystem"
)

// Plugin is the subset of the gateway contract the gate needs to
// forward a resolution back to the originating agent.
type Plugin interface {
	ResolveDecision(ctx context.Context, handle models.AgentHandle, decisionID string, resolution models.Resolution) error
}

// Broadcaster publishes outbound WS messages.
type Broadcaster interface {
	BroadcastDecisionResolved(decision models.Decision)
	BroadcastTrustUpdate(agentID string, score int, delta int)
}

// AuditLog appends an audit trail entry.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, entry models.AuditLogEntry) error
}

// HandleRegistry resolves an agentId to its runtime handle.
type HandleRegistry interface {
	GetHandle(agentID string) (models.AgentHandle, bool)
	LastStatusMessage(agentID string) string
}

// ArtifactLookup resolves decision-affected artifact ids to their kind
// and workstream, for trust-context purposes.
type ArtifactLookup interface {
	ArtifactKindsAndWorkstreams(ctx context.Context, artifactIDs []string) (kinds []string, workstreams []string)
}

// ToolRegistry is the subset of internal/mcptools.Registry the gate
// needs to check for a per-workstream registered tool override (§4.7).
type ToolRegistry interface {
	Get(workstream, name string) (models.RegisteredTool, bool)
}

const waitTimeout = 5 * time.Minute

// Gate is the tool-approval checkpoint. It owns no locks of its own —
// state lives in the decision queue and trust engine it wraps.
type Gate struct {
	queue     *decisions.Queue
	trust     *trust.Engine
	handles   HandleRegistry
	artifacts ArtifactLookup
	plugin    Plugin
	broadcast Broadcaster
	audit     AuditLog
	mode      func() ControlMode

	tools        ToolRegistry
	workstreamOf func(agentID string) string
}

// New creates a Gate. mode is called on every request so the caller can
// swap control modes atomically without reconstructing the gate.
func New(queue *decisions.Queue, trustEngine *trust.Engine, handles HandleRegistry, artifacts ArtifactLookup, plugin Plugin, broadcast Broadcaster, audit AuditLog, mode func() ControlMode) *Gate {
	return &Gate{queue: queue, trust: trustEngine, handles: handles, artifacts: artifacts, plugin: plugin, broadcast: broadcast, audit: audit, mode: mode}
}

// SetToolRegistry wires an optional MCP tool registry lookup into
// classification (§4.7). Without it, every tool call uses the fixed
// severity/blastRadius table.
func (g *Gate) SetToolRegistry(tools ToolRegistry, workstreamOf func(agentID string) string) {
	g.tools = tools
	g.workstreamOf = workstreamOf
}

// RequestResult is returned synchronously to the caller of
// RequestApproval.
type RequestResult struct {
	Decision     models.Decision
	AutoResolved bool
	TimedOut     bool
}

// RequestApproval implements the blocking pre-tool-use RPC of §4.7.
func (g *Gate) RequestApproval(ctx context.Context, agentID, toolName string, toolArgs map[string]any, currentTick int64) (RequestResult, error) {
	handle, ok := g.handles.GetHandle(agentID)
	if !ok {
		return RequestResult{}, fmt.Errorf("toolgate: agent %q not registered", agentID)
	}

	severity, blastRadius, bashRisk := classify(toolName, toolArgs)
	if g.tools != nil && g.workstreamOf != nil {
		if tool, ok := g.tools.Get(g.workstreamOf(agentID), toolName); ok {
			if mcptools.DestructiveDefault(tool) {
				bashRisk = "destructive"
				blastRadius = models.BlastLarge
			}
		}
	}
	payload := models.DecisionPayload{
		Kind:        models.DecisionToolApproval,
		Severity:    severity,
		BlastRadius: blastRadius,
		ToolName:    toolName,
		ToolArgs:    toolArgs,
		Reasoning:   g.handles.LastStatusMessage(agentID),
	}
	event := models.EventEnvelope{
		AgentID:          agentID,
		SourceOccurredAt: time.Now().UTC(),
		IngestedAt:       time.Now().UTC(),
		Event:            models.EventPayload{Kind: models.EventDecision, Decision: &payload},
	}

	decision := g.queue.Enqueue("", event, currentTick, -1)

	if mode, approve, rationale := g.autoResolveVerdict(g.mode(), blastRadius, bashRisk, agentID); mode {
		resolution := models.Resolution{
			Type:         models.DecisionToolApproval,
			Action:       resolveAction(approve),
			Rationale:    rationale,
			AutoResolved: true,
			ActionKind:   models.ActionKindReview,
		}
		resolved := g.applyResolution(ctx, decision.DecisionID, resolution, handle)
		return RequestResult{Decision: resolved, AutoResolved: true}, nil
	}

	waitCh := g.queue.WaitForResolution(decision.DecisionID)
	select {
	case resolution := <-waitCh:
		d, _ := g.queue.Get(decision.DecisionID)
		d.Resolution = &resolution
		return RequestResult{Decision: d}, nil
	case <-time.After(waitTimeout):
		resolution := models.Resolution{Type: models.DecisionToolApproval, Action: models.ToolActionReject, Rationale: "Timed out waiting for human approval"}
		resolved := g.applyResolution(ctx, decision.DecisionID, resolution, handle)
		return RequestResult{Decision: resolved, TimedOut: true}, nil
	case <-ctx.Done():
		return RequestResult{}, ctx.Err()
	}
}

// autoResolveVerdict returns (shouldAutoResolve, approve, rationale).
func (g *Gate) autoResolveVerdict(mode ControlMode, blastRadius models.BlastRadius, bashRisk, agentID string) (bool, bool, string) {
	switch mode {
	case ModeOrchestrator:
		return false, false, ""
	case ModeEcosystem:
		if blastRadius == models.BlastLarge && bashRisk == "destructive" {
			return false, false, ""
		}
		return true, true, "Auto-approved by ecosystem mode"
	case ModeAdaptive:
		bucket := bucketFor(blastRadius, bashRisk)
		threshold := adaptiveThreshold[bucket]
		score := g.trust.GetScore(agentID)
		if score >= threshold {
			return true, true, "Auto-approved by adaptive mode"
		}
		return false, false, ""
	default:
		return false, false, ""
	}
}

func resolveAction(approve bool) models.ToolApprovalAction {
	if approve {
		return models.ToolActionApprove
	}
	return models.ToolActionReject
}

// Resolve is called from the HTTP decision-resolve endpoint for
// human-driven resolutions.
func (g *Gate) Resolve(ctx context.Context, decisionID string, resolution models.Resolution, agentID string) (models.Decision, bool) {
	handle, _ := g.handles.GetHandle(agentID)
	decision := g.applyResolution(ctx, decisionID, resolution, handle)
	return decision, decision.DecisionID != ""
}

// applyResolution runs the shared side-effects pipeline: queue resolve,
// trust outcome mapping (skipped when auto-resolved), audit log, WS
// broadcasts, and best-effort forward to the originating agent.
func (g *Gate) applyResolution(ctx context.Context, decisionID string, resolution models.Resolution, handle models.AgentHandle) models.Decision {
	decision, ok := g.queue.Resolve(decisionID, resolution)
	if !ok {
		existing, _ := g.queue.Get(decisionID)
		return existing
	}

	payload := decision.Event.Event.Decision
	kinds, workstreams := []string{}, []string{}
	if payload != nil && g.artifacts != nil {
		kinds, workstreams = g.artifacts.ArtifactKindsAndWorkstreams(ctx, payload.AffectedArtifactIDs)
	}

	delta := 0
	if !resolution.AutoResolved {
		outcome, ok := mapOutcome(resolution, payload)
		if ok {
			delta = g.trust.ApplyOutcome(decision.AgentID, outcome, decision.EnqueuedAtTick, trust.Context{
				BlastRadius:   safeBlastRadius(payload),
				ArtifactKinds: kinds,
				Workstreams:   workstreams,
				ToolCategory:  toolCategory(payload),
			})
		}
		g.trust.FlushDomainLog(decision.AgentID)
	}

	if g.audit != nil {
		entry := models.AuditLogEntry{
			EntityType:    "decision",
			EntityID:      decisionID,
			Action:        "trust_outcome",
			CallerAgentID: decision.AgentID,
			Timestamp:     time.Now().UTC(),
			Details: map[string]any{
				"decisionId":   decisionID,
				"autoResolved": resolution.AutoResolved,
				"delta":        delta,
				"severity":     string(safeSeverity(payload)),
				"blastRadius":  string(safeBlastRadius(payload)),
				"toolName":     toolNameOf(payload),
				"artifactIds":  artifactIDsOf(payload),
			},
		}
		if err := g.audit.AppendAuditLog(ctx, entry); err != nil {
			log.Error().Err(err).Msg("toolgate: failed to append audit log")
		}
	}

	if delta != 0 && g.broadcast != nil {
		g.broadcast.BroadcastTrustUpdate(decision.AgentID, g.trust.GetScore(decision.AgentID), delta)
	}

	if g.plugin != nil && handle.ID != "" {
		if err := g.plugin.ResolveDecision(ctx, handle, decisionID, resolution); err != nil {
			log.Error().Err(err).Str("agentId", decision.AgentID).Msg("toolgate: failed to forward resolution to agent")
		}
	}

	if g.broadcast != nil {
		g.broadcast.BroadcastDecisionResolved(decision)
	}
	return decision
}

// mapOutcome is the pure function mapping a resolution to a trust
// outcome, shared by human-resolve and non-auto paths.
func mapOutcome(resolution models.Resolution, payload *models.DecisionPayload) (trust.Outcome, bool) {
	switch resolution.Type {
	case models.DecisionOption:
		if payload != nil && resolution.ChosenOptionID == payload.RecommendedOptionID && resolution.ChosenOptionID != "" {
			return trust.OutcomeHumanApprovesRecommended, true
		}
		return trust.OutcomeHumanOverridesAgentDecision, true
	case models.DecisionToolApproval:
		switch resolution.Action {
		case models.ToolActionApprove:
			return trust.OutcomeHumanApprovesToolCall, true
		case models.ToolActionReject:
			return trust.OutcomeHumanRejectsToolCall, true
		case models.ToolActionModify:
			return trust.OutcomeHumanOverridesAgentDecision, true
		}
	}
	return "", false
}

func safeBlastRadius(p *models.DecisionPayload) models.BlastRadius {
	if p == nil {
		return models.BlastUnknown
	}
	return p.BlastRadius
}

func safeSeverity(p *models.DecisionPayload) models.Severity {
	if p == nil {
		return ""
	}
	return p.Severity
}

func toolNameOf(p *models.DecisionPayload) string {
	if p == nil {
		return ""
	}
	return p.ToolName
}

func artifactIDsOf(p *models.DecisionPayload) []string {
	if p == nil {
		return nil
	}
	return p.AffectedArtifactIDs
}

func toolCategory(p *models.DecisionPayload) string {
	if p == nil {
		return ""
	}
	return p.ToolName
}
