// Package models defines the data model shared across the control plane:
// agents, events, artifacts, decisions, trust, knowledge snapshots,
// checkpoints, and the audit log.
package models

import "time"

// ── Agent ────────────────────────────────────────────────────

type AgentStatus string

const (
	AgentStatusRunning        AgentStatus = "running"
	AgentStatusPaused         AgentStatus = "paused"
	AgentStatusWaitingOnHuman AgentStatus = "waiting_on_human"
	AgentStatusCompleted      AgentStatus = "completed"
	AgentStatusError          AgentStatus = "error"
)

// Terminal reports whether the status can never transition further.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusError
}

// EscalationProtocol describes how an agent should surface decisions it
// cannot resolve itself.
type EscalationProtocol struct {
	NotifyChannel string `json:"notifyChannel,omitempty"`
	MaxAutonomy   string `json:"maxAutonomy,omitempty"` // low|medium|high
}

// SessionPolicy bounds a single agent session.
type SessionPolicy struct {
	ContextBudgetTokens int  `json:"contextBudgetTokens,omitempty"`
	MaxTurns            int  `json:"maxTurns,omitempty"`
	AutoCheckpoint      bool `json:"autoCheckpoint,omitempty"`
}

// ReactiveEventRule is one entry of a ContextInjectionPolicy.ReactiveEvents.
type ReactiveEventRule struct {
	Trigger     string `json:"trigger"`               // artifact_approved|decision_resolved|coherence_issue|agent_completed|brief_updated
	Workstreams string `json:"workstreams,omitempty"` // own|readable|all
	MinSeverity string `json:"minSeverity,omitempty"` // warning|low|medium|high|critical
}

// ContextInjectionPolicy configures the per-agent injection scheduler.
// A nil PeriodicIntervalTicks/StalenessThreshold means that trigger is
// disabled; the fields are pointers so an explicit 0 stays distinct from
// unset.
type ContextInjectionPolicy struct {
	PeriodicIntervalTicks *int64              `json:"periodicIntervalTicks,omitempty"`
	StalenessThreshold    *int                `json:"stalenessThreshold,omitempty"`
	CooldownTicks         int64               `json:"cooldownTicks"`
	MaxInjectionsPerHour  int                 `json:"maxInjectionsPerHour"`
	ReactiveEvents        []ReactiveEventRule `json:"reactiveEvents,omitempty"`
}

// AgentBrief is everything handed to an agent at spawn or update time.
type AgentBrief struct {
	Role                    string                  `json:"role"`
	Workstream              string                  `json:"workstream"`
	ReadableWorkstreams     []string                `json:"readableWorkstreams,omitempty"`
	Escalation              EscalationProtocol      `json:"escalation,omitempty"`
	AllowedTools            []string                `json:"allowedTools,omitempty"`
	SessionPolicy           SessionPolicy           `json:"sessionPolicy,omitempty"`
	ContextInjectionPolicy  *ContextInjectionPolicy `json:"contextInjectionPolicy,omitempty"`
	ModelPreference         string                  `json:"modelPreference,omitempty"`
	ProjectBriefSnapshot    string                  `json:"projectBriefSnapshot,omitempty"`
	KnowledgeSnapshotAtSpawn int64                  `json:"knowledgeSnapshotAtSpawn"`
	PluginName              string                  `json:"pluginName,omitempty"`
}

// Agent is a spawned LLM worker tracked by the knowledge store.
type Agent struct {
	ID         string      `json:"id" db:"id"`
	Role       string      `json:"role" db:"role"`
	Workstream string      `json:"workstream" db:"workstream"`
	PluginName string      `json:"pluginName" db:"plugin_name"`
	Status     AgentStatus `json:"status" db:"status"`
	Brief      AgentBrief  `json:"brief"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time   `json:"updatedAt" db:"updated_at"`
}

// AgentHandle is the runtime descriptor owned by the registry/gateway.
type AgentHandle struct {
	ID         string      `json:"id"`
	PluginName string      `json:"pluginName"`
	Status     AgentStatus `json:"status"`
	SessionID  string      `json:"sessionId,omitempty"`
}

// ── Events ───────────────────────────────────────────────────

// EventKind enumerates the typed event payloads an adapter may emit.
type EventKind string

const (
	EventStatus      EventKind = "status"
	EventDecision    EventKind = "decision"
	EventArtifact    EventKind = "artifact"
	EventCoherence   EventKind = "coherence"
	EventToolCall    EventKind = "tool_call"
	EventCompletion  EventKind = "completion"
	EventError       EventKind = "error"
	EventDelegation  EventKind = "delegation"
	EventGuardrail   EventKind = "guardrail"
	EventLifecycle   EventKind = "lifecycle"
	EventProgress    EventKind = "progress"
	EventRawProvider EventKind = "raw_provider"
)

// DecisionEventKind distinguishes the two decision payload shapes.
type DecisionEventKind string

const (
	DecisionOption       DecisionEventKind = "option"
	DecisionToolApproval DecisionEventKind = "tool_approval"
)

// Severity is a qualitative urgency tag used by both decisions and
// coherence issues.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityWarning:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is ranked at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// BlastRadius is a qualitative impact tag.
type BlastRadius string

const (
	BlastTrivial BlastRadius = "trivial"
	BlastSmall   BlastRadius = "small"
	BlastMedium  BlastRadius = "medium"
	BlastLarge   BlastRadius = "large"
	BlastUnknown BlastRadius = "unknown"
)

// DecisionChoice is one alternative of an "option" decision.
type DecisionChoice struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Summary string `json:"summary,omitempty"`
}

// DecisionPayload is the embedded decision description inside an
// EventEnvelope of kind EventDecision.
type DecisionPayload struct {
	Kind                DecisionEventKind `json:"kind"`
	Title               string            `json:"title,omitempty"`
	Summary             string            `json:"summary,omitempty"`
	Severity            Severity          `json:"severity,omitempty"`
	Confidence          float64           `json:"confidence,omitempty"`
	BlastRadius         BlastRadius       `json:"blastRadius,omitempty"`
	Options             []DecisionChoice  `json:"options,omitempty"`
	RecommendedOptionID string            `json:"recommendedOptionId,omitempty"`
	AffectedArtifactIDs []string          `json:"affectedArtifactIds,omitempty"`
	RequiresRationale   bool              `json:"requiresRationale,omitempty"`
	DueByTick           *int64            `json:"dueByTick,omitempty"`
	ToolName            string            `json:"toolName,omitempty"`
	ToolArgs            map[string]any    `json:"toolArgs,omitempty"`
	Reasoning           string            `json:"reasoning,omitempty"`
}

// EventPayload is the typed body of an EventEnvelope. Only the field
// matching Kind is expected to be populated; Data carries anything the
// adapter attaches beyond the typed fields.
type EventPayload struct {
	Kind     EventKind        `json:"kind"`
	Decision *DecisionPayload `json:"decision,omitempty"`
	Data     map[string]any   `json:"data,omitempty"`
}

// EventEnvelope is every observable action ingested from an adapter.
type EventEnvelope struct {
	SourceEventID    string       `json:"sourceEventId"`
	SourceSequence   int64        `json:"sourceSequence"`
	SourceOccurredAt time.Time    `json:"sourceOccurredAt"`
	RunID            string       `json:"runId"`
	AgentID          string       `json:"agentId"`
	IngestedAt       time.Time    `json:"ingestedAt"`
	Event            EventPayload `json:"event"`
}

// ── Artifact ─────────────────────────────────────────────────

type ArtifactKind string

const (
	ArtifactCode   ArtifactKind = "code"
	ArtifactDoc    ArtifactKind = "doc"
	ArtifactDesign ArtifactKind = "design"
	ArtifactConfig ArtifactKind = "config"
	ArtifactTest   ArtifactKind = "test"
	ArtifactOther  ArtifactKind = "other"
)

type ArtifactStatus string

const (
	ArtifactDraft    ArtifactStatus = "draft"
	ArtifactInReview ArtifactStatus = "in_review"
	ArtifactApproved ArtifactStatus = "approved"
	ArtifactRejected ArtifactStatus = "rejected"
)

// Provenance tracks who/what produced an artifact.
type Provenance struct {
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
	SourceArtifactIDs []string  `json:"sourceArtifactIds,omitempty"`
}

// Artifact is a persisted agent output.
type Artifact struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Kind         ArtifactKind   `json:"kind" db:"kind"`
	Workstream   string         `json:"workstream" db:"workstream"`
	Status       ArtifactStatus `json:"status" db:"status"`
	QualityScore float64        `json:"qualityScore" db:"quality_score"`
	Provenance   Provenance     `json:"provenance"`
	URI          string         `json:"uri,omitempty" db:"uri"`
	MimeType     string         `json:"mimeType,omitempty" db:"mime_type"`
	SizeBytes    int64          `json:"sizeBytes,omitempty" db:"size_bytes"`
	ContentHash  string         `json:"contentHash,omitempty" db:"content_hash"`
	Version      int            `json:"version" db:"version"`
}

// ── Coherence ────────────────────────────────────────────────

type CoherenceKind string

const (
	CoherenceContradiction       CoherenceKind = "contradiction"
	CoherenceDuplication         CoherenceKind = "duplication"
	CoherenceGap                 CoherenceKind = "gap"
	CoherenceDependencyViolation CoherenceKind = "dependency_violation"
)

type CoherenceStatus string

const (
	CoherenceOpen     CoherenceStatus = "open"
	CoherenceResolved CoherenceStatus = "resolved"
)

// CoherenceIssue is a cross-workstream inconsistency.
type CoherenceIssue struct {
	ID                  string          `json:"id" db:"id"`
	Kind                CoherenceKind   `json:"kind" db:"kind"`
	Severity            Severity        `json:"severity" db:"severity"`
	Status              CoherenceStatus `json:"status" db:"status"`
	Summary             string          `json:"summary" db:"summary"`
	AffectedWorkstreams []string        `json:"affectedWorkstreams"`
	AffectedArtifactIDs []string        `json:"affectedArtifactIds"`
	Resolution          string          `json:"resolution,omitempty" db:"resolution"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	ResolvedAt          *time.Time      `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// ── Decision ─────────────────────────────────────────────────

type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionSuspended DecisionStatus = "suspended"
	DecisionTriage    DecisionStatus = "triage"
	DecisionResolved  DecisionStatus = "resolved"
	DecisionTimedOut  DecisionStatus = "timed_out"
)

// Terminal reports whether the status can never transition further.
func (s DecisionStatus) Terminal() bool {
	return s == DecisionResolved || s == DecisionTimedOut
}

// ResolutionActionKind categorizes how a resolution was produced, for
// audit/reporting purposes.
type ResolutionActionKind string

const (
	ActionKindReview ResolutionActionKind = "review"
	ActionKindManual ResolutionActionKind = "manual"
)

// ToolApprovalAction is the verb of a tool_approval resolution.
type ToolApprovalAction string

const (
	ToolActionApprove ToolApprovalAction = "approve"
	ToolActionReject  ToolApprovalAction = "reject"
	ToolActionModify  ToolApprovalAction = "modify"
)

// Resolution is the terminal outcome attached to a Decision.
type Resolution struct {
	Type           DecisionEventKind    `json:"type"`
	ChosenOptionID string               `json:"chosenOptionId,omitempty"`
	Action         ToolApprovalAction   `json:"action,omitempty"`
	Rationale      string               `json:"rationale,omitempty"`
	ActionKind     ResolutionActionKind `json:"actionKind,omitempty"`
	ModifiedArgs   map[string]any       `json:"modifiedArgs,omitempty"`
	AutoResolved   bool                 `json:"autoResolved,omitempty"`
	ResolvedBy     string               `json:"resolvedBy,omitempty"`
}

// Decision is a pending option or tool-approval request.
type Decision struct {
	DecisionID     string         `json:"decisionId"`
	AgentID        string         `json:"agentId"`
	Event          EventEnvelope  `json:"event"`
	Status         DecisionStatus `json:"status"`
	EnqueuedAtTick int64          `json:"enqueuedAtTick"`
	Priority       int            `json:"priority"`
	Resolution     *Resolution    `json:"resolution,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	Badge          string         `json:"badge,omitempty"`
}

// ── Trust ────────────────────────────────────────────────────

// TrustProfile is the per-agent trust state.
type TrustProfile struct {
	AgentID          string           `json:"agentId"`
	Score            int              `json:"score"`
	DomainScores     map[string]int   `json:"domainScores"`
	LastActivityTick int64            `json:"lastActivityTick"`
	DomainActivity   map[string]int64 `json:"domainActivity"`
}

// ── Knowledge snapshot ───────────────────────────────────────

// WorkstreamSummary is one row of KnowledgeSnapshot.Workstreams.
type WorkstreamSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Status       string    `json:"status,omitempty"`
	LastActivity string    `json:"lastActivity,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ArtifactIndexEntry is a lightweight artifact row for the snapshot.
type ArtifactIndexEntry struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       ArtifactKind   `json:"kind"`
	Workstream string         `json:"workstream"`
	Status     ArtifactStatus `json:"status"`
	Version    int            `json:"version"`
}

// KnowledgeSnapshot is a versioned read-model derived from the store.
type KnowledgeSnapshot struct {
	Version               int64                `json:"version"`
	GeneratedAt           time.Time            `json:"generatedAt"`
	Workstreams           []WorkstreamSummary  `json:"workstreams"`
	PendingDecisions      []Decision           `json:"pendingDecisions"`
	RecentCoherenceIssues []CoherenceIssue     `json:"recentCoherenceIssues"`
	ArtifactIndex         []ArtifactIndexEntry `json:"artifactIndex"`
	ActiveAgents          []AgentHandle        `json:"activeAgents"`
	EstimatedTokens       int64                `json:"estimatedTokens"`
}

// ── Checkpoint ───────────────────────────────────────────────

type SerializedBy string

const (
	SerializedByPause              SerializedBy = "pause"
	SerializedByKillGrace          SerializedBy = "kill_grace"
	SerializedByCrashRecovery      SerializedBy = "crash_recovery"
	SerializedByDecisionCheckpoint SerializedBy = "decision_checkpoint"
)

// SerializedAgentState is the provider-opaque payload returned by
// pause/kill/requestCheckpoint.
type SerializedAgentState struct {
	AgentID            string         `json:"agentId"`
	Checkpoint         map[string]any `json:"checkpoint,omitempty"`
	Brief              AgentBrief     `json:"brief"`
	LastSequence       int64          `json:"lastSequence"`
	PendingDecisionIDs []string       `json:"pendingDecisionIds,omitempty"`
	SerializedBy       SerializedBy   `json:"serializedBy"`
}

// Checkpoint is a stored SerializedAgentState with its metadata.
type Checkpoint struct {
	ID         string               `json:"id" db:"id"`
	AgentID    string               `json:"agentId" db:"agent_id"`
	State      SerializedAgentState `json:"state"`
	DecisionID string               `json:"decisionId,omitempty" db:"decision_id"`
	CreatedAt  time.Time            `json:"createdAt" db:"created_at"`
}

// ── Audit log ────────────────────────────────────────────────

// AuditLogEntry is an append-only record of a mutating action.
type AuditLogEntry struct {
	ID            string         `json:"id" db:"id"`
	EntityType    string         `json:"entityType" db:"entity_type"`
	EntityID      string         `json:"entityId" db:"entity_id"`
	Action        string         `json:"action" db:"action"`
	CallerAgentID string         `json:"callerAgentId,omitempty" db:"caller_agent_id"`
	Timestamp     time.Time      `json:"timestamp" db:"timestamp"`
	Details       map[string]any `json:"details,omitempty"`
}

// ── Project config ───────────────────────────────────────────

// ProjectConfig is the single-row project-level configuration.
type ProjectConfig struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Brief       string            `json:"brief,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ── Session (domain-stack addition) ─────────────────────────

// SessionTurn is one message in a conversational ledger.
type SessionTurn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is a conversational ledger tied to an AgentHandle.SessionID.
type Session struct {
	ID         string        `json:"id" db:"id"`
	AgentID    string        `json:"agentId" db:"agent_id"`
	Workstream string        `json:"workstream" db:"workstream"`
	Turns      []SessionTurn `json:"turns"`
	Status     string        `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time     `json:"updatedAt" db:"updated_at"`
}

// ── Catalog (domain-stack addition) ─────────────────────────

// CatalogEntry describes one provider/model pair's known capabilities.
type CatalogEntry struct {
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	ContextWindow   int       `json:"contextWindow"`
	SupportsTools   bool      `json:"supportsTools"`
	SupportsVision  bool      `json:"supportsVision"`
	InputCostPer1K  float64   `json:"inputCostPer1K"`
	OutputCostPer1K float64   `json:"outputCostPer1K"`
	LastRefreshed   time.Time `json:"lastRefreshed"`
}

// ── MCP tool registry (domain-stack addition) ───────────────

// RegisteredTool describes an MCP tool available to agents in a workstream.
type RegisteredTool struct {
	Workstream   string    `json:"workstream"`
	Name         string    `json:"name"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Transport    string    `json:"transport,omitempty"`
	Schema       string    `json:"schema,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasCapability reports whether the tool declares the given capability.
func (t RegisteredTool) HasCapability(c string) bool {
	for _, cp := range t.Capabilities {
		if cp == c {
			return true
		}
	}
	return false
}

// ── Archive manifest (domain-stack addition) ────────────────

type ArchiveKind string

const (
	ArchiveKindEvents   ArchiveKind = "events"
	ArchiveKindAuditLog ArchiveKind = "audit"
)

// ArchiveManifest records one retention-janitor sweep.
type ArchiveManifest struct {
	ID         string      `json:"id" db:"id"`
	Kind       ArchiveKind `json:"kind" db:"kind"`
	FromTick   int64       `json:"fromTick,omitempty" db:"from_tick"`
	ToTick     int64       `json:"toTick,omitempty" db:"to_tick"`
	URI        string      `json:"uri" db:"uri"`
	Count      int         `json:"count" db:"count"`
	ArchivedAt time.Time   `json:"archivedAt" db:"archived_at"`
}

// ── Control mode ─────────────────────────────────────────────

type ControlMode string

const (
	ControlOrchestrator ControlMode = "orchestrator"
	ControlAdaptive     ControlMode = "adaptive"
	ControlEcosystem    ControlMode = "ecosystem"
)

// ── Brake ─────────────────────────────────────────────────────

type BrakeScopeKind string

const (
	BrakeScopeAll        BrakeScopeKind = "all"
	BrakeScopeAgent      BrakeScopeKind = "agent"
	BrakeScopeWorkstream BrakeScopeKind = "workstream"
)

type BrakeBehavior string

const (
	BrakeBehaviorPause BrakeBehavior = "pause"
	BrakeBehaviorKill  BrakeBehavior = "kill"
)

type ReleaseConditionKind string

const (
	ReleaseManual   ReleaseConditionKind = "manual"
	ReleaseTimer    ReleaseConditionKind = "timer"
	ReleaseDecision ReleaseConditionKind = "decision"
)

// ReleaseCondition describes how a brake auto-releases.
type ReleaseCondition struct {
	Kind       ReleaseConditionKind `json:"kind"`
	AfterTicks int64                `json:"afterTicks,omitempty"`
	DecisionID string               `json:"decisionId,omitempty"`
}

// BrakeState is the current emergency-stop state.
type BrakeState struct {
	Engaged          bool             `json:"engaged"`
	Scope            BrakeScopeKind   `json:"scope,omitempty"`
	ScopeTarget      string           `json:"scopeTarget,omitempty"`
	Behavior         BrakeBehavior    `json:"behavior,omitempty"`
	ReleaseCondition ReleaseCondition `json:"releaseCondition,omitempty"`
	EngagedAt        time.Time        `json:"engagedAt,omitempty"`
}

// ── Quarantine ───────────────────────────────────────────────

// QuarantinedEvent is a malformed ingested event triaged away from the bus.
type QuarantinedEvent struct {
	ID         string    `json:"id"`
	RawPayload string    `json:"rawPayload"`
	Reason     string    `json:"reason"`
	ReceivedAt time.Time `json:"receivedAt"`
}
