// Package store provides the knowledge-store interface and
// implementations for the orchestrator control plane. Phase 1 ships an
// in-memory implementation with optional JSON-file persistence; the
// interface is written to admit a transactional SQL-backed
// implementation later without touching call sites.
package store

import (
	"context"
	"time"

	"github.com/agentoven/conductor/pkg/models"
)

// Conflict is returned by UpsertArtifact when the caller's expected
// version does not match the stored version.
type Conflict struct {
	Entity   string
	ID       string
	Expected int
	Actual   int
}

func (e *Conflict) Error() string {
	return "version conflict on " + e.Entity + " " + e.ID
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// EventFilter narrows a getEvents query.
type EventFilter struct {
	AgentID string
	RunID   string
	Kinds   []models.EventKind
	Since   *time.Time
	Limit   int
}

// ListFilter provides common pagination options for read paths.
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// Store is the knowledge store's public contract (§4.3). Every public
// write is a serializable transaction; reads see a single atomic state.
type Store interface {
	// Artifacts
	UpsertArtifact(ctx context.Context, e models.Artifact, expectedVersion int, callerAgentID string) (models.Artifact, error)
	StoreArtifact(ctx context.Context, e models.Artifact) (models.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifacts(ctx context.Context, workstream string) ([]models.Artifact, error)
	GetArtifactVersion(ctx context.Context, id string) (int, error)
	StoreArtifactContent(ctx context.Context, agentID, artifactID string, content []byte, mimeType string) (uri string, stored bool, err error)
	GetArtifactContent(ctx context.Context, agentID, artifactID string) ([]byte, string, error)

	// Agents
	RegisterAgent(ctx context.Context, handle models.AgentHandle, brief models.AgentBrief) (models.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus) error
	RemoveAgent(ctx context.Context, id string) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)

	// Coherence
	StoreCoherenceIssue(ctx context.Context, issue models.CoherenceIssue) (models.CoherenceIssue, error)
	ListCoherenceIssues(ctx context.Context, status models.CoherenceStatus) ([]models.CoherenceIssue, error)
	ResolveCoherenceIssue(ctx context.Context, id, resolution, callerAgentID string) (models.CoherenceIssue, error)

	// Trust
	GetTrustProfile(ctx context.Context, agentID string) (models.TrustProfile, error)
	UpdateTrust(ctx context.Context, agentID string, delta int, reason string) (int, error)
	GetDomainTrustScores(ctx context.Context, agentID string) (map[string]int, error)
	StoreDomainTrustScores(ctx context.Context, agentID string, scores map[string]int) error

	// Workstreams
	EnsureWorkstream(ctx context.Context, id, name string, status string) (models.WorkstreamSummary, error)
	UpdateWorkstreamActivity(ctx context.Context, id, text string) error
	ListWorkstreams(ctx context.Context) ([]models.WorkstreamSummary, error)

	// Events
	AppendEvent(ctx context.Context, e models.EventEnvelope) error
	GetEvents(ctx context.Context, filter EventFilter) ([]models.EventEnvelope, error)

	// Checkpoints
	StoreCheckpoint(ctx context.Context, state models.SerializedAgentState, decisionID string, maxPerAgent int) (models.Checkpoint, error)
	GetLatestCheckpoint(ctx context.Context, agentID string) (*models.Checkpoint, error)
	GetCheckpoints(ctx context.Context, agentID string) ([]models.Checkpoint, error)
	GetCheckpointCount(ctx context.Context, agentID string) (int, error)
	DeleteCheckpoints(ctx context.Context, agentID string) error

	// Project config
	UpsertProjectConfig(ctx context.Context, cfg models.ProjectConfig) (models.ProjectConfig, error)
	GetProjectConfig(ctx context.Context) (*models.ProjectConfig, error)
	HasProject(ctx context.Context) bool

	// Audit log
	AppendAuditLog(ctx context.Context, entry models.AuditLogEntry) error
	ListAuditLog(ctx context.Context, entityType, entityID string) ([]models.AuditLogEntry, error)

	// Quarantine
	Quarantine(ctx context.Context, q models.QuarantinedEvent) error
	ListQuarantine(ctx context.Context) ([]models.QuarantinedEvent, error)
	ClearQuarantine(ctx context.Context) error

	// Version / snapshot
	GetVersion() int64
	GetSnapshot(ctx context.Context, pendingDecisions []models.Decision) (models.KnowledgeSnapshot, error)

	// Retention (domain-stack addition, §4.14)
	ArchiveEventsBefore(ctx context.Context, before time.Time) ([]models.EventEnvelope, error)
	PruneEventsBefore(ctx context.Context, before time.Time) (int, error)
	ArchiveAuditLogBefore(ctx context.Context, before time.Time) ([]models.AuditLogEntry, error)
	PruneAuditLogBefore(ctx context.Context, before time.Time) (int, error)
	RecordArchiveManifest(ctx context.Context, manifest models.ArchiveManifest) error
	ListArchiveManifests(ctx context.Context) ([]models.ArchiveManifest, error)

	// Lifecycle
	Close() error
}
