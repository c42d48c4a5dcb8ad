// Package store — in-memory Store implementation. Used as the default
// deployment target (no external database is in scope for the control
// plane per its persistence contract); supports file-based snapshot
// persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/pkg/models"
)

// snapshotFile is the JSON-serializable shape written to disk.
type snapshotFile struct {
	Artifacts       map[string]*models.Artifact          `json:"artifacts"`
	ArtifactContent map[string]contentBlob               `json:"artifact_content"` // key: agentId:artifactId
	Agents          map[string]*models.Agent             `json:"agents"`
	Coherence       map[string]*models.CoherenceIssue     `json:"coherence"`
	Trust           map[string]*models.TrustProfile       `json:"trust"`
	Workstreams     map[string]*models.WorkstreamSummary  `json:"workstreams"`
	Events          []*models.EventEnvelope               `json:"events"`
	Checkpoints     map[string][]*models.Checkpoint       `json:"checkpoints"` // key: agentId
	ProjectConfig   *models.ProjectConfig                  `json:"project_config,omitempty"`
	AuditLog        []*models.AuditLogEntry                `json:"audit_log"`
	Quarantine      []*models.QuarantinedEvent             `json:"quarantine"`
	Version         int64                                  `json:"version"`
}

type contentBlob struct {
	Content  []byte `json:"content"`
	MimeType string `json:"mimeType"`
}

// MemoryStore implements Store with in-memory maps guarded by a single
// RWMutex, matching the house style of one lock per component rather
// than fine-grained per-map locking.
type MemoryStore struct {
	mu sync.RWMutex

	artifacts       map[string]*models.Artifact
	artifactContent map[string]contentBlob // key: agentId:artifactId
	agents          map[string]*models.Agent
	coherence       map[string]*models.CoherenceIssue
	trust           map[string]*models.TrustProfile
	workstreams     map[string]*models.WorkstreamSummary
	events          []*models.EventEnvelope
	seenEventIDs    map[string]struct{}
	checkpoints     map[string][]*models.Checkpoint // key: agentId, newest last
	projectConfig   *models.ProjectConfig
	auditLog        []*models.AuditLogEntry
	quarantine      []*models.QuarantinedEvent
	manifests       []*models.ArchiveManifest
	version         int64

	// Persistence
	snapshotPath string
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory knowledge store. If
// AGENTOVEN_DATA_DIR is set, data is persisted to a JSON file in that
// directory; leave it unset (or set AGENTOVEN_DATA_DIR=":memory:") to
// disable persistence entirely.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		artifacts:       make(map[string]*models.Artifact),
		artifactContent: make(map[string]contentBlob),
		agents:          make(map[string]*models.Agent),
		coherence:       make(map[string]*models.CoherenceIssue),
		trust:           make(map[string]*models.TrustProfile),
		workstreams:     make(map[string]*models.WorkstreamSummary),
		seenEventIDs:    make(map[string]struct{}),
		checkpoints:     make(map[string][]*models.Checkpoint),
		auditLog:        make([]*models.AuditLogEntry, 0),
		quarantine:      make([]*models.QuarantinedEvent, 0),
		manifests:       make([]*models.ArchiveManifest, 0),
		saveCh:          make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
	}

	dataDir := os.Getenv("AGENTOVEN_DATA_DIR")
	if dataDir != "" && dataDir != ":memory:" {
		m.snapshotPath = filepath.Join(dataDir, "knowledge.json")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("📚 knowledge store ready")
	return m
}

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshotFile{
		Artifacts:       m.artifacts,
		ArtifactContent: m.artifactContent,
		Agents:          m.agents,
		Coherence:       m.coherence,
		Trust:           m.trust,
		Workstreams:     m.workstreams,
		Events:          m.events,
		Checkpoints:     m.checkpoints,
		ProjectConfig:   m.projectConfig,
		AuditLog:        m.auditLog,
		Quarantine:      m.quarantine,
		Version:         m.version,
	}
	m.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal knowledge snapshot")
		return
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write knowledge snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Msg("failed to commit knowledge snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read knowledge snapshot")
		}
		return
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("failed to parse knowledge snapshot, starting empty")
		return
	}
	if snap.Artifacts != nil {
		m.artifacts = snap.Artifacts
	}
	if snap.ArtifactContent != nil {
		m.artifactContent = snap.ArtifactContent
	}
	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Coherence != nil {
		m.coherence = snap.Coherence
	}
	if snap.Trust != nil {
		m.trust = snap.Trust
	}
	if snap.Workstreams != nil {
		m.workstreams = snap.Workstreams
	}
	for _, e := range snap.Events {
		m.events = append(m.events, e)
		m.seenEventIDs[e.SourceEventID] = struct{}{}
	}
	if snap.Checkpoints != nil {
		m.checkpoints = snap.Checkpoints
	}
	m.projectConfig = snap.ProjectConfig
	m.auditLog = snap.AuditLog
	m.quarantine = snap.Quarantine
	m.version = snap.Version
}

// Close stops background goroutines. Safe to call once.
func (m *MemoryStore) Close() error {
	if m.snapshotPath != "" {
		close(m.doneCh)
		m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) bumpVersion() int64 {
	m.version++
	return m.version
}

// GetVersion returns the current global version counter.
func (m *MemoryStore) GetVersion() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// ── Artifacts ────────────────────────────────────────────────

func (m *MemoryStore) UpsertArtifact(_ context.Context, e models.Artifact, expectedVersion int, callerAgentID string) (models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.artifacts[e.ID]
	actual := 0
	if ok {
		actual = existing.Version
	}
	if actual != expectedVersion {
		return models.Artifact{}, &Conflict{Entity: "artifact", ID: e.ID, Expected: expectedVersion, Actual: actual}
	}

	e.Version = actual + 1
	m.artifacts[e.ID] = &e
	action := "create"
	if ok {
		action = "update"
	}
	m.appendAuditLocked(models.AuditLogEntry{
		ID:            uuid.NewString(),
		EntityType:    "artifact",
		EntityID:      e.ID,
		Action:        action,
		CallerAgentID: callerAgentID,
		Timestamp:     time.Now().UTC(),
	})
	m.ensureWorkstreamLocked(e.Workstream, "", "")
	m.bumpVersion()
	m.requestSave()
	return e, nil
}

func (m *MemoryStore) StoreArtifact(_ context.Context, e models.Artifact) (models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.artifacts[e.ID]
	if ok {
		e.Version = existing.Version + 1
	} else {
		e.Version = 1
	}
	m.artifacts[e.ID] = &e
	m.ensureWorkstreamLocked(e.Workstream, "", "")
	m.bumpVersion()
	m.requestSave()
	return e, nil
}

func (m *MemoryStore) GetArtifact(_ context.Context, id string) (*models.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "artifact", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListArtifacts(_ context.Context, workstream string) ([]models.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		if workstream != "" && a.Workstream != workstream {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (m *MemoryStore) GetArtifactVersion(_ context.Context, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return 0, nil
	}
	return a.Version, nil
}

func (m *MemoryStore) StoreArtifactContent(_ context.Context, agentID, artifactID string, content []byte, mimeType string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := agentID + ":" + artifactID
	m.artifactContent[key] = contentBlob{Content: content, MimeType: mimeType}
	m.requestSave()
	return fmt.Sprintf("artifact://%s/%s", agentID, artifactID), true, nil
}

func (m *MemoryStore) GetArtifactContent(_ context.Context, agentID, artifactID string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := agentID + ":" + artifactID
	blob, ok := m.artifactContent[key]
	if !ok {
		return nil, "", &ErrNotFound{Entity: "artifact content", Key: key}
	}
	return blob.Content, blob.MimeType, nil
}

// ── Agents ───────────────────────────────────────────────────

func (m *MemoryStore) RegisterAgent(_ context.Context, handle models.AgentHandle, brief models.AgentBrief) (models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	a := models.Agent{
		ID:         handle.ID,
		Role:       brief.Role,
		Workstream: brief.Workstream,
		PluginName: handle.PluginName,
		Status:     handle.Status,
		Brief:      brief,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.agents[a.ID] = &a
	m.ensureWorkstreamLocked(brief.Workstream, "", "")
	m.bumpVersion()
	m.requestSave()
	return a, nil
}

func (m *MemoryStore) UpdateAgentStatus(_ context.Context, id string, status models.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	m.bumpVersion()
	m.requestSave()
	return nil
}

func (m *MemoryStore) RemoveAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	delete(m.agents, id)
	m.bumpVersion()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a)
	}
	return out, nil
}

// ── Coherence ────────────────────────────────────────────────

func (m *MemoryStore) StoreCoherenceIssue(_ context.Context, issue models.CoherenceIssue) (models.CoherenceIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if issue.Status == "" {
		issue.Status = models.CoherenceOpen
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	m.coherence[issue.ID] = &issue
	m.bumpVersion()
	m.requestSave()
	return issue, nil
}

func (m *MemoryStore) ListCoherenceIssues(_ context.Context, status models.CoherenceStatus) ([]models.CoherenceIssue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CoherenceIssue, 0, len(m.coherence))
	for _, c := range m.coherence {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *MemoryStore) ResolveCoherenceIssue(_ context.Context, id, resolution, callerAgentID string) (models.CoherenceIssue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coherence[id]
	if !ok {
		return models.CoherenceIssue{}, &ErrNotFound{Entity: "coherence issue", Key: id}
	}
	if c.Status == models.CoherenceResolved {
		return *c, nil
	}
	c.Status = models.CoherenceResolved
	c.Resolution = resolution
	now := time.Now().UTC()
	c.ResolvedAt = &now
	m.appendAuditLocked(models.AuditLogEntry{
		ID: uuid.NewString(), EntityType: "coherence", EntityID: id, Action: "resolve",
		CallerAgentID: callerAgentID, Timestamp: now,
	})
	m.bumpVersion()
	m.requestSave()
	return *c, nil
}

// ── Trust ────────────────────────────────────────────────────

const defaultTrustScore = 50

func (m *MemoryStore) GetTrustProfile(_ context.Context, agentID string) (models.TrustProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.trust[agentID]
	if !ok {
		return models.TrustProfile{AgentID: agentID, Score: defaultTrustScore, DomainScores: map[string]int{}, DomainActivity: map[string]int64{}}, nil
	}
	cp := *p
	cp.DomainScores = cloneIntMap(p.DomainScores)
	cp.DomainActivity = cloneInt64Map(p.DomainActivity)
	return cp, nil
}

func (m *MemoryStore) UpdateTrust(_ context.Context, agentID string, delta int, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.trust[agentID]
	if !ok {
		p = &models.TrustProfile{AgentID: agentID, Score: defaultTrustScore, DomainScores: map[string]int{}, DomainActivity: map[string]int64{}}
		m.trust[agentID] = p
	}
	p.Score = clamp(p.Score+delta, 0, 100)
	m.requestSave()
	return p.Score, nil
}

func (m *MemoryStore) GetDomainTrustScores(_ context.Context, agentID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.trust[agentID]
	if !ok {
		return map[string]int{}, nil
	}
	return cloneIntMap(p.DomainScores), nil
}

func (m *MemoryStore) StoreDomainTrustScores(_ context.Context, agentID string, scores map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.trust[agentID]
	if !ok {
		p = &models.TrustProfile{AgentID: agentID, Score: defaultTrustScore, DomainScores: map[string]int{}, DomainActivity: map[string]int64{}}
		m.trust[agentID] = p
	}
	p.DomainScores = cloneIntMap(scores)
	m.requestSave()
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cloneIntMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneInt64Map(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ── Workstreams ──────────────────────────────────────────────

func (m *MemoryStore) EnsureWorkstream(_ context.Context, id, name, status string) (models.WorkstreamSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureWorkstreamLocked(id, name, status), nil
}

func (m *MemoryStore) ensureWorkstreamLocked(id, name, status string) models.WorkstreamSummary {
	if id == "" {
		return models.WorkstreamSummary{}
	}
	w, ok := m.workstreams[id]
	if !ok {
		w = &models.WorkstreamSummary{ID: id, Name: name, Status: status, UpdatedAt: time.Now().UTC()}
		m.workstreams[id] = w
	}
	return *w
}

func (m *MemoryStore) UpdateWorkstreamActivity(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workstreams[id]
	if !ok {
		w = &models.WorkstreamSummary{ID: id}
		m.workstreams[id] = w
	}
	w.LastActivity = text
	w.UpdatedAt = time.Now().UTC()
	m.bumpVersion()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListWorkstreams(_ context.Context) ([]models.WorkstreamSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WorkstreamSummary, 0, len(m.workstreams))
	for _, w := range m.workstreams {
		out = append(out, *w)
	}
	return out, nil
}

// ── Events ───────────────────────────────────────────────────

func (m *MemoryStore) AppendEvent(_ context.Context, e models.EventEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seenEventIDs[e.SourceEventID]; dup {
		return nil // idempotent on sourceEventId
	}
	m.seenEventIDs[e.SourceEventID] = struct{}{}
	cp := e
	m.events = append(m.events, &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, filter EventFilter) ([]models.EventEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kindSet := map[models.EventKind]struct{}{}
	for _, k := range filter.Kinds {
		kindSet[k] = struct{}{}
	}

	out := make([]models.EventEnvelope, 0)
	for _, e := range m.events {
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.RunID != "" && e.RunID != filter.RunID {
			continue
		}
		if len(kindSet) > 0 {
			if _, ok := kindSet[e.Event.Kind]; !ok {
				continue
			}
		}
		if filter.Since != nil && e.IngestedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, *e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ── Checkpoints ──────────────────────────────────────────────

func (m *MemoryStore) StoreCheckpoint(_ context.Context, state models.SerializedAgentState, decisionID string, maxPerAgent int) (models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := models.Checkpoint{
		ID:         uuid.NewString(),
		AgentID:    state.AgentID,
		State:      state,
		DecisionID: decisionID,
		CreatedAt:  time.Now().UTC(),
	}
	list := append(m.checkpoints[state.AgentID], &cp)
	if maxPerAgent > 0 && len(list) > maxPerAgent {
		list = list[len(list)-maxPerAgent:]
	}
	m.checkpoints[state.AgentID] = list
	m.requestSave()
	return cp, nil
}

func (m *MemoryStore) GetLatestCheckpoint(_ context.Context, agentID string) (*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.checkpoints[agentID]
	if len(list) == 0 {
		return nil, &ErrNotFound{Entity: "checkpoint", Key: agentID}
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (m *MemoryStore) GetCheckpoints(_ context.Context, agentID string) ([]models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.checkpoints[agentID]
	out := make([]models.Checkpoint, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, *list[i])
	}
	return out, nil
}

func (m *MemoryStore) GetCheckpointCount(_ context.Context, agentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints[agentID]), nil
}

func (m *MemoryStore) DeleteCheckpoints(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, agentID)
	m.requestSave()
	return nil
}

// ── Project config ───────────────────────────────────────────

func (m *MemoryStore) UpsertProjectConfig(_ context.Context, cfg models.ProjectConfig) (models.ProjectConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if m.projectConfig == nil {
		cfg.CreatedAt = now
	} else {
		cfg.CreatedAt = m.projectConfig.CreatedAt
	}
	cfg.UpdatedAt = now
	m.projectConfig = &cfg
	m.bumpVersion()
	m.requestSave()
	return cfg, nil
}

func (m *MemoryStore) GetProjectConfig(_ context.Context) (*models.ProjectConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.projectConfig == nil {
		return nil, &ErrNotFound{Entity: "project", Key: "default"}
	}
	cp := *m.projectConfig
	return &cp, nil
}

func (m *MemoryStore) HasProject(_ context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectConfig != nil
}

// ── Audit log ────────────────────────────────────────────────

func (m *MemoryStore) AppendAuditLog(_ context.Context, entry models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(entry)
	m.requestSave()
	return nil
}

func (m *MemoryStore) appendAuditLocked(entry models.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	cp := entry
	m.auditLog = append(m.auditLog, &cp)
}

func (m *MemoryStore) ListAuditLog(_ context.Context, entityType, entityID string) ([]models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditLogEntry, 0)
	for _, e := range m.auditLog {
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		if entityID != "" && e.EntityID != entityID {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// ── Quarantine ───────────────────────────────────────────────

func (m *MemoryStore) Quarantine(_ context.Context, q models.QuarantinedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = time.Now().UTC()
	}
	m.quarantine = append(m.quarantine, &q)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListQuarantine(_ context.Context) ([]models.QuarantinedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.QuarantinedEvent, 0, len(m.quarantine))
	for _, q := range m.quarantine {
		out = append(out, *q)
	}
	return out, nil
}

func (m *MemoryStore) ClearQuarantine(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantine = m.quarantine[:0]
	m.requestSave()
	return nil
}

// ── Snapshot ─────────────────────────────────────────────────

func (m *MemoryStore) GetSnapshot(_ context.Context, pendingDecisions []models.Decision) (models.KnowledgeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := models.KnowledgeSnapshot{
		Version:          m.version,
		GeneratedAt:      time.Now().UTC(),
		PendingDecisions: pendingDecisions,
	}
	for _, w := range m.workstreams {
		snap.Workstreams = append(snap.Workstreams, *w)
	}
	for _, c := range m.coherence {
		if c.Status == models.CoherenceOpen {
			snap.RecentCoherenceIssues = append(snap.RecentCoherenceIssues, *c)
		}
	}
	for _, a := range m.artifacts {
		snap.ArtifactIndex = append(snap.ArtifactIndex, models.ArtifactIndexEntry{
			ID: a.ID, Name: a.Name, Kind: a.Kind, Workstream: a.Workstream, Status: a.Status, Version: a.Version,
		})
	}
	for _, a := range m.agents {
		snap.ActiveAgents = append(snap.ActiveAgents, models.AgentHandle{ID: a.ID, PluginName: a.PluginName, Status: a.Status})
	}

	data, err := json.Marshal(snap)
	if err == nil {
		snap.EstimatedTokens = int64((len(data) + 3) / 4)
	}
	return snap, nil
}

// ── Retention ────────────────────────────────────────────────

func (m *MemoryStore) ArchiveEventsBefore(_ context.Context, before time.Time) ([]models.EventEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.EventEnvelope, 0)
	for _, e := range m.events {
		if e.IngestedAt.Before(before) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *MemoryStore) PruneEventsBefore(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	pruned := 0
	for _, e := range m.events {
		if e.IngestedAt.Before(before) {
			delete(m.seenEventIDs, e.SourceEventID)
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	if pruned > 0 {
		m.requestSave()
	}
	return pruned, nil
}

func (m *MemoryStore) ArchiveAuditLogBefore(_ context.Context, before time.Time) ([]models.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditLogEntry, 0)
	for _, e := range m.auditLog {
		if e.Timestamp.Before(before) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *MemoryStore) PruneAuditLogBefore(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.auditLog[:0]
	pruned := 0
	for _, e := range m.auditLog {
		if e.Timestamp.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.auditLog = kept
	if pruned > 0 {
		m.requestSave()
	}
	return pruned, nil
}

func (m *MemoryStore) RecordArchiveManifest(_ context.Context, manifest models.ArchiveManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if manifest.ID == "" {
		manifest.ID = uuid.NewString()
	}
	if manifest.ArchivedAt.IsZero() {
		manifest.ArchivedAt = time.Now().UTC()
	}
	m.manifests = append(m.manifests, &manifest)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListArchiveManifests(_ context.Context) ([]models.ArchiveManifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ArchiveManifest, 0, len(m.manifests))
	for _, man := range m.manifests {
		out = append(out, *man)
	}
	return out, nil
}
