// Package trust implements the per-agent and per-domain trust scoring
// engine: outcome-driven deltas with diminishing returns near the
// ceiling, optional risk weighting by blast radius, and idle decay
// toward a configurable target.
package trust

import (
	"sync"

	"github.com/agentoven/conductor/pkg/models"
)

// Outcome names the event that moves an agent's trust score.
type Outcome string

const (
	OutcomeTaskCompletedClean          Outcome = "task_completed_clean"
	OutcomeHumanApprovesRecommended    Outcome = "human_approves_recommended_option"
	OutcomeHumanApprovesToolCall       Outcome = "human_approves_tool_call"
	OutcomeHumanApprovesAlways         Outcome = "human_approves_always"
	OutcomeHumanRejectsToolCall        Outcome = "human_rejects_tool_call"
	OutcomeHumanOverridesAgentDecision Outcome = "human_overrides_agent_decision"
	OutcomeCoherenceIssueFromAgent     Outcome = "coherence_issue_from_this_agent"
)

var outcomeDelta = map[Outcome]int{
	OutcomeTaskCompletedClean:          3,
	OutcomeHumanApprovesRecommended:    2,
	OutcomeHumanApprovesToolCall:       1,
	OutcomeHumanApprovesAlways:         3,
	OutcomeHumanRejectsToolCall:        -2,
	OutcomeHumanOverridesAgentDecision: -3,
	OutcomeCoherenceIssueFromAgent:     -2,
}

// Config bundles the trust engine's tunables; see calibration.go for
// named profiles applied wholesale via Reconfigure.
type Config struct {
	InitialScore               int
	FloorScore                 int
	CeilingScore                int
	DecayTargetScore            int
	DecayCeiling                int
	InactivityThresholdTicks    int64
	DecayRatePerTick            int
	DiminishingReturnThreshold  int
	DiminishingReturnFactor     float64
	RiskWeightingEnabled        bool
	RiskWeightMap               map[models.BlastRadius]float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialScore:               50,
		FloorScore:                 0,
		CeilingScore:                100,
		DecayTargetScore:            50,
		DecayCeiling:                50,
		InactivityThresholdTicks:    0,
		DecayRatePerTick:            1,
		DiminishingReturnThreshold:  90,
		DiminishingReturnFactor:     0.5,
		RiskWeightingEnabled:        false,
		RiskWeightMap: map[models.BlastRadius]float64{
			models.BlastTrivial: 0.5,
			models.BlastSmall:   0.75,
			models.BlastMedium:  1.0,
			models.BlastLarge:   1.5,
			models.BlastUnknown: 1.0,
		},
	}
}

type agentState struct {
	score            int
	domainScores     map[string]int
	lastActivityTick int64
	domainActivity   map[string]int64
}

// DomainLogEntry is one recorded outcome application, flushed to the
// audit log by resolvers.
type DomainLogEntry struct {
	AgentID     string
	Outcome     Outcome
	Delta       int
	Domains     []string
	Tick        int64
}

// Context carries optional outcome-application hints.
type Context struct {
	BlastRadius   models.BlastRadius
	ArtifactKinds []string
	Workstreams   []string
	ToolCategory  string
}

// Engine is the trust scoring engine. A single mutex serializes outcome
// application, decay, and reconfiguration, per §5.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	agents  map[string]*agentState
	log     []DomainLogEntry
}

// New creates a trust engine with the given config.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, agents: make(map[string]*agentState)}
}

func (e *Engine) stateLocked(agentID string) *agentState {
	s, ok := e.agents[agentID]
	if !ok {
		s = &agentState{score: e.cfg.InitialScore, domainScores: map[string]int{}, domainActivity: map[string]int64{}}
		e.agents[agentID] = s
	}
	return s
}

func (e *Engine) clamp(v int) int {
	if v < e.cfg.FloorScore {
		return e.cfg.FloorScore
	}
	if v > e.cfg.CeilingScore {
		return e.cfg.CeilingScore
	}
	return v
}

// ApplyOutcome computes and applies a trust delta for agentID (and any
// domains named in ctx.ArtifactKinds), returning the effective delta
// actually applied to the global score.
func (e *Engine) ApplyOutcome(agentID string, outcome Outcome, tick int64, ctx Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stateLocked(agentID)
	rawDelta := outcomeDelta[outcome]

	effectiveDelta := e.applyWithRules(s.score, rawDelta, ctx)
	s.score = e.clamp(s.score + effectiveDelta)
	s.lastActivityTick = tick

	for _, kind := range ctx.ArtifactKinds {
		if _, ok := s.domainScores[kind]; !ok {
			s.domainScores[kind] = e.cfg.InitialScore
		}
		domainDelta := e.applyWithRules(s.domainScores[kind], rawDelta, ctx)
		s.domainScores[kind] = e.clamp(s.domainScores[kind] + domainDelta)
		s.domainActivity[kind] = tick
	}

	e.log = append(e.log, DomainLogEntry{AgentID: agentID, Outcome: outcome, Delta: effectiveDelta, Domains: ctx.ArtifactKinds, Tick: tick})
	return effectiveDelta
}

// applyWithRules computes the delta actually applied to a single score,
// given the diminishing-returns and risk-weighting rules. Negative
// deltas always bypass risk scaling (§9 "risk weighting one-sided").
func (e *Engine) applyWithRules(currentScore, rawDelta int, ctx Context) int {
	delta := rawDelta
	if delta > 0 && currentScore+delta > e.cfg.DiminishingReturnThreshold {
		delta = int(float64(delta) * e.cfg.DiminishingReturnFactor)
	}
	if delta > 0 && e.cfg.RiskWeightingEnabled && ctx.BlastRadius != "" {
		weight := e.cfg.RiskWeightMap[ctx.BlastRadius]
		if weight == 0 {
			weight = 1.0
		}
		delta = int(float64(delta) * weight)
	}
	return delta
}

// Decay applies idle decay for every registered agent whose inactivity
// exceeds the configured threshold. Called by a tick subscriber.
func (e *Engine) Decay(currentTick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := e.cfg.DecayTargetScore
	if target > e.cfg.DecayCeiling {
		target = e.cfg.DecayCeiling
	}
	if target < e.cfg.FloorScore {
		target = e.cfg.FloorScore
	}

	for _, s := range e.agents {
		if currentTick-s.lastActivityTick > e.cfg.InactivityThresholdTicks {
			s.score = decayToward(s.score, target, e.cfg.DecayRatePerTick)
		}
		for domain, score := range s.domainScores {
			last := s.domainActivity[domain]
			if currentTick-last > e.cfg.InactivityThresholdTicks {
				s.domainScores[domain] = decayToward(score, target, e.cfg.DecayRatePerTick)
			}
		}
	}
}

func decayToward(score, target, rate int) int {
	if score > target {
		next := score - rate
		if next < target {
			return target
		}
		return next
	}
	if score < target {
		next := score + rate
		if next > target {
			return target
		}
		return next
	}
	return score
}

// Reconfigure merges partial config without altering current scores.
func (e *Engine) Reconfigure(partial Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merge(&e.cfg, partial)
}

func merge(into *Config, from Config) {
	if from.InitialScore != 0 {
		into.InitialScore = from.InitialScore
	}
	into.FloorScore = from.FloorScore
	if from.CeilingScore != 0 {
		into.CeilingScore = from.CeilingScore
	}
	if from.DecayTargetScore != 0 {
		into.DecayTargetScore = from.DecayTargetScore
	}
	if from.DecayCeiling != 0 {
		into.DecayCeiling = from.DecayCeiling
	}
	into.InactivityThresholdTicks = from.InactivityThresholdTicks
	if from.DecayRatePerTick != 0 {
		into.DecayRatePerTick = from.DecayRatePerTick
	}
	if from.DiminishingReturnThreshold != 0 {
		into.DiminishingReturnThreshold = from.DiminishingReturnThreshold
	}
	if from.DiminishingReturnFactor != 0 {
		into.DiminishingReturnFactor = from.DiminishingReturnFactor
	}
	into.RiskWeightingEnabled = from.RiskWeightingEnabled
	if from.RiskWeightMap != nil {
		into.RiskWeightMap = from.RiskWeightMap
	}
}

// FlushDomainLog drains and returns the outcome log entries recorded
// for agentID since the last flush.
func (e *Engine) FlushDomainLog(agentID string) []DomainLogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.log[:0]
	flushed := make([]DomainLogEntry, 0)
	for _, entry := range e.log {
		if entry.AgentID == agentID {
			flushed = append(flushed, entry)
			continue
		}
		kept = append(kept, entry)
	}
	e.log = kept
	return flushed
}

// GetScore returns the agent's current global score.
func (e *Engine) GetScore(agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(agentID).score
}

// GetDomainScore returns the agent's score within domain.
func (e *Engine) GetDomainScore(agentID, domain string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateLocked(agentID)
	if v, ok := s.domainScores[domain]; ok {
		return v
	}
	return e.cfg.InitialScore
}

// GetDomainScores returns a copy of the agent's domain score map.
func (e *Engine) GetDomainScores(agentID string) map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateLocked(agentID)
	out := make(map[string]int, len(s.domainScores))
	for k, v := range s.domainScores {
		out[k] = v
	}
	return out
}

// GetAllScores returns a copy of every agent's global score.
func (e *Engine) GetAllScores() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.agents))
	for id, s := range e.agents {
		out[id] = s.score
	}
	return out
}

// GetAllDomainScores returns a copy of every agent's domain score map.
func (e *Engine) GetAllDomainScores() map[string]map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]map[string]int, len(e.agents))
	for id, s := range e.agents {
		m := make(map[string]int, len(s.domainScores))
		for k, v := range s.domainScores {
			m[k] = v
		}
		out[id] = m
	}
	return out
}

// GetConfig returns a copy of the current config.
func (e *Engine) GetConfig() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}
