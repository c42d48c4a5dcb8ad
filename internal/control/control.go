// Package control implements the control-mode manager of §4.9: an
// atomically swapped enum with synchronous subscriber fan-out, and the
// default context-injection policies each mode ships with.
package control

import (
	"sync"

	"github.com/agentoven/conductor/pkg/models"
)

// Mode names one of the three operating modes.
type Mode string

const (
	ModeOrchestrator Mode = "orchestrator"
	ModeAdaptive     Mode = "adaptive"
	ModeEcosystem    Mode = "ecosystem"
)

// Listener is notified synchronously whenever the mode changes.
type Listener func(old, new Mode)

// Manager holds the current control mode behind a mutex and fans out
// changes to subscribers synchronously, matching the event bus's
// dispatch discipline.
type Manager struct {
	mu        sync.Mutex
	mode      Mode
	listeners []Listener
}

// New creates a manager starting in initial mode.
func New(initial Mode) *Manager {
	if initial == "" {
		initial = ModeOrchestrator
	}
	return &Manager{mode: initial}
}

// Current returns the active mode.
func (m *Manager) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Subscribe registers a listener fired on every Set.
func (m *Manager) Subscribe(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Set swaps the mode and fires listeners synchronously with the old and
// new values. A no-op Set (same mode) still fires listeners, since
// callers may rely on it to re-broadcast state_sync.
func (m *Manager) Set(mode Mode) {
	m.mu.Lock()
	old := m.mode
	m.mode = mode
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(old, mode)
	}
}

// DefaultContextInjectionPolicy returns the fallback policy for mode,
// used when a brief omits contextInjectionPolicy.
func DefaultContextInjectionPolicy(mode Mode) models.ContextInjectionPolicy {
	periodic := int64(50)
	staleness := 5
	switch mode {
	case ModeOrchestrator:
		periodic, staleness = 100, 8
		return models.ContextInjectionPolicy{PeriodicIntervalTicks: &periodic, StalenessThreshold: &staleness, CooldownTicks: 20, MaxInjectionsPerHour: 6}
	case ModeEcosystem:
		periodic, staleness = 25, 3
		return models.ContextInjectionPolicy{PeriodicIntervalTicks: &periodic, StalenessThreshold: &staleness, CooldownTicks: 5, MaxInjectionsPerHour: 20}
	default: // adaptive
		return models.ContextInjectionPolicy{PeriodicIntervalTicks: &periodic, StalenessThreshold: &staleness, CooldownTicks: 10, MaxInjectionsPerHour: 12}
	}
}
