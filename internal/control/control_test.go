package control_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentoven/conductor/internal/control"
)

func TestSetFiresListenersWithOldAndNew(t *testing.T) {
	m := control.New(control.ModeOrchestrator)
	var gotOld, gotNew control.Mode
	m.Subscribe(func(old, new control.Mode) {
		gotOld, gotNew = old, new
	})

	m.Set(control.ModeAdaptive)

	assert.Equal(t, control.ModeOrchestrator, gotOld)
	assert.Equal(t, control.ModeAdaptive, gotNew)
	assert.Equal(t, control.ModeAdaptive, m.Current())
}

func TestDefaultsToOrchestratorWhenUnspecified(t *testing.T) {
	m := control.New("")
	assert.Equal(t, control.ModeOrchestrator, m.Current())
}

func TestDefaultContextInjectionPolicyVariesByMode(t *testing.T) {
	orch := control.DefaultContextInjectionPolicy(control.ModeOrchestrator)
	eco := control.DefaultContextInjectionPolicy(control.ModeEcosystem)
	assert.Greater(t, *orch.PeriodicIntervalTicks, *eco.PeriodicIntervalTicks)
	assert.Less(t, orch.MaxInjectionsPerHour, eco.MaxInjectionsPerHour)
}
