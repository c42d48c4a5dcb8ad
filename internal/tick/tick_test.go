package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceFansOutEachIntermediateTick(t *testing.T) {
	svc := New(ModeManual, 0)
	var seen []int64
	svc.Subscribe(func(tk int64) {
		seen = append(seen, tk)
	})

	last := svc.Advance(3)

	require.Equal(t, int64(3), last)
	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.Equal(t, int64(3), svc.Current())
}

func TestSubscribersObserveTickInRegistrationOrderBeforeNextTick(t *testing.T) {
	svc := New(ModeManual, 0)
	var order []string
	svc.Subscribe(func(tk int64) { order = append(order, "a") })
	svc.Subscribe(func(tk int64) { order = append(order, "b") })

	svc.Advance(2)

	assert.Equal(t, []string{"a", "b", "a", "b"}, order)
}

func TestUnsubscribeStopsFutureCalls(t *testing.T) {
	svc := New(ModeManual, 0)
	count := 0
	unsub := svc.Subscribe(func(tk int64) { count++ })

	svc.Advance(1)
	unsub()
	svc.Advance(1)

	assert.Equal(t, 1, count)
}

func TestAdvanceNoopOnNonPositive(t *testing.T) {
	svc := New(ModeManual, 0)
	svc.Advance(5)
	before := svc.Current()
	svc.Advance(0)
	assert.Equal(t, before, svc.Current())
}
