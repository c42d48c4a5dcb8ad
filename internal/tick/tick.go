// Package tick implements the project's discrete monotonic clock. It
// supports manual advancement (driven by the HTTP API) and a timer mode
// that advances on a wall-clock interval, and fans out each intermediate
// tick to subscribers in registration order.
package tick

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber is called once per tick, in registration order, and must
// complete before the service moves on to the next tick.
type Subscriber func(tick int64)

// Mode selects how the clock advances.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeTimer  Mode = "timer"
)

// Service is the tick clock. The current tick is stored with an atomic
// so it is readable without a lock from any subscriber or HTTP handler;
// advancement itself is single-writer and serialized by advanceMu so
// overlapping advance(n) calls cannot interleave fan-out for the same
// range of ticks.
type Service struct {
	mode Mode

	advanceMu sync.Mutex
	current   atomic.Int64

	subMu sync.Mutex
	subs  []Subscriber

	timerInterval time.Duration
	stopCh        chan struct{}
	stopped       bool
}

// New creates a tick service in the given mode. interval is only used
// when mode is ModeTimer.
func New(mode Mode, interval time.Duration) *Service {
	return &Service{
		mode:          mode,
		timerInterval: interval,
		stopCh:        make(chan struct{}),
	}
}

// Mode reports the configured advancement mode.
func (s *Service) Mode() Mode { return s.mode }

// Current returns the current tick without blocking on the advance lock.
func (s *Service) Current() int64 { return s.current.Load() }

// Subscribe registers a callback fired once per intermediate tick, in
// registration order. Returns an unsubscribe function.
func (s *Service) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	idx := len(s.subs)
	s.subs = append(s.subs, fn)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if idx < len(s.subs) {
			s.subs[idx] = nil
		}
	}
}

// Advance moves the clock forward by n (n must be > 0). For every tick t
// in (prev, prev+n], every active subscriber observes t before any
// subscriber observes t+1.
func (s *Service) Advance(n int64) int64 {
	if n <= 0 {
		return s.Current()
	}
	s.advanceMu.Lock()
	defer s.advanceMu.Unlock()

	var last int64
	for i := int64(0); i < n; i++ {
		next := s.current.Add(1)
		last = next
		s.fanOut(next)
	}
	return last
}

func (s *Service) fanOut(t int64) {
	s.subMu.Lock()
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, fn := range subs {
		if fn == nil {
			continue
		}
		fn(t)
	}
}

// StartTimer begins wall-clock-driven advancement; no-op unless mode is
// ModeTimer. Call Stop to halt it.
func (s *Service) StartTimer() {
	if s.mode != ModeTimer || s.timerInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.timerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Advance(1)
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the timer goroutine, if running. Idempotent.
func (s *Service) Stop() {
	s.advanceMu.Lock()
	defer s.advanceMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}
