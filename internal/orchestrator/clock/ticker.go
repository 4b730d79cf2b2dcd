// Package clock provides an injectable periodic-tick abstraction so the
// ALM flush loop, Event Router poll loop, and Queue Processor poll loop
// can be driven deterministically in tests (SPEC_FULL.md 5, re-architecture
// note "Background polling intervals... express as an interface
// ticker(interval, stopSignal) -> fire events").
package clock

import "time"

// Ticker is the minimal surface every background loop in this module
// depends on, matching the shape of *time.Ticker closely enough that a
// real implementation is a thin wrapper.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// realTicker wraps time.Ticker.
type realTicker struct {
	t *time.Ticker
}

// NewReal returns a Ticker backed by a real time.Ticker firing every
// interval.
func NewReal(interval time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(interval)}
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Manual is a test double: ticks fire only when Fire is called.
type Manual struct {
	ch     chan time.Time
	stopped bool
}

// NewManual returns a Ticker that never fires on its own.
func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time, 1)}
}

func (m *Manual) C() <-chan time.Time { return m.ch }

// Fire delivers one tick, non-blocking if nothing is listening yet.
func (m *Manual) Fire() {
	select {
	case m.ch <- time.Now():
	default:
	}
}

func (m *Manual) Stop() { m.stopped = true }

// Stopped reports whether Stop was called, for test assertions.
func (m *Manual) Stopped() bool { return m.stopped }
