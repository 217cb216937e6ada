package engine

import "time"

// Clock abstracts wall-clock access and timers so that health-check and
// cooldown timing is testable without real waits. Production code uses
// SystemClock; tests inject a fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors the part of time.Ticker the engine needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (st *systemTicker) C() <-chan time.Time { return st.t.C }

func (st *systemTicker) Stop() { st.t.Stop() }

// SystemClock is the process-wide real clock.
var SystemClock Clock = systemClock{}
