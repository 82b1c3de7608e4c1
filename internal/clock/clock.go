// Package clock abstracts time so background loops (connectivity probes,
// retry sweeps, config refresh) and expiry checks (offline window, admin
// sessions) can be driven deterministically in tests.
package clock

import "time"

// Clock is injected wherever a component would otherwise call time.Now or
// time.NewTicker directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker mirrors time.Ticker. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }
