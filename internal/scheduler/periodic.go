// Package scheduler runs a function on a fixed interval. It is the
// start/stop/tick capability behind the retry sweep, the connectivity probe
// and the periodic config fetch.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/clock"
)

type Periodic struct {
	name     string
	clock    clock.Clock
	interval time.Duration
	fn       func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	doneCh  chan struct{}
	running bool
}

func NewPeriodic(name string, clk clock.Clock, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{
		name:     name,
		clock:    clk,
		interval: interval,
		fn:       fn,
	}
}

// Start launches the loop. Calling Start on a running Periodic is a no-op.
// A non-positive interval disables the loop.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.interval <= 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.doneCh = make(chan struct{})
	p.running = true

	ticker := p.clock.NewTicker(p.interval)
	go p.loop(loopCtx, ticker, p.doneCh)

	slog.Debug("Periodic task started", "task", p.name, "interval", p.interval)
}

// Stop cancels the loop and waits for an in-progress tick to return.
func (p *Periodic) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.doneCh
	p.mu.Unlock()

	cancel()
	<-done
	slog.Debug("Periodic task stopped", "task", p.name)
}

// Tick runs the function once in the caller's goroutine.
func (p *Periodic) Tick(ctx context.Context) {
	p.fn(ctx)
}

func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Periodic) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}
