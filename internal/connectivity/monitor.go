// Package connectivity tracks whether the backend is reachable and pushes
// transitions to subscribers.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/clock"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Event struct {
	Reachable bool      `json:"reachable"`
	At        time.Time `json:"at"`
}

type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor probes on an interval and accepts observations from other
// components through Report. Subscribers hear the first known state once
// and every change after that. Callbacks run synchronously and must not
// call back into the Monitor.
type Monitor struct {
	prober   Prober
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	known     bool
	reachable bool
	running   bool
	cancel    context.CancelFunc
	doneCh    chan struct{}

	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int
}

func NewMonitor(cfg Config, prober Prober, clk clock.Clock) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Monitor{
		prober:      prober,
		clock:       clk,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		subscribers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

// Start runs one probe right away and then one per interval until Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.doneCh = make(chan struct{})
	m.running = true

	ticker := m.clock.NewTicker(m.interval)
	go m.loop(loopCtx, ticker, m.doneCh)

	slog.Info("Connectivity monitor started", "interval", m.interval)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.doneCh
	m.mu.Unlock()

	cancel()
	<-done
	slog.Info("Connectivity monitor stopped")
}

func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.reachable
}

// Report feeds an observation into the monitor, e.g. a delivery that failed
// on the network. Subscribers are notified only if the state changed.
func (m *Monitor) Report(reachable bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	changed := !m.known || m.reachable != reachable
	m.known = true
	m.reachable = reachable
	m.mu.Unlock()

	if !changed {
		return
	}

	event := Event{Reachable: reachable, At: m.clock.Now()}
	if reachable {
		slog.Info("Backend reachable")
	} else {
		slog.Warn("Backend unreachable")
	}

	m.subMu.Lock()
	subs := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (m *Monitor) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Debug("Connectivity probe failed", "error", err)
	}
	m.Report(err == nil)
}
