// Package dispatch delivers queued submissions to the backend whenever it
// becomes reachable.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/connectivity"
	"github.com/EternisAI/silo-kiosk/internal/queue"
	"github.com/EternisAI/silo-kiosk/internal/scheduler"
)

const DefaultSweepInterval = 30 * time.Second

type Config struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type Store interface {
	Enqueue(ctx context.Context, payload map[string]any) (queue.Submission, error)
	ListPending() []queue.Submission
	Remove(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, attemptErr error) error
}

type Sender interface {
	SubmitTicket(ctx context.Context, id string, payload map[string]any) error
}

type Connectivity interface {
	Reachable() bool
	Report(reachable bool)
	Subscribe(fn func(connectivity.Event)) func()
}

// Result summarizes one sweep. Skipped counts items another sweep already
// had in flight, plus items left untried after the backend went away
// mid-sweep.
type Result struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Dispatcher struct {
	store        Store
	sender       Sender
	connectivity Connectivity
	periodic     *scheduler.Periodic

	mu       sync.Mutex
	inFlight map[string]struct{}

	triggerCh   chan struct{}
	runMu       sync.Mutex
	running     bool
	cancel      context.CancelFunc
	doneCh      chan struct{}
	unsubscribe func()
}

func NewDispatcher(cfg Config, store Store, sender Sender, conn Connectivity, clk clock.Clock) *Dispatcher {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	d := &Dispatcher{
		store:        store,
		sender:       sender,
		connectivity: conn,
		inFlight:     make(map[string]struct{}),
		triggerCh:    make(chan struct{}, 1),
	}
	d.periodic = scheduler.NewPeriodic("retry-sweep", clk, cfg.SweepInterval, func(ctx context.Context) {
		d.Trigger()
	})
	return d
}

// Start subscribes to connectivity and launches the sweep worker. Sweeps
// run on reachable transitions, after Submit while online, and on the
// periodic interval.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.running {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.doneCh = make(chan struct{})
	d.running = true

	go d.worker(workerCtx, d.doneCh)

	d.unsubscribe = d.connectivity.Subscribe(func(e connectivity.Event) {
		if e.Reachable {
			d.Trigger()
		}
	})
	d.periodic.Start(workerCtx)

	slog.Info("Retry dispatcher started")
}

// Stop waits for a sweep in progress to finish.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	cancel, done, unsubscribe := d.cancel, d.doneCh, d.unsubscribe
	d.runMu.Unlock()

	unsubscribe()
	d.periodic.Stop()
	cancel()
	<-done
	slog.Info("Retry dispatcher stopped")
}

// Trigger asks the worker for a sweep. Triggers arriving while one is
// already queued collapse into it.
func (d *Dispatcher) Trigger() {
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

// Submit durably queues payload and, if the backend looks reachable, kicks
// off a sweep. The submission is safe on disk once Submit returns.
func (d *Dispatcher) Submit(ctx context.Context, payload map[string]any) (queue.Submission, error) {
	s, err := d.store.Enqueue(ctx, payload)
	if err != nil {
		return queue.Submission{}, err
	}
	if d.connectivity.Reachable() {
		d.Trigger()
	}
	return s, nil
}

// RetryAll makes at most one delivery attempt per pending item. Items
// already in flight in a concurrent sweep are skipped. A transport failure
// ends the sweep early and is reported to connectivity.
func (d *Dispatcher) RetryAll(ctx context.Context) Result {
	claimed, skipped := d.claim()
	result := Result{Skipped: skipped}

	for i, s := range claimed {
		if ctx.Err() != nil {
			result.Skipped += d.release(claimed[i:])
			break
		}

		result.Attempted++
		err := d.sender.SubmitTicket(ctx, s.ID, s.Payload)
		if err == nil {
			if rerr := d.store.Remove(ctx, s.ID); rerr != nil && !errors.Is(rerr, queue.ErrNotFound) {
				slog.Error("Failed to remove delivered submission", "submission_id", s.ID, "error", rerr)
			}
			d.release(claimed[i : i+1])
			result.Delivered++
			d.connectivity.Report(true)
			continue
		}

		result.Failed++
		if rerr := d.store.RecordAttempt(ctx, s.ID, err); rerr != nil && !errors.Is(rerr, queue.ErrNotFound) {
			slog.Error("Failed to record delivery attempt", "submission_id", s.ID, "error", rerr)
		}
		d.release(claimed[i : i+1])

		if errors.Is(err, backend.ErrUnreachable) {
			slog.Warn("Backend unreachable during sweep", "submission_id", s.ID, "error", err)
			d.connectivity.Report(false)
			result.Skipped += d.release(claimed[i+1:])
			break
		}
		slog.Warn("Submission rejected by backend", "submission_id", s.ID, "error", err)
	}

	if result.Attempted > 0 || result.Skipped > 0 {
		slog.Info("Retry sweep finished",
			"attempted", result.Attempted,
			"delivered", result.Delivered,
			"failed", result.Failed,
			"skipped", result.Skipped)
	}
	return result
}

// claim snapshots the queue and marks every item not already in flight.
// The snapshot is taken under the same lock as release so an item removed
// by another sweep cannot be claimed again from a stale list.
func (d *Dispatcher) claim() ([]queue.Submission, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.store.ListPending()
	claimed := make([]queue.Submission, 0, len(pending))
	skipped := 0
	for _, s := range pending {
		if _, busy := d.inFlight[s.ID]; busy {
			skipped++
			continue
		}
		d.inFlight[s.ID] = struct{}{}
		claimed = append(claimed, s)
	}
	return claimed, skipped
}

func (d *Dispatcher) release(items []queue.Submission) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range items {
		delete(d.inFlight, s.ID)
	}
	return len(items)
}

func (d *Dispatcher) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.triggerCh:
			d.RetryAll(ctx)
		}
	}
}
