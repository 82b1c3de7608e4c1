// Package kiosk builds the offline-resilience components from one config,
// wires them together and owns their lifetimes.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/activation"
	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/connectivity"
	"github.com/EternisAI/silo-kiosk/internal/dispatch"
	"github.com/EternisAI/silo-kiosk/internal/keystore"
	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
	"github.com/EternisAI/silo-kiosk/internal/queue"
	"github.com/EternisAI/silo-kiosk/internal/securestore"
	"github.com/EternisAI/silo-kiosk/internal/state"
)

var ErrNotOperational = errors.New("kiosk is not activated")

type Option func(*options)

type options struct {
	clock   clock.Clock
	storage securestore.Storage
	prober  connectivity.Prober
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithSecureStorage replaces the age file with another Storage, such as a
// platform keystore or securestore.Memory in tests.
func WithSecureStorage(s securestore.Storage) Option {
	return func(o *options) { o.storage = s }
}

func WithProber(p connectivity.Prober) Option {
	return func(o *options) { o.prober = p }
}

type Kiosk struct {
	Storage    securestore.Storage
	Keys       *keystore.KeyStore
	State      *state.Store
	Backend    *backend.Client
	Queue      *queue.Queue
	Monitor    *connectivity.Monitor
	Dispatcher *dispatch.Dispatcher
	Sync       *configsync.Manager
	Auth       *offlineauth.Validator
	Activation *activation.Machine

	clock  clock.Clock
	events *broadcaster

	runMu         sync.Mutex
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	unsubscribers []func()
}

func New(cfg Config, opts ...Option) (*Kiosk, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.withDefaults()

	k := &Kiosk{clock: o.clock, events: newBroadcaster()}

	k.Storage = o.storage
	if k.Storage == nil {
		storage, err := securestore.OpenFile(cfg.securePath(), cfg.Storage.Passphrase, cfg.Storage.WorkFactor)
		if err != nil {
			return nil, fmt.Errorf("failed to open secure storage: %w", err)
		}
		k.Storage = storage
	}

	keys, err := keystore.Open(k.Storage, keystore.WithClock(o.clock))
	if err != nil {
		return nil, err
	}
	k.Keys = keys

	k.State, err = state.Open(cfg.statePath())
	if err != nil {
		return nil, err
	}

	k.Backend = backend.NewClient(cfg.Backend)

	k.Queue, err = queue.Open(cfg.Queue, keys,
		queue.WithClock(o.clock),
		queue.WithCorruptionHandler(k.onQueueCorruption),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	prober := o.prober
	if prober == nil {
		prober = connectivity.NewHTTPProber(k.Backend.BaseURL(), k.Backend.HTTPClient())
	}
	k.Monitor = connectivity.NewMonitor(cfg.Connectivity, prober, o.clock)

	k.Dispatcher = dispatch.NewDispatcher(cfg.Dispatch, k.Queue, k.Backend, k.Monitor, o.clock)

	k.Sync, err = configsync.NewManager(cfg.Sync, k.Backend, k.State, k.Monitor, keys, o.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create config sync: %w", err)
	}

	k.Auth, err = offlineauth.NewValidator(cfg.Auth, k.Sync, k.Backend, k.Storage, keys, o.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create pin validator: %w", err)
	}

	k.Activation = activation.NewMachine(k.Backend, k.State, o.clock)

	return k, nil
}

// Start restores the admin session, starts the background loops and runs
// the first config fetch and activation check.
func (k *Kiosk) Start(ctx context.Context) {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.running = true

	if err := k.Auth.Restore(runCtx); err != nil {
		slog.Warn("Failed to restore admin session", "error", err)
	}

	k.unsubscribers = append(k.unsubscribers,
		k.Monitor.Subscribe(func(e connectivity.Event) {
			k.publish(EventConnectivity, e)
			if e.Reachable {
				k.background(runCtx, k.checkActivation)
			}
		}),
		k.Sync.Subscribe(func(s configsync.Status) {
			k.publish(EventSyncStatus, s)
		}),
		k.Activation.Subscribe(func(s activation.Status) {
			k.publish(EventActivation, s)
		}),
	)

	k.Dispatcher.Start(runCtx)
	k.Sync.Start(runCtx)
	k.Monitor.Start(runCtx)

	k.background(runCtx, func(ctx context.Context) {
		if err := k.Sync.LoadRemote(ctx); err != nil {
			slog.Warn("Initial config fetch failed", "error", err, "can_operate_offline", k.Sync.CanOperateOffline())
		}
	})

	slog.Info("Kiosk started", "pending_submissions", k.Queue.Len(), "activation", k.Activation.State().State)
}

func (k *Kiosk) Stop() {
	k.runMu.Lock()
	if !k.running {
		k.runMu.Unlock()
		return
	}
	k.running = false
	cancel, unsubscribers := k.cancel, k.unsubscribers
	k.unsubscribers = nil
	k.runMu.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	k.Monitor.Stop()
	k.Dispatcher.Stop()
	k.Sync.Stop()
	cancel()
	k.wg.Wait()
	slog.Info("Kiosk stopped")
}

// SubmitTicket queues a ticket for delivery. Refused unless the device is
// activated.
func (k *Kiosk) SubmitTicket(ctx context.Context, payload map[string]any) (queue.Submission, error) {
	if !k.Activation.CanOperate() {
		return queue.Submission{}, ErrNotOperational
	}
	s, err := k.Dispatcher.Submit(ctx, payload)
	if err != nil {
		return queue.Submission{}, err
	}
	k.publish(EventQueue, map[string]any{"pending": k.Queue.Len()})
	return s, nil
}

// RetryNow runs a sweep in the caller's goroutine.
func (k *Kiosk) RetryNow(ctx context.Context) dispatch.Result {
	result := k.Dispatcher.RetryAll(ctx)
	k.publish(EventQueue, map[string]any{"pending": k.Queue.Len()})
	return result
}

type Status struct {
	Activation        activation.Status `json:"activation"`
	CanOperate        bool              `json:"can_operate"`
	SyncStatus        configsync.Status `json:"sync_status"`
	LastSync          time.Time         `json:"last_sync,omitempty"`
	CanOperateOffline bool              `json:"can_operate_offline"`
	Reachable         bool              `json:"reachable"`
	PendingCount      int               `json:"pending_count"`
	QueueCorruptions  int               `json:"queue_corruptions"`
	// KeyReplaced is set when the stored encryption key was unusable at
	// startup and a new one was generated.
	KeyReplaced bool `json:"key_replaced"`
}

func (k *Kiosk) Status() Status {
	_, keyReplaced := k.Keys.Replacement()
	return Status{
		Activation:        k.Activation.State(),
		CanOperate:        k.Activation.CanOperate(),
		SyncStatus:        k.Sync.Status(),
		LastSync:          k.Sync.LastSync(),
		CanOperateOffline: k.Sync.CanOperateOffline(),
		Reachable:         k.Monitor.Reachable(),
		PendingCount:      k.Queue.Len(),
		QueueCorruptions:  k.Queue.Diagnostics().Corruptions,
		KeyReplaced:       keyReplaced,
	}
}

// Subscribe streams kiosk events until the returned function is called.
func (k *Kiosk) Subscribe(fn func(Event)) func() {
	return k.events.subscribe(fn)
}

func (k *Kiosk) checkActivation(ctx context.Context) {
	if _, err := k.Activation.CheckStatus(ctx); err != nil {
		slog.Warn("Activation check failed", "error", err)
	}
}

func (k *Kiosk) onQueueCorruption(c queue.Corruption) {
	slog.Error("Pending submissions lost to queue corruption",
		"path", c.Path, "quarantined_to", c.QuarantinedTo, "error", c.Err)
}

func (k *Kiosk) publish(eventType string, data any) {
	k.events.publish(Event{Type: eventType, At: k.clock.Now(), Data: data})
}

func (k *Kiosk) background(ctx context.Context, fn func(ctx context.Context)) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		fn(ctx)
	}()
}
