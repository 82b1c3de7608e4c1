// Package configsync keeps the kiosk configuration in step with the
// backend. Local edits are applied immediately and pushed in the
// background; a stale push puts the manager in Conflict until the next
// successful fetch.
package configsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/atomicfile"
	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/connectivity"
	"github.com/EternisAI/silo-kiosk/internal/scheduler"
	"github.com/EternisAI/silo-kiosk/internal/sealedfile"
)

const (
	DefaultOfflineWindow   = 24 * time.Hour
	DefaultRefreshInterval = 5 * time.Minute
)

type Status string

const (
	StatusSynced   Status = "synced"
	StatusPending  Status = "pending"
	StatusConflict Status = "conflict"
	StatusOffline  Status = "offline"
)

var (
	ErrOffline  = errors.New("config backend unavailable")
	ErrConflict = errors.New("config is in conflict with the backend, reload required")
	ErrNoCache  = errors.New("no cached config")
)

var cacheMagic = [4]byte{'S', 'K', 'C', '1'}

type Config struct {
	CachePath       string        `mapstructure:"cache_path"`
	OfflineWindow   time.Duration `mapstructure:"offline_window"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type Remote interface {
	FetchConfig(ctx context.Context) (RemoteConfig, error)
	PushConfig(ctx context.Context, baseVersion int64, fields map[string]any) (int64, error)
}

// SyncRecorder persists the time of the last successful sync.
type SyncRecorder interface {
	LastSync() time.Time
	SetLastSync(t time.Time) error
}

type Connectivity interface {
	Subscribe(fn func(connectivity.Event)) func()
}

type pendingEdit struct {
	BaseVersion int64          `cbor:"base_version"`
	Fields      map[string]any `cbor:"fields"`

	generation uint64
}

type cacheDocument struct {
	Remote  RemoteConfig `cbor:"remote"`
	Local   RemoteConfig `cbor:"local"`
	Pending *pendingEdit `cbor:"pending,omitempty"`
}

type Manager struct {
	remote       Remote
	recorder     SyncRecorder
	connectivity Connectivity
	clock        clock.Clock
	window       time.Duration
	cache        sealedfile.File
	periodic     *scheduler.Periodic

	mu         sync.Mutex
	status     Status
	remoteCfg  RemoteConfig
	local      RemoteConfig
	hasCache   bool
	pending    *pendingEdit
	generation uint64
	pushing    bool

	cacheMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]func(Status)
	nextSubID   int

	runMu       sync.Mutex
	baseCtx     context.Context
	cancel      context.CancelFunc
	running     bool
	stopped     bool
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewManager loads the encrypted cache, if any. The manager starts Offline
// (Pending if unpushed edits were cached) until the first fetch.
func NewManager(cfg Config, remote Remote, recorder SyncRecorder, conn Connectivity, sealer sealedfile.Sealer, clk clock.Clock) (*Manager, error) {
	if cfg.CachePath == "" {
		return nil, errors.New("config cache path is required")
	}
	if cfg.OfflineWindow <= 0 {
		cfg.OfflineWindow = DefaultOfflineWindow
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	m := &Manager{
		remote:       remote,
		recorder:     recorder,
		connectivity: conn,
		clock:        clk,
		window:       cfg.OfflineWindow,
		cache: sealedfile.File{
			Path:    cfg.CachePath,
			Magic:   cacheMagic,
			Purpose: "config",
			Sealer:  sealer,
		},
		status:      StatusOffline,
		subscribers: make(map[int]func(Status)),
		baseCtx:     context.Background(),
	}
	m.periodic = scheduler.NewPeriodic("config-refresh", clk, cfg.RefreshInterval, func(ctx context.Context) {
		if err := m.refresh(ctx); err != nil {
			slog.Debug("Periodic config refresh failed", "error", err)
		}
	})

	if err := m.loadCache(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadCache() error {
	var doc cacheDocument
	err := m.cache.Read(&doc)
	switch {
	case err == nil:
	case errors.Is(err, sealedfile.ErrNotExist):
		return nil
	case errors.Is(err, sealedfile.ErrCorrupt):
		slog.Warn("Config cache corrupt, ignoring it", "path", m.cache.Path, "error", err)
		suffix := strconv.FormatInt(m.clock.Now().Unix(), 10)
		if moved, qerr := atomicfile.Quarantine(m.cache.Path, suffix); qerr == nil {
			slog.Warn("Config cache quarantined", "path", moved)
		}
		return nil
	default:
		return err
	}

	m.remoteCfg = doc.Remote
	m.local = doc.Local
	m.pending = doc.Pending
	m.hasCache = true
	if m.pending != nil {
		m.status = StatusPending
	}
	slog.Info("Loaded cached config", "version", m.local.Version, "pending_edit", m.pending != nil)
	return nil
}

// Start begins periodic refresh and re-pushes pending edits when the
// backend comes back.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return
	}
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.stopped = false

	if m.connectivity != nil {
		m.unsubscribe = m.connectivity.Subscribe(m.onConnectivity)
	}
	m.periodic.Start(m.baseCtx)
}

func (m *Manager) Stop() {
	m.runMu.Lock()
	m.stopped = true
	if !m.running {
		m.runMu.Unlock()
		m.wg.Wait()
		return
	}
	m.running = false
	cancel, unsubscribe := m.cancel, m.unsubscribe
	m.runMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.periodic.Stop()
	cancel()
	m.wg.Wait()
}

func (m *Manager) onConnectivity(e connectivity.Event) {
	if !e.Reachable {
		return
	}

	m.mu.Lock()
	hasPending := m.pending != nil && m.status != StatusConflict
	status := m.status
	m.mu.Unlock()

	switch {
	case hasPending:
		m.pushAsync()
	case status == StatusOffline:
		m.goBackground(func(ctx context.Context) {
			if err := m.refresh(ctx); err != nil {
				slog.Debug("Config reload after reconnect failed", "error", err)
			}
		})
	}
}

// LoadRemote fetches the config. On failure the cached copy stays in use
// and ErrOffline is returned. A Conflict is resolved in favor of the
// backend: the rejected edit is dropped and editing is allowed again.
func (m *Manager) LoadRemote(ctx context.Context) error {
	return m.fetch(ctx, true)
}

// refresh is the background fetch. In Conflict it only updates the remote
// copy; the rejected edit and the Conflict status stay until LoadRemote.
func (m *Manager) refresh(ctx context.Context) error {
	return m.fetch(ctx, false)
}

func (m *Manager) fetch(ctx context.Context, resolveConflict bool) error {
	cfg, err := m.remote.FetchConfig(ctx)
	if err != nil {
		m.mu.Lock()
		if m.status != StatusConflict {
			m.setStatusLocked(StatusOffline)
		}
		hasCache := m.hasCache
		m.mu.Unlock()
		m.publish()

		if !hasCache {
			return fmt.Errorf("%w: %w: %w", ErrOffline, ErrNoCache, err)
		}
		if !m.CanOperateOffline() {
			slog.Warn("Cached config is older than the offline window", "last_sync", m.LastSync(), "window", m.window)
		}
		return fmt.Errorf("%w: %w", ErrOffline, err)
	}

	now := m.clock.Now()
	cfg.FetchedAt = now

	m.mu.Lock()
	conflict := m.status == StatusConflict
	if conflict && !resolveConflict {
		m.remoteCfg = CloneConfig(cfg)
		m.mu.Unlock()

		if err := m.persist(); err != nil {
			slog.Error("Failed to write config cache", "error", err)
		}
		if err := m.recorder.SetLastSync(now); err != nil {
			slog.Error("Failed to record config sync time", "error", err)
		}
		slog.Info("Config refreshed, local edit still in conflict", "version", cfg.Version)
		return nil
	}

	if conflict {
		m.pending = nil
	}
	m.remoteCfg = CloneConfig(cfg)
	m.local = CloneConfig(cfg)
	if m.pending != nil {
		if merged, aerr := ApplyFields(m.local, m.pending.Fields); aerr == nil {
			m.local = merged
		}
		m.setStatusLocked(StatusPending)
	} else {
		m.setStatusLocked(StatusSynced)
	}
	m.hasCache = true
	hasPending := m.pending != nil
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		slog.Error("Failed to write config cache", "error", err)
	}
	if err := m.recorder.SetLastSync(now); err != nil {
		slog.Error("Failed to record config sync time", "error", err)
	}
	m.publish()

	slog.Info("Config synchronized", "version", cfg.Version, "pending_edit", hasPending)
	if hasPending {
		m.pushAsync()
	}
	return nil
}

// ApplyLocalEdit applies fields to the local config right away and pushes
// them to the backend in the background.
func (m *Manager) ApplyLocalEdit(ctx context.Context, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	m.mu.Lock()
	if m.status == StatusConflict {
		m.mu.Unlock()
		return ErrConflict
	}

	updated, err := ApplyFields(m.local, fields)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.local = updated
	if m.pending == nil {
		m.pending = &pendingEdit{BaseVersion: m.remoteCfg.Version, Fields: make(map[string]any)}
	}
	maps.Copy(m.pending.Fields, fields)
	m.generation++
	m.pending.generation = m.generation
	m.hasCache = true
	m.setStatusLocked(StatusPending)
	m.mu.Unlock()

	m.publish()
	if err := m.persist(); err != nil {
		return err
	}

	m.pushAsync()
	return nil
}

func (m *Manager) pushAsync() {
	m.goBackground(m.push)
}

// goBackground runs fn on the manager's context. Before Start, fn runs
// with a background context; after Stop it is not run at all.
func (m *Manager) goBackground(fn func(ctx context.Context)) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopped {
		return
	}
	ctx := m.baseCtx

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(ctx)
	}()
}

// push sends the pending edit. Only one push runs at a time; edits made
// while it is in flight are sent by a follow-up push.
func (m *Manager) push(ctx context.Context) {
	m.mu.Lock()
	if m.pushing || m.pending == nil || m.status == StatusConflict {
		m.mu.Unlock()
		return
	}
	m.pushing = true
	base := m.pending.BaseVersion
	fields := maps.Clone(m.pending.Fields)
	generation := m.pending.generation
	m.mu.Unlock()

	version, err := m.remote.PushConfig(ctx, base, fields)

	m.mu.Lock()
	m.pushing = false
	again := false

	switch {
	case err == nil:
		m.local.Version = version
		if m.pending != nil && m.pending.generation == generation {
			m.pending = nil
			m.remoteCfg = CloneConfig(m.local)
			m.setStatusLocked(StatusSynced)
		} else if m.pending != nil {
			m.pending.BaseVersion = version
			again = true
		}
		slog.Info("Config edit pushed", "version", version)
	case errors.Is(err, backend.ErrVersionConflict):
		m.setStatusLocked(StatusConflict)
		slog.Warn("Config edit rejected as stale", "base_version", base)
	default:
		m.setStatusLocked(StatusOffline)
		slog.Warn("Failed to push config edit", "error", err)
	}
	synced := err == nil && !again
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		slog.Error("Failed to write config cache", "error", err)
	}
	if synced {
		if err := m.recorder.SetLastSync(m.clock.Now()); err != nil {
			slog.Error("Failed to record config sync time", "error", err)
		}
	}
	m.publish()

	if again && ctx.Err() == nil {
		m.push(ctx)
	}
}

// CanOperateOffline reports whether the cached config is recent enough to
// keep using without the backend.
func (m *Manager) CanOperateOffline() bool {
	m.mu.Lock()
	hasCache := m.hasCache
	m.mu.Unlock()

	lastSync := m.recorder.LastSync()
	if !hasCache || lastSync.IsZero() {
		return false
	}
	return m.clock.Now().Sub(lastSync) <= m.window
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Local is the config the kiosk runs with, including unpushed edits.
func (m *Manager) Local() RemoteConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneConfig(m.local)
}

// Remote is the last config confirmed by the backend.
func (m *Manager) Remote() RemoteConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneConfig(m.remoteCfg)
}

func (m *Manager) LastSync() time.Time {
	return m.recorder.LastSync()
}

func (m *Manager) PinHashes() []PinHash {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneConfig(m.remoteCfg).PinHashes
}

func (m *Manager) Subscribe(fn func(Status)) func() {
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

func (m *Manager) setStatusLocked(s Status) {
	if m.status != s {
		slog.Info("Config sync status changed", "from", m.status, "to", s)
	}
	m.status = s
}

// publish tells subscribers the current status. Repeats are allowed;
// subscribers treat it as a level, not an edge.
func (m *Manager) publish() {
	status := m.Status()

	m.subMu.Lock()
	subs := make([]func(Status), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

func (m *Manager) documentLocked() cacheDocument {
	doc := cacheDocument{
		Remote: CloneConfig(m.remoteCfg),
		Local:  CloneConfig(m.local),
	}
	if m.pending != nil {
		doc.Pending = &pendingEdit{
			BaseVersion: m.pending.BaseVersion,
			Fields:      maps.Clone(m.pending.Fields),
		}
	}
	return doc
}

// persist snapshots the current state under the cache lock, so the file
// always ends up holding the newest state regardless of writer order.
func (m *Manager) persist() error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.mu.Lock()
	doc := m.documentLocked()
	m.mu.Unlock()

	if err := m.cache.Write(doc); err != nil {
		return fmt.Errorf("failed to write config cache: %w", err)
	}
	return nil
}
