// Package offlineauth validates admin PINs. Cached PIN hashes let an admin
// in while the backend is unreachable, with a short session and no more
// permission than the hash grants.
package offlineauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/codec"
	"github.com/EternisAI/silo-kiosk/internal/securestore"
)

const (
	DefaultSessionTTL = 4 * time.Hour

	// StorageKey is the secure storage entry mirroring the active session.
	StorageKey = "kiosk.admin_session"

	PinTypeGlobal = backend.ScopeGlobal
	PinTypeDevice = backend.ScopeDevice
	PinTypeOnline = "online"

	signingKeyPurpose = "admin-session"
)

const (
	PermQueueView   = "queue:view"
	PermQueueRetry  = "queue:retry"
	PermConfigView  = "config:view"
	PermConfigEdit  = "config:edit"
	PermDeviceAdmin = "device:admin"
)

var (
	ErrInvalidPIN       = errors.New("invalid pin")
	ErrNoSession        = errors.New("no admin session")
	ErrSessionExpired   = errors.New("admin session expired")
	ErrPermissionDenied = errors.New("permission denied")
)

type Config struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// Offline sessions never get more than these, per PIN scope.
	GlobalPermissions []string `mapstructure:"global_permissions"`
	DevicePermissions []string `mapstructure:"device_permissions"`
}

func DefaultConfig() Config {
	return Config{
		SessionTTL:        DefaultSessionTTL,
		GlobalPermissions: []string{PermQueueView, PermQueueRetry, PermConfigView, PermConfigEdit, PermDeviceAdmin},
		DevicePermissions: []string{PermQueueView, PermQueueRetry, PermConfigView},
	}
}

type Session struct {
	Token       string    `json:"token" cbor:"token"`
	ExpiresAt   time.Time `json:"expires_at" cbor:"expires_at"`
	Permissions []string  `json:"permissions" cbor:"permissions"`
	PinType     string    `json:"pin_type" cbor:"pin_type"`
	Offline     bool      `json:"offline" cbor:"offline"`
	CreatedAt   time.Time `json:"created_at" cbor:"created_at"`
}

func (s Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pin_type", s.PinType),
		slog.Bool("offline", s.Offline),
		slog.Time("expires_at", s.ExpiresAt),
	)
}

// HashSource supplies the cached PIN hashes. Hashes older than the offline
// window are not trusted; CanOperateOffline reports whether they still are.
type HashSource interface {
	PinHashes() []backend.PinHash
	CanOperateOffline() bool
}

type OnlineValidator interface {
	ValidatePIN(ctx context.Context, pin string) (backend.PINValidation, error)
}

type KeyDeriver interface {
	DeriveKey(purpose string, size int) ([]byte, error)
}

type Validator struct {
	cfg     Config
	hashes  HashSource
	online  OnlineValidator
	storage securestore.Storage
	signer  *tokenSigner
	clock   clock.Clock

	mu      sync.Mutex
	current *Session
}

func NewValidator(cfg Config, hashes HashSource, online OnlineValidator, storage securestore.Storage, keys KeyDeriver, clk clock.Clock) (*Validator, error) {
	defaults := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.GlobalPermissions == nil {
		cfg.GlobalPermissions = defaults.GlobalPermissions
	}
	if cfg.DevicePermissions == nil {
		cfg.DevicePermissions = defaults.DevicePermissions
	}

	key, err := keys.DeriveKey(signingKeyPurpose, 32)
	if err != nil {
		return nil, err
	}

	return &Validator{
		cfg:     cfg,
		hashes:  hashes,
		online:  online,
		storage: storage,
		signer:  &tokenSigner{key: key, now: clk.Now},
		clock:   clk,
	}, nil
}

// Validate checks pin against cached hashes first (global, then device)
// and falls back to the backend. Cached hashes are skipped once they are
// older than the offline window. A rejected PIN is never retried.
func (v *Validator) Validate(ctx context.Context, pin string) (Session, error) {
	if pin == "" {
		return Session{}, ErrInvalidPIN
	}

	session, ok, err := v.validateOffline(pin)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		session, err = v.validateOnline(ctx, pin)
		if err != nil {
			return Session{}, err
		}
	}

	v.mu.Lock()
	v.current = &session
	v.mu.Unlock()

	if err := v.mirror(session); err != nil {
		slog.Error("Failed to persist admin session", "error", err)
	}

	slog.Info("Admin session started", "session", session)
	return session, nil
}

func (v *Validator) validateOffline(pin string) (Session, bool, error) {
	if !v.hashes.CanOperateOffline() {
		slog.Warn("Cached PIN hashes are stale, offline login disabled")
		return Session{}, false, nil
	}
	hashes := v.hashes.PinHashes()

	for _, scope := range []string{backend.ScopeGlobal, backend.ScopeDevice} {
		for _, h := range hashes {
			if h.Scope != scope || !CheckPIN(pin, h.Hash) {
				continue
			}

			now := v.clock.Now()
			expiresAt := now.Add(v.cfg.SessionTTL)
			permissions := intersect(h.Permissions, v.allowed(scope))

			token, err := v.signer.sign(scope, permissions, now, expiresAt)
			if err != nil {
				return Session{}, false, err
			}

			return Session{
				Token:       token,
				ExpiresAt:   expiresAt,
				Permissions: permissions,
				PinType:     scope,
				Offline:     true,
				CreatedAt:   now,
			}, true, nil
		}
	}
	return Session{}, false, nil
}

func (v *Validator) validateOnline(ctx context.Context, pin string) (Session, error) {
	result, err := v.online.ValidatePIN(ctx, pin)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return Session{}, ErrInvalidPIN
		}
		slog.Warn("Online pin validation unavailable", "error", err)
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidPIN, err)
	}

	now := v.clock.Now()
	expiresAt := result.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(v.cfg.SessionTTL)
	}

	return Session{
		Token:       result.Token,
		ExpiresAt:   expiresAt,
		Permissions: slices.Clone(result.Permissions),
		PinType:     PinTypeOnline,
		CreatedAt:   now,
	}, nil
}

func (v *Validator) allowed(scope string) []string {
	if scope == backend.ScopeGlobal {
		return v.cfg.GlobalPermissions
	}
	return v.cfg.DevicePermissions
}

// Current returns the active session. An expired session is never
// returned, even before it has been cleared.
func (v *Validator) Current() (Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == nil || v.current.expired(v.clock.Now()) {
		return Session{}, false
	}
	return *v.current, true
}

func (v *Validator) HasPermission(perm string) bool {
	session, ok := v.Current()
	return ok && slices.Contains(session.Permissions, perm)
}

// Authorize checks that token belongs to the active session and that it
// grants perm. An empty perm only checks the session.
func (v *Validator) Authorize(token, perm string) error {
	v.mu.Lock()
	current := v.current
	v.mu.Unlock()

	if current == nil || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(current.Token)) != 1 {
		return ErrNoSession
	}
	if current.expired(v.clock.Now()) {
		return ErrSessionExpired
	}
	if perm != "" && !slices.Contains(current.Permissions, perm) {
		return ErrPermissionDenied
	}
	return nil
}

// Restore reloads the session mirrored in secure storage. Expired sessions
// and offline sessions whose token does not verify are dropped.
func (v *Validator) Restore(ctx context.Context) error {
	raw, err := v.storage.Get(StorageKey)
	if err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read admin session: %w", err)
	}

	var session Session
	if err := codec.Unmarshal(raw, &session); err != nil {
		slog.Warn("Discarding unreadable admin session", "error", err)
		return v.discard()
	}

	if session.expired(v.clock.Now()) {
		slog.Info("Discarding expired admin session", "session", session)
		return v.discard()
	}

	if session.Offline {
		claims, err := v.signer.verify(session.Token)
		if err != nil {
			slog.Warn("Discarding admin session with invalid token", "error", err)
			return v.discard()
		}
		// The signed claims are authoritative over the mirrored fields.
		session.Permissions = claims.Permissions
		session.PinType = claims.PinType
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	v.mu.Lock()
	v.current = &session
	v.mu.Unlock()

	slog.Info("Admin session restored", "session", session)
	return nil
}

func (v *Validator) Logout(ctx context.Context) error {
	v.mu.Lock()
	had := v.current != nil
	v.current = nil
	v.mu.Unlock()

	if had {
		slog.Info("Admin session ended")
	}
	return v.discard()
}

func (v *Validator) discard() error {
	if err := v.storage.Delete(StorageKey); err != nil {
		return fmt.Errorf("failed to delete admin session: %w", err)
	}
	return nil
}

func (v *Validator) mirror(session Session) error {
	data, err := codec.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode admin session: %w", err)
	}
	return v.storage.Set(StorageKey, data)
}

func intersect(granted, allowed []string) []string {
	out := make([]string, 0, len(granted))
	for _, p := range granted {
		if slices.Contains(allowed, p) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
