// Package devbackend is an in-memory implementation of the backend's kiosk
// API. It exists for local development and for integration tests of the
// kiosk against a real HTTP server.
package devbackend

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/configsync"
	"github.com/EternisAI/silo-kiosk/internal/offlineauth"
)

const (
	DeviceStatusActivated = "activated"
	DeviceStatusRevoked   = "revoked"
	DeviceStatusExpired   = "expired"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidToken    = errors.New("invalid device token")
	ErrVersionConflict = errors.New("config version conflict")
	ErrInvalidPIN      = errors.New("invalid pin")
)

type Config struct {
	Devices      []DeviceConfig `mapstructure:"devices"`
	PINs         []PINConfig    `mapstructure:"pins"`
	JWTSecret    string         `mapstructure:"jwt_secret"`
	SessionTTL   time.Duration  `mapstructure:"session_ttl"`
	AdminAPIKey  string         `mapstructure:"admin_api_key"`
	InitialState ConfigSeed     `mapstructure:"config"`
}

type DeviceConfig struct {
	ID     string `mapstructure:"id"`
	Token  string `mapstructure:"token"`
	Status string `mapstructure:"status"`
}

// PINConfig seeds an admin PIN. Hash is a bcrypt hash; PIN is accepted as a
// convenience for development and hashed at startup.
type PINConfig struct {
	PIN         string   `mapstructure:"pin"`
	Hash        string   `mapstructure:"hash"`
	Scope       string   `mapstructure:"scope"`
	Permissions []string `mapstructure:"permissions"`
}

type ConfigSeed struct {
	CurrentStatus string          `mapstructure:"current_status"`
	BrandingName  string          `mapstructure:"branding_name"`
	Features      map[string]bool `mapstructure:"features"`
}

type Device struct {
	ID     string
	Token  string
	Status string
}

type Ticket struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Payload    map[string]any `json:"payload"`
	ReceivedAt time.Time      `json:"received_at"`
	Deliveries int            `json:"deliveries"`
}

type Store struct {
	mu         sync.RWMutex
	devices    map[string]*Device
	tickets    map[string]*Ticket
	order      []string
	config     configsync.RemoteConfig
	jwtSecret  []byte
	sessionTTL time.Duration
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
	}

	s := &Store{
		devices:    make(map[string]*Device),
		tickets:    make(map[string]*Ticket),
		jwtSecret:  []byte(cfg.JWTSecret),
		sessionTTL: cfg.SessionTTL,
		config: configsync.RemoteConfig{
			Version:       1,
			CurrentStatus: cfg.InitialState.CurrentStatus,
			Branding:      backend.Branding{Name: cfg.InitialState.BrandingName},
			Features:      maps.Clone(cfg.InitialState.Features),
		},
	}
	if s.config.CurrentStatus == "" {
		s.config.CurrentStatus = "open"
	}

	for _, d := range cfg.Devices {
		s.RegisterDevice(d.ID, d.Token, d.Status)
	}
	for _, p := range cfg.PINs {
		if err := s.AddPIN(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) RegisterDevice(id, token, status string) {
	if status == "" {
		status = DeviceStatusActivated
	}

	s.mu.Lock()
	s.devices[id] = &Device{ID: id, Token: token, Status: status}
	s.mu.Unlock()

	slog.Info("Device registered", "device_id", id, "status", status)
}

func (s *Store) SetDeviceStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Status = status
	slog.Info("Device status changed", "device_id", id, "status", status)
	return nil
}

// Authenticate resolves a device from its id and bearer token.
func (s *Store) Authenticate(id, token string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	if d.Token != token {
		return Device{}, ErrInvalidToken
	}
	return *d, nil
}

func (s *Store) AddPIN(p PINConfig) error {
	hash := p.Hash
	if hash == "" {
		var err error
		hash, err = offlineauth.HashPIN(p.PIN)
		if err != nil {
			return err
		}
	}
	if p.Scope != backend.ScopeGlobal && p.Scope != backend.ScopeDevice {
		return fmt.Errorf("invalid pin scope %q", p.Scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.PinHashes = append(s.config.PinHashes, backend.PinHash{
		Scope:       p.Scope,
		Hash:        hash,
		Permissions: p.Permissions,
	})
	s.config.Version++
	return nil
}

// AddTicket stores a submission once per idempotency key. Redeliveries are
// counted but not duplicated.
func (s *Store) AddTicket(deviceID, idempotencyKey string, payload map[string]any) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tickets[idempotencyKey]; ok {
		t.Deliveries++
		return *t, false
	}

	t := &Ticket{
		ID:         idempotencyKey,
		DeviceID:   deviceID,
		Payload:    payload,
		ReceivedAt: time.Now(),
		Deliveries: 1,
	}
	s.tickets[idempotencyKey] = t
	s.order = append(s.order, idempotencyKey)
	return *t, true
}

func (s *Store) Tickets() []Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Ticket, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tickets[id])
	}
	return out
}

func (s *Store) Config() configsync.RemoteConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return configsync.CloneConfig(s.config)
}

// UpdateConfig applies fields if baseVersion is current and returns the new
// version.
func (s *Store) UpdateConfig(baseVersion int64, fields map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseVersion != s.config.Version {
		return 0, ErrVersionConflict
	}
	updated, err := configsync.ApplyFields(s.config, fields)
	if err != nil {
		return 0, err
	}
	updated.Version++
	s.config = updated
	return updated.Version, nil
}

// ValidatePIN checks pin against every scope and issues a signed session
// token carrying the union of matching permissions.
func (s *Store) ValidatePIN(deviceID, pin string) (backend.PINValidation, error) {
	s.mu.RLock()
	hashes := configsync.CloneConfig(s.config).PinHashes
	s.mu.RUnlock()

	var permissions []string
	matched := false
	for _, h := range hashes {
		if !offlineauth.CheckPIN(pin, h.Hash) {
			continue
		}
		matched = true
		for _, p := range h.Permissions {
			if !contains(permissions, p) {
				permissions = append(permissions, p)
			}
		}
	}
	if !matched {
		return backend.PINValidation{}, ErrInvalidPIN
	}

	now := time.Now()
	expiresAt := now.Add(s.sessionTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         deviceID,
		"jti":         uuid.NewString(),
		"permissions": permissions,
		"iat":         now.Unix(),
		"exp":         expiresAt.Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return backend.PINValidation{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return backend.PINValidation{
		Valid:       true,
		Token:       signed,
		Permissions: permissions,
		ExpiresAt:   expiresAt,
	}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
