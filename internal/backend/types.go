package backend

import "time"

// RemoteConfig is the kiosk configuration document as served by
// GET /api/v1/kiosk/config. It is also the shape cached on disk.
type RemoteConfig struct {
	Version       int64               `json:"version" cbor:"version"`
	CurrentStatus string              `json:"currentStatus" cbor:"current_status"`
	Schedule      map[string]DayHours `json:"schedule,omitempty" cbor:"schedule,omitempty"`
	Branding      Branding            `json:"branding" cbor:"branding"`
	Features      map[string]bool     `json:"features,omitempty" cbor:"features,omitempty"`
	PinHashes     []PinHash           `json:"pinHashes,omitempty" cbor:"pin_hashes,omitempty"`
	FetchedAt     time.Time           `json:"fetchedAt" cbor:"fetched_at"`
}

type DayHours struct {
	Open  string `json:"open" cbor:"open"`
	Close string `json:"close" cbor:"close"`
}

type Branding struct {
	Name         string `json:"name,omitempty" cbor:"name,omitempty"`
	LogoURL      string `json:"logoUrl,omitempty" cbor:"logo_url,omitempty"`
	PrimaryColor string `json:"primaryColor,omitempty" cbor:"primary_color,omitempty"`
	AccentColor  string `json:"accentColor,omitempty" cbor:"accent_color,omitempty"`
}

const (
	ScopeGlobal = "global"
	ScopeDevice = "device"
)

// PinHash is a salted bcrypt hash of an admin PIN and what it unlocks.
type PinHash struct {
	Scope       string   `json:"scope" cbor:"scope"`
	Hash        string   `json:"hash" cbor:"hash"`
	Permissions []string `json:"permissions" cbor:"permissions"`
}

type ConfigPushRequest struct {
	BaseVersion int64          `json:"base_version"`
	Fields      map[string]any `json:"fields"`
}

type ConfigPushResponse struct {
	Version int64 `json:"version"`
}

type PINValidateRequest struct {
	PIN string `json:"pin"`
}

type PINValidation struct {
	Valid       bool      `json:"valid"`
	Token       string    `json:"token"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ActivationResponse carries the HTTP status alongside the body because
// 401/403/404 are meaningful answers, not failures.
type ActivationResponse struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}
