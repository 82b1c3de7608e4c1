package dto

import (
	"time"

	"github.com/EternisAI/silo-kiosk/internal/backend"
)

// ConfigResponse is the local config as shown to the kiosk UI, without PIN
// hashes.
type ConfigResponse struct {
	Version       int64                       `json:"version"`
	CurrentStatus string                      `json:"currentStatus"`
	Schedule      map[string]backend.DayHours `json:"schedule,omitempty"`
	Branding      backend.Branding            `json:"branding"`
	Features      map[string]bool             `json:"features,omitempty"`
	SyncStatus    string                      `json:"sync_status"`
	LastSync      *time.Time                  `json:"last_sync,omitempty"`
}

type ConfigEditResponse struct {
	SyncStatus string `json:"sync_status"`
}
