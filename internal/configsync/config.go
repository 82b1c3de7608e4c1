package configsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/EternisAI/silo-kiosk/internal/backend"
)

type (
	RemoteConfig = backend.RemoteConfig
	PinHash      = backend.PinHash
)

var ErrUnknownField = errors.New("unknown config field")

// Editable keys a local edit may carry.
const (
	FieldCurrentStatus = "currentStatus"
	FieldSchedule      = "schedule"
	FieldBranding      = "branding"
	FieldFeatures      = "features"
)

// CloneConfig deep-copies c so callers can modify the result freely.
func CloneConfig(c RemoteConfig) RemoteConfig {
	out := c
	out.Schedule = maps.Clone(c.Schedule)
	out.Features = maps.Clone(c.Features)
	out.PinHashes = make([]PinHash, len(c.PinHashes))
	for i, h := range c.PinHashes {
		h.Permissions = slices.Clone(h.Permissions)
		out.PinHashes[i] = h
	}
	if c.PinHashes == nil {
		out.PinHashes = nil
	}
	return out
}

// ApplyFields merges an edit into a copy of base. Objects merge key by key;
// scalars replace.
func ApplyFields(base RemoteConfig, fields map[string]any) (RemoteConfig, error) {
	out := CloneConfig(base)
	for key, value := range fields {
		var target any
		switch key {
		case FieldCurrentStatus:
			target = &out.CurrentStatus
		case FieldSchedule:
			if out.Schedule == nil {
				out.Schedule = make(map[string]backend.DayHours)
			}
			target = &out.Schedule
		case FieldBranding:
			target = &out.Branding
		case FieldFeatures:
			if out.Features == nil {
				out.Features = make(map[string]bool)
			}
			target = &out.Features
		default:
			return RemoteConfig{}, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return RemoteConfig{}, fmt.Errorf("failed to encode field %q: %w", key, err)
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return RemoteConfig{}, fmt.Errorf("invalid value for field %q: %w", key, err)
		}
	}
	return out, nil
}
