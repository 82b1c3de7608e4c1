package devbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreRejectsBadPINScope(t *testing.T) {
	_, err := NewStore(Config{PINs: []PINConfig{{PIN: "1", Scope: "tenant"}}})
	assert.Error(t, err)
}

func TestStoreUsesProvidedHash(t *testing.T) {
	store, err := NewStore(Config{PINs: []PINConfig{{Hash: "$2a$10$precomputed", Scope: "global"}}})
	require.NoError(t, err)

	cfg := store.Config()
	require.Len(t, cfg.PinHashes, 1)
	assert.Equal(t, "$2a$10$precomputed", cfg.PinHashes[0].Hash)
}

func TestUpdateConfigRejectsUnknownFields(t *testing.T) {
	store, err := NewStore(Config{})
	require.NoError(t, err)

	_, err = store.UpdateConfig(store.Config().Version, map[string]any{"version": 99})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	store, err := NewStore(Config{Devices: []DeviceConfig{{ID: "a", Token: "t"}}})
	require.NoError(t, err)

	_, err = store.Authenticate("b", "t")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = store.Authenticate("a", "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	d, err := store.Authenticate("a", "t")
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusActivated, d.Status)
}
