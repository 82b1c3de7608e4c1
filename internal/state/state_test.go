package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	assert.True(t, s.LastSync().IsZero())
	assert.Empty(t, s.Activation().State)

	checked := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetActivation(Activation{State: "revoked", Reason: "device disabled", CheckedAt: checked}))
	require.NoError(t, s.SetLastSync(checked.Add(time.Minute)))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "revoked", reopened.Activation().State)
	assert.Equal(t, "device disabled", reopened.Activation().Reason)
	assert.True(t, checked.Equal(reopened.Activation().CheckedAt))
	assert.True(t, checked.Add(time.Minute).Equal(reopened.LastSync()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "state: revoked")
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("activation: [unterminated"), 0600))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.Activation().State)

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
