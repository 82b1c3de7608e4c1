package keystore

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/securestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesKeyOnce(t *testing.T) {
	storage := securestore.NewMemory()

	ks1, err := Open(storage)
	require.NoError(t, err)
	stored, err := storage.Get(StorageKey)
	require.NoError(t, err)
	assert.Len(t, stored, keySize)

	ks2, err := Open(storage)
	require.NoError(t, err)

	sealed, err := ks1.Seal([]byte("hello"), []byte("queue"))
	require.NoError(t, err)
	plaintext, err := ks2.Open(sealed, []byte("queue"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plaintext))
}

func TestOpenReportsBadLengthKeyReplacement(t *testing.T) {
	storage := securestore.NewMemory()
	require.NoError(t, storage.Set(StorageKey, []byte("short")))
	clk := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	ks, err := Open(storage, WithClock(clk))
	require.NoError(t, err)

	stored, err := storage.Get(StorageKey)
	require.NoError(t, err)
	assert.Len(t, stored, keySize)

	replacement, ok := ks.Replacement()
	require.True(t, ok)
	assert.Equal(t, clk.Now(), replacement.At)
	assert.Contains(t, replacement.Reason, "5 bytes")

	preserved, err := storage.Get(replacement.PreservedAs)
	require.NoError(t, err)
	assert.Equal(t, "short", string(preserved))

	reopened, err := Open(storage)
	require.NoError(t, err)
	again, err := storage.Get(StorageKey)
	require.NoError(t, err)
	assert.Equal(t, stored, again)
	_, ok = reopened.Replacement()
	assert.False(t, ok)
}

func TestSealUsesFreshNonce(t *testing.T) {
	ks, err := Open(securestore.NewMemory())
	require.NoError(t, err)

	a, err := ks.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := ks.Seal([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTamperingAndWrongPurpose(t *testing.T) {
	ks, err := Open(securestore.NewMemory())
	require.NoError(t, err)

	sealed, err := ks.Seal([]byte("payload"), []byte("queue"))
	require.NoError(t, err)

	_, err = ks.Open(sealed, []byte("config"))
	assert.Error(t, err)

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0xff
	_, err = ks.Open(tampered, []byte("queue"))
	assert.Error(t, err)

	_, err = ks.Open([]byte{1, 2, 3}, []byte("queue"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestDeriveKeyIsStableAndPurposeBound(t *testing.T) {
	ks, err := Open(securestore.NewMemory())
	require.NoError(t, err)

	a1, err := ks.DeriveKey("session", 32)
	require.NoError(t, err)
	a2, err := ks.DeriveKey("session", 32)
	require.NoError(t, err)
	b, err := ks.DeriveKey("other", 32)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.NotEqual(t, ks.key, a1)
}

func TestKeyNeverRendered(t *testing.T) {
	ks, err := Open(securestore.NewMemory())
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("keystore", "ks", ks)

	assert.Contains(t, buf.String(), "[redacted]")
	assert.Contains(t, fmt.Sprint(ks), "redacted")
}
