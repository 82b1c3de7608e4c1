// Package keystore owns the kiosk's single symmetric key. The key is
// generated on first start, kept only in secure storage, and used for
// authenticated encryption of every local data file.
package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/securestore"
)

const (
	// StorageKey is the secure storage entry holding the raw key.
	StorageKey = "kiosk.symmetric_key"
	keySize    = chacha20poly1305.KeySize
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Replacement records a stored key that was unusable and had to be
// replaced. Everything sealed with the old key is unreadable afterwards.
type Replacement struct {
	Reason string
	// PreservedAs is the secure storage entry the old key material was
	// copied to, empty if it could not be kept.
	PreservedAs string
	At          time.Time
}

type Option func(*options)

type options struct {
	clock clock.Clock
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

type KeyStore struct {
	aead        cipher.AEAD
	key         []byte
	replacement *Replacement
}

// Open loads the key from storage, creating and persisting a new one if
// none exists. A stored key of the wrong size is preserved under a
// separate entry, replaced, and reported through Replacement.
func Open(storage securestore.Storage, opts ...Option) (*KeyStore, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	var replacement *Replacement
	key, err := storage.Get(StorageKey)
	switch {
	case errors.Is(err, securestore.ErrNotFound):
		key, err = generate(storage)
		if err != nil {
			return nil, err
		}
		slog.Info("Generated new kiosk encryption key")
	case err != nil:
		return nil, fmt.Errorf("failed to read encryption key: %w", err)
	case len(key) != keySize:
		now := o.clock.Now()
		replacement = &Replacement{
			Reason: fmt.Sprintf("stored key is %d bytes, want %d", len(key), keySize),
			At:     now,
		}
		preserved := StorageKey + ".invalid-" + strconv.FormatInt(now.Unix(), 10)
		if perr := storage.Set(preserved, key); perr == nil {
			replacement.PreservedAs = preserved
		} else {
			slog.Error("Failed to preserve invalid encryption key", "error", perr)
		}

		key, err = generate(storage)
		if err != nil {
			return nil, err
		}
		slog.Error("Stored encryption key was invalid and has been replaced, sealed files are unreadable",
			"reason", replacement.Reason, "preserved_as", replacement.PreservedAs)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	return &KeyStore{aead: aead, key: key, replacement: replacement}, nil
}

// Replacement reports whether Open replaced an unusable key.
func (k *KeyStore) Replacement() (Replacement, bool) {
	if k.replacement == nil {
		return Replacement{}, false
	}
	return *k.replacement, true
}

func generate(storage securestore.Storage) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := storage.Set(StorageKey, key); err != nil {
		return nil, fmt.Errorf("failed to store encryption key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with a fresh random nonce. The associated data
// binds the ciphertext to its purpose so a queue file cannot be swapped in
// for a config file.
func (k *KeyStore) Seal(plaintext, associatedData []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize(), k.aead.NonceSize()+len(plaintext)+k.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return k.aead.Seal(nonce, nonce, plaintext, associatedData), nil
}

func (k *KeyStore) Open(sealed, associatedData []byte) ([]byte, error) {
	nonceSize := k.aead.NonceSize()
	if len(sealed) < nonceSize+k.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := k.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], associatedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// DeriveKey returns a purpose-specific subkey (HKDF-SHA256). Used to sign
// offline session tokens without exposing the file key itself.
func (k *KeyStore) DeriveKey(purpose string, size int) ([]byte, error) {
	out := make([]byte, size)
	reader := hkdf.New(sha256.New, k.key, nil, []byte("silo-kiosk/"+purpose))
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return out, nil
}

// LogValue keeps the key out of structured logs.
func (k *KeyStore) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

func (k *KeyStore) String() string {
	return "keystore[redacted]"
}
