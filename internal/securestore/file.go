package securestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"filippo.io/age"

	"github.com/EternisAI/silo-kiosk/internal/atomicfile"
	"github.com/EternisAI/silo-kiosk/internal/codec"
)

// DefaultWorkFactor is the scrypt log2(N) used to seal the file.
const DefaultWorkFactor = 15

var ErrNoPassphrase = errors.New("secure storage passphrase is required")

// File is a Storage backed by a single age file sealed with a scrypt
// passphrase. It is the Linux kiosk fallback when no hardware keystore is
// available. Every Set/Delete rewrites the whole file atomically.
type File struct {
	path       string
	passphrase string
	workFactor int

	mu      sync.Mutex
	entries map[string][]byte
}

// OpenFile loads path, or starts empty if it does not exist. A file that
// cannot be decrypted is quarantined and the store starts empty.
func OpenFile(path, passphrase string, workFactor int) (*File, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	if workFactor <= 0 {
		workFactor = DefaultWorkFactor
	}

	f := &File{
		path:       path,
		passphrase: passphrase,
		workFactor: workFactor,
		entries:    make(map[string][]byte),
	}

	if err := f.load(); err != nil {
		slog.Warn("Secure storage unreadable, starting empty", "path", path, "error", err)
		if moved, qerr := atomicfile.Quarantine(path, strconv.FormatInt(time.Now().Unix(), 10)); qerr == nil {
			slog.Warn("Secure storage quarantined", "path", moved)
		}
		f.entries = make(map[string][]byte)
	}

	return f, nil
}

func (f *File) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (f *File) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	previous, existed := f.entries[key]
	f.entries[key] = append([]byte(nil), value...)
	if err := f.persistLocked(); err != nil {
		if existed {
			f.entries[key] = previous
		} else {
			delete(f.entries, key)
		}
		return err
	}
	return nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	previous, existed := f.entries[key]
	if !existed {
		return nil
	}
	delete(f.entries, key)
	if err := f.persistLocked(); err != nil {
		f.entries[key] = previous
		return err
	}
	return nil
}

func (f *File) load() error {
	sealed, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read secure storage: %w", err)
	}

	identity, err := age.NewScryptIdentity(f.passphrase)
	if err != nil {
		return fmt.Errorf("failed to build scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(22)

	reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return fmt.Errorf("failed to decrypt secure storage: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read decrypted secure storage: %w", err)
	}

	entries := make(map[string][]byte)
	if err := codec.Unmarshal(plaintext, &entries); err != nil {
		return fmt.Errorf("failed to decode secure storage: %w", err)
	}
	f.entries = entries
	return nil
}

func (f *File) persistLocked() error {
	plaintext, err := codec.Marshal(f.entries)
	if err != nil {
		return fmt.Errorf("failed to encode secure storage: %w", err)
	}

	recipient, err := age.NewScryptRecipient(f.passphrase)
	if err != nil {
		return fmt.Errorf("failed to build scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(f.workFactor)

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("failed to create age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("failed to write secure storage plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize secure storage encryption: %w", err)
	}

	return atomicfile.Write(f.path, sealed.Bytes(), 0600)
}
