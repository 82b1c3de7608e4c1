// Package sealedfile reads and writes whole-file encrypted documents: a
// four byte magic, then the keystore-sealed CBOR encoding of the value.
package sealedfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/EternisAI/silo-kiosk/internal/atomicfile"
	"github.com/EternisAI/silo-kiosk/internal/codec"
)

var (
	// ErrNotExist means there is no file yet. Callers start from a default.
	ErrNotExist = errors.New("sealed file does not exist")
	// ErrCorrupt covers bad magic, failed authentication and undecodable
	// plaintext. Callers fail open on it.
	ErrCorrupt = errors.New("sealed file is corrupt")
)

type Sealer interface {
	Seal(plaintext, associatedData []byte) ([]byte, error)
	Open(sealed, associatedData []byte) ([]byte, error)
}

type File struct {
	Path    string
	Magic   [4]byte
	Purpose string
	Sealer  Sealer
}

func (f File) Read(v any) error {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	if len(raw) < len(f.Magic) || !bytes.Equal(raw[:len(f.Magic)], f.Magic[:]) {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}

	plaintext, err := f.Sealer.Open(raw[len(f.Magic):], []byte(f.Purpose))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if err := codec.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func (f File) Write(v any) error {
	plaintext, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.Purpose, err)
	}

	sealed, err := f.Sealer.Seal(plaintext, []byte(f.Purpose))
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", f.Purpose, err)
	}

	out := make([]byte, 0, len(f.Magic)+len(sealed))
	out = append(out, f.Magic[:]...)
	out = append(out, sealed...)

	return atomicfile.Write(f.Path, out, 0600)
}
