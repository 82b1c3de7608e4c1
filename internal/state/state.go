// Package state keeps the small amount of non-secret kiosk state that must
// survive a restart: the last known activation result and when config was
// last synchronized.
package state

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EternisAI/silo-kiosk/internal/atomicfile"
)

type Activation struct {
	State     string    `yaml:"state"`
	Reason    string    `yaml:"reason,omitempty"`
	CheckedAt time.Time `yaml:"checked_at,omitempty"`
}

type document struct {
	Activation Activation `yaml:"activation"`
	LastSync   time.Time  `yaml:"last_sync,omitempty"`
}

type Store struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open reads path. A missing file yields empty state; an unparsable one is
// moved aside and also yields empty state.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		slog.Warn("State file unreadable, starting empty", "path", path, "error", err)
		if moved, qerr := atomicfile.Quarantine(path, strconv.FormatInt(time.Now().Unix(), 10)); qerr == nil {
			slog.Warn("State file quarantined", "path", moved)
		}
		s.doc = document{}
	}
	return s, nil
}

func (s *Store) Activation() Activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Activation
}

func (s *Store) SetActivation(a Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.doc.Activation
	s.doc.Activation = a
	if err := s.saveLocked(); err != nil {
		s.doc.Activation = previous
		return err
	}
	return nil
}

// LastSync is zero if config was never synchronized.
func (s *Store) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastSync
}

func (s *Store) SetLastSync(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.doc.LastSync
	s.doc.LastSync = t
	if err := s.saveLocked(); err != nil {
		s.doc.LastSync = previous
		return err
	}
	return nil
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := atomicfile.Write(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
