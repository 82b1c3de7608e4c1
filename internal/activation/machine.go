// Package activation tracks whether this device is authorized to operate.
// The last answer from the backend is persisted and used while offline.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/backend"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/state"
)

type State string

const (
	StateNotActivated State = "not_activated"
	StateActivating   State = "activating"
	StateActivated    State = "activated"
	StateRevoked      State = "revoked"
	StateExpired      State = "expired"
	StateError        State = "error"
)

type Status struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
	// Offline is set when the backend could not be asked and the result is
	// the cached state.
	Offline bool `json:"offline"`
}

type Checker interface {
	CheckActivation(ctx context.Context) (backend.ActivationResponse, error)
}

type Store interface {
	Activation() state.Activation
	SetActivation(a state.Activation) error
}

type Machine struct {
	checker Checker
	store   Store
	clock   clock.Clock

	mu        sync.Mutex
	current   Status
	persisted Status

	subMu       sync.Mutex
	subscribers map[int]func(Status)
	nextSubID   int
}

func NewMachine(checker Checker, store Store, clk clock.Clock) *Machine {
	cached := store.Activation()
	status := Status{
		State:     State(cached.State),
		Reason:    cached.Reason,
		CheckedAt: cached.CheckedAt,
	}
	if status.State == "" || status.State == StateActivating {
		status.State = StateNotActivated
	}

	return &Machine{
		checker:     checker,
		store:       store,
		clock:       clk,
		current:     status,
		persisted:   status,
		subscribers: make(map[int]func(Status)),
	}
}

// BeginActivation marks an activation attempt in progress. It is never
// persisted; the next CheckStatus settles the state.
func (m *Machine) BeginActivation() {
	m.mu.Lock()
	m.current = Status{State: StateActivating, CheckedAt: m.persisted.CheckedAt}
	status := m.current
	m.mu.Unlock()

	m.publish(status)
}

// CheckStatus asks the backend. If it cannot be reached the cached state is
// returned unchanged with Offline set.
func (m *Machine) CheckStatus(ctx context.Context) (Status, error) {
	resp, err := m.checker.CheckActivation(ctx)
	if err != nil {
		slog.Warn("Activation check failed, using cached state", "error", err)

		m.mu.Lock()
		changed := m.current != m.persisted
		m.current = m.persisted
		status := m.current
		m.mu.Unlock()

		if changed {
			m.publish(status)
		}
		status.Offline = true
		return status, nil
	}

	status := fromResponse(resp)
	status.CheckedAt = m.clock.Now()

	if err := m.store.SetActivation(state.Activation{
		State:     string(status.State),
		Reason:    status.Reason,
		CheckedAt: status.CheckedAt,
	}); err != nil {
		slog.Error("Failed to persist activation state", "error", err)
	}

	m.mu.Lock()
	previous := m.current.State
	m.current = status
	m.persisted = status
	m.mu.Unlock()

	if previous != status.State {
		slog.Info("Activation state changed", "from", previous, "to", status.State, "reason", status.Reason)
	}
	m.publish(status)
	return status, nil
}

func fromResponse(resp backend.ActivationResponse) Status {
	switch resp.StatusCode {
	case http.StatusOK:
		switch strings.ToLower(resp.Status) {
		case "activated", "active":
			return Status{State: StateActivated, Reason: resp.Message}
		case "revoked":
			return Status{State: StateRevoked, Reason: resp.Message}
		case "expired":
			return Status{State: StateExpired, Reason: resp.Message}
		case "not_found", "not-found":
			return Status{State: StateNotActivated, Reason: resp.Message}
		default:
			return Status{State: StateError, Reason: fmt.Sprintf("unknown activation status %q", resp.Status)}
		}
	case http.StatusNotFound:
		return Status{State: StateNotActivated, Reason: "device not registered"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Status{State: StateRevoked, Reason: fmt.Sprintf("device credentials rejected (status %d)", resp.StatusCode)}
	default:
		return Status{State: StateError, Reason: fmt.Sprintf("unexpected activation response status %d", resp.StatusCode)}
	}
}

func (m *Machine) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanOperate is true only for an Activated device.
func (m *Machine) CanOperate() bool {
	return m.State().State == StateActivated
}

func (m *Machine) Subscribe(fn func(Status)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Machine) publish(status Status) {
	m.subMu.Lock()
	subs := make([]func(Status), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}
