// Package queue is the durable, encrypted store of ticket submissions that
// have not been acknowledged by the backend yet. The whole queue is one
// sealed file, rewritten in full on every mutation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/silo-kiosk/internal/atomicfile"
	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/sealedfile"
)

const DefaultMaxItems = 500

var (
	ErrNotFound    = errors.New("submission not found")
	ErrDuplicateID = errors.New("submission id already queued")
	ErrQueueFull   = errors.New("submission queue is full")
	ErrEmptyID     = errors.New("submission id is required")
)

var fileMagic = [4]byte{'S', 'K', 'Q', '1'}

type Config struct {
	Path     string `mapstructure:"path"`
	MaxItems int    `mapstructure:"max_items"`
}

type Submission struct {
	ID         string         `cbor:"id" json:"id"`
	Payload    map[string]any `cbor:"payload" json:"payload"`
	EnqueuedAt time.Time      `cbor:"enqueued_at" json:"enqueued_at"`
	Attempts   int            `cbor:"attempts" json:"attempts"`
	LastError  string         `cbor:"last_error,omitempty" json:"last_error,omitempty"`
}

// Corruption describes a queue file that could not be read and was moved
// aside. QuarantinedTo is empty if the move itself failed.
type Corruption struct {
	Path          string
	QuarantinedTo string
	Err           error
	At            time.Time
}

type Diagnostics struct {
	Corruptions    int
	LastCorruption *Corruption
}

type document struct {
	Items []Submission `cbor:"items"`
}

type Option func(*Queue)

// WithCorruptionHandler registers fn to be told about a corrupt queue file
// found at open.
func WithCorruptionHandler(fn func(Corruption)) Option {
	return func(q *Queue) { q.onCorruption = fn }
}

func WithClock(clk clock.Clock) Option {
	return func(q *Queue) { q.clock = clk }
}

type Queue struct {
	file         sealedfile.File
	maxItems     int
	clock        clock.Clock
	onCorruption func(Corruption)

	mu    sync.Mutex
	items []Submission
	diag  Diagnostics
}

// Open loads the queue file. A missing file is an empty queue. So is a
// corrupt one, after it has been quarantined and reported.
func Open(cfg Config, sealer sealedfile.Sealer, opts ...Option) (*Queue, error) {
	if cfg.Path == "" {
		return nil, errors.New("queue path is required")
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}

	q := &Queue{
		file: sealedfile.File{
			Path:    cfg.Path,
			Magic:   fileMagic,
			Purpose: "queue",
			Sealer:  sealer,
		},
		maxItems: cfg.MaxItems,
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(q)
	}

	var doc document
	err := q.file.Read(&doc)
	switch {
	case err == nil:
		q.items = doc.Items
	case errors.Is(err, sealedfile.ErrNotExist):
	case errors.Is(err, sealedfile.ErrCorrupt):
		q.handleCorruption(err)
	default:
		return nil, err
	}

	slog.Info("Submission queue loaded", "path", cfg.Path, "pending", len(q.items))
	return q, nil
}

func (q *Queue) handleCorruption(cause error) {
	now := q.clock.Now()
	c := Corruption{Path: q.file.Path, Err: cause, At: now}

	moved, err := atomicfile.Quarantine(q.file.Path, strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		slog.Error("Failed to quarantine corrupt queue file", "path", q.file.Path, "error", err)
	} else {
		c.QuarantinedTo = moved
	}

	q.diag.Corruptions++
	q.diag.LastCorruption = &c
	slog.Warn("Queue file corrupt, starting with empty queue",
		"path", q.file.Path, "quarantined_to", c.QuarantinedTo, "error", cause)

	if q.onCorruption != nil {
		q.onCorruption(c)
	}
}

// Enqueue stores payload under a fresh id. It returns once the queue is on
// disk.
func (q *Queue) Enqueue(ctx context.Context, payload map[string]any) (Submission, error) {
	return q.EnqueueSubmission(ctx, Submission{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
	})
}

func (q *Queue) EnqueueSubmission(ctx context.Context, s Submission) (Submission, error) {
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}
	if s.ID == "" {
		return Submission{}, ErrEmptyID
	}
	if s.EnqueuedAt.IsZero() {
		s.EnqueuedAt = q.clock.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(s.ID) >= 0 {
		return Submission{}, ErrDuplicateID
	}
	if len(q.items) >= q.maxItems {
		return Submission{}, ErrQueueFull
	}

	q.items = append(q.items, s)
	if err := q.persistLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return Submission{}, err
	}

	slog.Debug("Submission enqueued", "submission_id", s.ID, "pending", len(q.items))
	return s, nil
}

// ListPending returns a copy of the queue in insertion order.
func (q *Queue) ListPending() []Submission {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Submission, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Get(id string) (Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return Submission{}, false
	}
	return q.items[i], true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove deletes id and persists the remainder. Only call it after the
// backend acknowledged the submission.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}

	previous := q.items
	remaining := make([]Submission, 0, len(q.items)-1)
	remaining = append(remaining, q.items[:i]...)
	remaining = append(remaining, q.items[i+1:]...)
	q.items = remaining

	if err := q.persistLocked(); err != nil {
		q.items = previous
		return err
	}

	slog.Debug("Submission removed", "submission_id", id, "pending", len(q.items))
	return nil
}

// RecordAttempt bumps the attempt counter for id and keeps the failure text
// for diagnostics. A nil attemptErr clears it.
func (q *Queue) RecordAttempt(ctx context.Context, id string, attemptErr error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}

	previous := q.items[i]
	q.items[i].Attempts++
	q.items[i].LastError = ""
	if attemptErr != nil {
		q.items[i].LastError = attemptErr.Error()
	}

	if err := q.persistLocked(); err != nil {
		q.items[i] = previous
		return err
	}
	return nil
}

func (q *Queue) Diagnostics() Diagnostics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.diag
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) persistLocked() error {
	if err := q.file.Write(document{Items: q.items}); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}
