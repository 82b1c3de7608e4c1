package queue

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-kiosk/internal/clock"
	"github.com/EternisAI/silo-kiosk/internal/keystore"
	"github.com/EternisAI/silo-kiosk/internal/securestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir     string
	path    string
	storage *securestore.Memory
	keys    *keystore.KeyStore
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	storage := securestore.NewMemory()
	keys, err := keystore.Open(storage)
	require.NoError(t, err)
	dir := t.TempDir()
	return &fixture{
		dir:     dir,
		path:    filepath.Join(dir, "queue.enc"),
		storage: storage,
		keys:    keys,
		clock:   clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) open(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithClock(f.clock)}, opts...)
	q, err := Open(Config{Path: f.path}, f.keys, opts...)
	require.NoError(t, err)
	return q
}

func ids(items []Submission) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, s.ID)
	}
	return out
}

func TestEnqueuePersistsBeforeReturning(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	s, err := q.Enqueue(ctx, map[string]any{"subject": "Printer jammed"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, f.clock.Now(), s.EnqueuedAt)

	reopened := f.open(t)
	pending := reopened.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, s.ID, pending[0].ID)
	assert.Equal(t, "Printer jammed", pending[0].Payload["subject"])
	assert.True(t, s.EnqueuedAt.Equal(pending[0].EnqueuedAt))
}

func TestFileIsNotPlaintext(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)

	_, err := q.Enqueue(context.Background(), map[string]any{"subject": "very-secret-subject"})
	require.NoError(t, err)

	raw, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, "SKQ1", string(raw[:4]))
	assert.NotContains(t, string(raw), "very-secret-subject")
}

func TestListPendingIsInsertionOrderedCopy(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		s, err := q.Enqueue(ctx, map[string]any{"n": fmt.Sprint(i)})
		require.NoError(t, err)
		want = append(want, s.ID)
	}

	pending := q.ListPending()
	assert.Equal(t, want, ids(pending))

	pending[0].ID = "mutated"
	assert.Equal(t, want, ids(q.ListPending()))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, map[string]any{"n": "a"})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, map[string]any{"n": "b"})
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, a.ID))
	assert.Equal(t, []string{b.ID}, ids(q.ListPending()))

	assert.ErrorIs(t, q.Remove(ctx, a.ID), ErrNotFound)
	assert.ErrorIs(t, q.Remove(ctx, "unknown"), ErrNotFound)

	reopened := f.open(t)
	assert.Equal(t, []string{b.ID}, ids(reopened.ListPending()))
}

func TestRemoveUnknownDoesNotRewriteFile(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, map[string]any{"n": "a"})
	require.NoError(t, err)
	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	assert.ErrorIs(t, q.Remove(ctx, "unknown"), ErrNotFound)

	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnqueueSubmissionRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	_, err := q.EnqueueSubmission(ctx, Submission{ID: "fixed", Payload: map[string]any{}})
	require.NoError(t, err)

	_, err = q.EnqueueSubmission(ctx, Submission{ID: "fixed", Payload: map[string]any{}})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, q.Len())

	_, err = q.EnqueueSubmission(ctx, Submission{})
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestCapacityBound(t *testing.T) {
	f := newFixture(t)
	q, err := Open(Config{Path: f.path, MaxItems: 2}, f.keys, WithClock(f.clock))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, map[string]any{})
		require.NoError(t, err)
	}
	_, err = q.Enqueue(ctx, map[string]any{})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRecordAttempt(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	s, err := q.Enqueue(ctx, map[string]any{})
	require.NoError(t, err)

	require.NoError(t, q.RecordAttempt(ctx, s.ID, fmt.Errorf("connection refused")))
	require.NoError(t, q.RecordAttempt(ctx, s.ID, fmt.Errorf("status 503")))

	got, ok := f.open(t).Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "status 503", got.LastError)

	assert.ErrorIs(t, q.RecordAttempt(ctx, "unknown", nil), ErrNotFound)
}

func TestCorruptFileOpensEmptyAndReports(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.path, []byte("garbage that is not a queue"), 0600))

	var reported []Corruption
	q := f.open(t, WithCorruptionHandler(func(c Corruption) { reported = append(reported, c) }))

	assert.Equal(t, 0, q.Len())
	require.Len(t, reported, 1)
	assert.Equal(t, f.path, reported[0].Path)
	assert.NotEmpty(t, reported[0].QuarantinedTo)

	kept, err := os.ReadFile(reported[0].QuarantinedTo)
	require.NoError(t, err)
	assert.Equal(t, "garbage that is not a queue", string(kept))

	diag := q.Diagnostics()
	assert.Equal(t, 1, diag.Corruptions)
	require.NotNil(t, diag.LastCorruption)

	_, err = q.Enqueue(context.Background(), map[string]any{"n": "after"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.open(t).Len())
}

func TestFileFromAnotherKeyIsCorrupt(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	_, err := q.Enqueue(context.Background(), map[string]any{"n": "a"})
	require.NoError(t, err)

	other, err := keystore.Open(securestore.NewMemory())
	require.NoError(t, err)
	reopened, err := Open(Config{Path: f.path}, other, WithClock(f.clock))
	require.NoError(t, err)

	assert.Equal(t, 0, reopened.Len())
	assert.Equal(t, 1, reopened.Diagnostics().Corruptions)
}

// Random enqueue/remove sequences: after reopening, the queue holds exactly
// the enqueued minus removed items, in order, with payloads intact.
func TestRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for run := 0; run < 20; run++ {
		f := newFixture(t)
		q := f.open(t)

		var model []Submission
		for step := 0; step < 30; step++ {
			if len(model) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(model))
				require.NoError(t, q.Remove(ctx, model[i].ID))
				model = append(model[:i], model[i+1:]...)
				continue
			}
			s, err := q.Enqueue(ctx, map[string]any{
				"subject": fmt.Sprintf("run-%d-step-%d", run, step),
				"kiosk":   "lobby",
			})
			require.NoError(t, err)
			model = append(model, s)
		}

		got := f.open(t).ListPending()
		require.Equal(t, ids(model), ids(got), "run %d", run)
		for i := range model {
			assert.Equal(t, model[i].Payload, got[i].Payload)
		}
	}
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	q := f.open(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(ctx, map[string]any{"n": fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, q.Len())
	assert.Equal(t, 20, f.open(t).Len())
}
