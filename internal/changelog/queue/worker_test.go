package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changetrail/internal/changelog/models"
)

type fakeStore struct {
	mu      sync.Mutex
	records []*models.Record
	// failures is the number of Insert calls that fail before success.
	failures int
	calls    int
}

func (s *fakeStore) Insert(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("transient store error")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) stored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord() *models.Record {
	return &models.Record{ID: uuid.New(), SubjectType: "user", SubjectID: "42", Action: models.ActionUpdate}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerPersistsSubmittedRecords(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, 8, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.NoError(t, w.Submit(ctx, testRecord()))
	require.NoError(t, w.Submit(ctx, testRecord()))

	waitFor(t, func() bool { return store.stored() == 2 })
	cancel()
	<-done
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	store := &fakeStore{failures: 2}
	w := NewWorker(store, 8, testLogger(), WithWorkerPolicy(Policy{Attempts: 3, Timeout: time.Second}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, w.Submit(ctx, testRecord()))

	waitFor(t, func() bool { return store.stored() == 1 })
}

func TestWorkerReportsExhaustedRecord(t *testing.T) {
	store := &fakeStore{failures: 100}
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := slog.New(slog.NewTextHandler(lockedWriter{&mu, &buf}, nil))
	w := NewWorker(store, 8, logger, WithWorkerPolicy(Policy{Attempts: 2, Timeout: time.Second}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	rec := testRecord()
	require.NoError(t, w.Submit(ctx, rec))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Contains(buf.Bytes(), []byte("failed to persist change record"))
	})
	mu.Lock()
	assert.Contains(t, buf.String(), rec.ID.String(), "terminal failures must log the payload")
	mu.Unlock()
	assert.Zero(t, store.stored())
}

func TestWorkerSubmitFullBuffer(t *testing.T) {
	w := NewWorker(&fakeStore{}, 1, testLogger())

	// No worker is draining, so the second submit hits a full buffer.
	require.NoError(t, w.Submit(context.Background(), testRecord()))
	err := w.Submit(context.Background(), testRecord())

	require.ErrorContains(t, err, "deferred queue full")
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, 8, testLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Submit(context.Background(), testRecord()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, store.stored(), "accepted records survive shutdown")
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
