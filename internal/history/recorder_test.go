package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	failures int
	calls    int
}

func (s *stubStore) AppendOccurrence(ctx context.Context, o *entity.Occurrence) error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("store temporarily unavailable")
	}
	return nil
}

type stubMetrics struct {
	appends int
}

func (m *stubMetrics) RecordHistoryAppend() {
	m.appends++
}

func testRecorder(store Store, collector Metrics) *Recorder {
	return NewRecorder(store, config.ResolverConfig{
		HistoryRetryAttempts: 3,
		HistoryRetryBackoff:  time.Millisecond,
	}, collector, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testOccurrence() *entity.Occurrence {
	return &entity.Occurrence{
		EntityID:     uuid.New(),
		OccurrenceID: "occ-1",
		ReportID:     "rpt-1",
		RawName:      "John Smith",
	}
}

func TestAppend(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		store := &stubStore{}
		err := testRecorder(store, nil).Append(context.Background(), testOccurrence())
		require.NoError(t, err)
		assert.Equal(t, 1, store.calls)
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		store := &stubStore{failures: 2}
		err := testRecorder(store, nil).Append(context.Background(), testOccurrence())
		require.NoError(t, err)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("exhausted attempts return the last error", func(t *testing.T) {
		store := &stubStore{failures: 3}
		err := testRecorder(store, nil).Append(context.Background(), testOccurrence())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "occ-1")
		assert.Equal(t, 3, store.calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		store := &stubStore{failures: 3}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := testRecorder(store, nil).Append(ctx, testOccurrence())
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, store.calls)
	})
}

func TestAppend_CountsStoredRecords(t *testing.T) {
	t.Run("counts once per stored record despite retries", func(t *testing.T) {
		store := &stubStore{failures: 2}
		collector := &stubMetrics{}
		err := testRecorder(store, collector).Append(context.Background(), testOccurrence())
		require.NoError(t, err)
		assert.Equal(t, 3, store.calls)
		assert.Equal(t, 1, collector.appends)
	})

	t.Run("failed appends are not counted", func(t *testing.T) {
		store := &stubStore{failures: 3}
		collector := &stubMetrics{}
		err := testRecorder(store, collector).Append(context.Background(), testOccurrence())
		require.Error(t, err)
		assert.Equal(t, 0, collector.appends)
	})
}
