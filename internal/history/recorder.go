// Package history appends the immutable per-occurrence trail. Appends
// are at-least-once: the store's (entity_id, occurrence_id) key makes
// replays no-ops, so retrying here can never duplicate a record.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
)

// Store is the persistence surface the recorder needs.
type Store interface {
	AppendOccurrence(ctx context.Context, o *entity.Occurrence) error
}

// Metrics counts successful appends. A record that only survived on a
// retry still counts once.
type Metrics interface {
	RecordHistoryAppend()
}

// Recorder appends occurrence records with bounded retries.
type Recorder struct {
	store     Store
	attempts  int
	backoff   time.Duration
	collector Metrics
	logger    *slog.Logger
}

// NewRecorder creates a new history recorder. A nil collector disables
// append metrics.
func NewRecorder(store Store, cfg config.ResolverConfig, collector Metrics, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		attempts:  cfg.HistoryRetryAttempts,
		backoff:   cfg.HistoryRetryBackoff,
		collector: collector,
		logger:    logger,
	}
}

// Append writes one occurrence record, retrying transient store
// failures. If every attempt fails the occurrence is reported failed
// so the caller can replay it in full.
func (r *Recorder) Append(ctx context.Context, o *entity.Occurrence) error {
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = r.store.AppendOccurrence(ctx, o)
		if lastErr == nil {
			if r.collector != nil {
				r.collector.RecordHistoryAppend()
			}
			return nil
		}

		r.logger.Warn("history append failed",
			"entity_id", o.EntityID,
			"occurrence_id", o.OccurrenceID,
			"attempt", attempt,
			"error", lastErr)

		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}

	return fmt.Errorf("history append for occurrence %s: %w", o.OccurrenceID, lastErr)
}
