// Package event owns the security event log: append-only persistence plus
// best-effort mirroring to the Kafka stream for external monitoring.
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"authguard/core/internal/event/domain"
	"authguard/core/internal/event/producer"
	"authguard/core/internal/event/repository"
)

// Recorder appends security events. Recording never fails the primary
// operation: persistence errors are logged, counted, and the event is still
// pushed to the stream so monitoring sees what the log missed.
type Recorder struct {
	repo           repository.Repository
	producer       producer.Producer
	logger         *slog.Logger
	appendFailures metric.Int64Counter
}

// NewRecorder returns a Recorder. producer and appendFailures may be nil.
func NewRecorder(repo repository.Repository, p producer.Producer, logger *slog.Logger, appendFailures metric.Int64Counter) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, producer: p, logger: logger, appendFailures: appendFailures}
}

// Record persists the event and mirrors it to the stream. Always returns; the
// caller's operation must not depend on the log being writable.
func (r *Recorder) Record(ctx context.Context, e *domain.SecurityEvent) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("security event append failed",
			"event_type", e.Type, "account_id", e.AccountID, "error", err)
		if r.appendFailures != nil {
			r.appendFailures.Add(ctx, 1)
		}
	}
	EmitAsync(r.producer, e)
}
