package event

import (
	"context"
	"log/slog"
	"time"

	"authguard/core/internal/event/domain"
	"authguard/core/internal/event/producer"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync
// and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait before tearing down the producer on
// shutdown so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine so the caller is not blocked. Best-effort:
// errors are logged. p and e may be nil; EmitAsync then returns without starting
// a goroutine. The goroutine uses context.Background() with emitTimeout so
// request cancellation does not abort an in-flight emit.
func EmitAsync(p producer.Producer, e *domain.SecurityEvent) {
	if p == nil || e == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := p.Emit(emitCtx, e); err != nil {
			slog.Warn("async security event emit failed", "event_type", e.Type, "error", err)
		}
	}()
}
