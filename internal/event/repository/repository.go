package repository

import (
	"context"
	"time"

	"authguard/core/internal/event/domain"
)

// Filter narrows a List query. Zero values mean no constraint; Limit 0 means
// the repository default.
type Filter struct {
	AccountID string
	Types     []domain.EventType
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Repository defines persistence for the security event log. The log is
// append-only: there is no update or delete.
type Repository interface {
	Create(ctx context.Context, e *domain.SecurityEvent) error
	// List returns events matching the filter ordered by insertion (id ascending).
	List(ctx context.Context, f Filter) ([]*domain.SecurityEvent, error)
}
