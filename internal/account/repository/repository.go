package repository

import (
	"context"
	"errors"

	"authguard/core/internal/account/domain"
)

// ErrVersionConflict is returned by UpdateCAS when the row's version no longer
// matches the expected version, i.e. a concurrent writer got there first.
var ErrVersionConflict = errors.New("account version conflict")

// Repository defines persistence for accounts. Get* return (nil, nil) when the
// row does not exist; errors are reserved for storage failures.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// UpdateCAS applies apply to the account and persists it only if the stored
	// version still equals expectedVersion; the write bumps the version. Returns
	// ErrVersionConflict on a lost race so callers can re-read and retry.
	UpdateCAS(ctx context.Context, id string, expectedVersion int64, apply func(*domain.Account)) error
}
