package auth

import (
	"context"
	"time"

	"marketplace/internal/domain"
)

// UserStore is the credential store as seen by the orchestrator.
type UserStore interface {
	Create(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id int64) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	SetEmailConfirmed(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	IncrementAccessFailure(ctx context.Context, id int64) (int, error)
	SetAccessFailure(ctx context.Context, id int64, failedCount int, lockoutEnd *time.Time) error
	ResetAccessFailure(ctx context.Context, id int64) error
}
