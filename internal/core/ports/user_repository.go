package ports

import (
	"context"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

// UserRepository persists user accounts.
type UserRepository interface {
	// Create inserts the user and returns it with its server-assigned ID.
	// A duplicate email yields domain.ErrUserExists.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// ListExcept returns every user other than id, ordered by ID.
	ListExcept(ctx context.Context, id int64) ([]*domain.User, error)
}
