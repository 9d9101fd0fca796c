package ports

import (
	"context"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Email        string
	Password     string
	FullName     string
	Bio          string
	ProfileImage string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (token string, user *domain.User, err error)
	Login(ctx context.Context, email, password string) (token string, user *domain.User, err error)
	Me(ctx context.Context, caller domain.Identity) (*domain.User, error)
}

// SessionVerifier resolves a bearer credential to the identity it was issued for.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}
