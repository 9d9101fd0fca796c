package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

// SessionVerifier resolves a token to the identity of an existing user.
// Every call re-reads the user; there is no cache.
type SessionVerifier struct {
	tokens *TokenIssuer
	users  ports.UserRepository
}

func NewSessionVerifier(tokens *TokenIssuer, users ports.UserRepository) *SessionVerifier {
	return &SessionVerifier{tokens: tokens, users: users}
}

func (v *SessionVerifier) Verify(ctx context.Context, token string) (domain.Identity, error) {
	userID, err := v.tokens.Parse(token)
	if err != nil {
		return domain.Identity{}, err
	}

	user, err := v.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Identity{}, domain.ErrUnauthorized
		}
		return domain.Identity{}, fmt.Errorf("verify session: %w", err)
	}

	return domain.Identity{ID: user.ID, Email: user.Email}, nil
}
