package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

const bcryptCost = 12

// AuthService implements registration, login and profile lookup.
type AuthService struct {
	repo   ports.UserRepository
	tokens *TokenIssuer
	log    zerolog.Logger
	now    func() time.Time
}

func NewAuthService(repo ports.UserRepository, tokens *TokenIssuer, log zerolog.Logger) *AuthService {
	return &AuthService{repo: repo, tokens: tokens, log: log, now: time.Now}
}

// Register creates the account and returns a session token for it. The
// email uniqueness check is left to the repository so that two concurrent
// sign-ups with the same address cannot both succeed.
func (s *AuthService) Register(ctx context.Context, in ports.RegisterInput) (string, *domain.User, error) {
	email := normalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	if email == "" || in.Password == "" || fullName == "" {
		return "", nil, domain.ValidationError("email, password and fullName are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", nil, domain.ValidationError("email must be a valid email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	user, err := s.repo.Create(ctx, &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		Bio:          strings.TrimSpace(in.Bio),
		ProfileImage: strings.TrimSpace(in.ProfileImage),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return "", nil, err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", nil, err
	}

	s.log.Info().Int64("user_id", user.ID).Msg("user registered")
	return token, user, nil
}

// Login checks the password and issues a token. An unknown email and a wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, domain.ValidationError("email and password are required")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", nil, err
	}

	s.log.Debug().Int64("user_id", user.ID).Msg("user logged in")
	return token, user, nil
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, caller domain.Identity) (*domain.User, error) {
	if caller.IsZero() {
		return nil, domain.ErrUnauthorized
	}
	return s.repo.FindByID(ctx, caller.ID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
