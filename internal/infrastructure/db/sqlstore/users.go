package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

type UserRepository struct {
	store *Store
}

const userColumns = "id, email, password_hash, full_name, bio, profile_image, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                domain.User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Bio, &u.ProfileImage, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) (*domain.User, error) {
	query := r.store.rebind(`INSERT INTO users (email, password_hash, full_name, bio, profile_image, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	var id int64
	err := r.store.db.QueryRowContext(ctx, query,
		u.Email, u.PasswordHash, u.FullName, u.Bio, u.ProfileImage, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	created := *u
	created.ID = id
	created.CreatedAt = fromMillis(toMillis(u.CreatedAt))
	created.UpdatedAt = fromMillis(toMillis(u.UpdatedAt))
	return &created, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	query := r.store.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	return r.findOne(ctx, query, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := r.store.rebind("SELECT " + userColumns + " FROM users WHERE email = ?")
	return r.findOne(ctx, query, email)
}

// ListExcept returns every user other than id, ordered by id.
func (r *UserRepository) ListExcept(ctx context.Context, id int64) ([]*domain.User, error) {
	query := r.store.rebind("SELECT " + userColumns + " FROM users WHERE id <> ? ORDER BY id")
	rows, err := r.store.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(r.store.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}
