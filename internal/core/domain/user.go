package domain

import "time"

// User models a registered chat participant.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Bio          string    `json:"bio,omitempty"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity is what the session verifier resolves a token to. It is passed
// explicitly to services instead of being read from the request.
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// IsZero reports whether no user has been resolved.
func (i Identity) IsZero() bool {
	return i.ID == 0
}
