package handler

import "github.com/sirpyerre/duochat/internal/core/domain"

// --- Requests ---

type registerRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,max=72"`
	FullName     string `json:"fullName" validate:"required,max=120"`
	Bio          string `json:"bio" validate:"max=500"`
	ProfileImage string `json:"profileImage" validate:"max=2048"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type sendMessageRequest struct {
	Text  string `json:"text" validate:"max=4000"`
	Image string `json:"image" validate:"max=2048"`
}

// --- Responses ---

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type partnersResponse struct {
	Success bool           `json:"success"`
	Users   []*domain.User `json:"users"`
	// Keyed by sender id; senders with nothing unseen are absent.
	UnseenMessages map[int64]int64 `json:"unseenMessages"`
}

type conversationResponse struct {
	Success  bool              `json:"success"`
	Messages []*domain.Message `json:"messages"`
}

type sendMessageResponse struct {
	Success bool            `json:"success"`
	Message *domain.Message `json:"message"`
}
