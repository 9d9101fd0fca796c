// Package client is a Go client for the chat backend: a REST client, a
// live-connection reader and the session state a chat front end keeps.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response. Message is the server's "message" field
// when the body carried one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"fullName"`
	Bio          string `json:"bio,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// Partners is the sidebar listing: every other user plus unseen counts
// keyed by sender id.
type Partners struct {
	Users  []*domain.User  `json:"users"`
	Unseen map[int64]int64 `json:"unseenMessages"`
}

// API talks to the REST endpoints with a bearer token.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPI returns a client for baseURL, e.g. "http://localhost:5000". A nil
// httpClient gets one with a default timeout.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (a *API) BaseURL() string { return a.baseURL }

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *API) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var out AuthResult
	if err := a.do(ctx, http.MethodPost, "/api/auth/register", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out AuthResult
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Logout(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (a *API) Me(ctx context.Context) (*domain.User, error) {
	var out domain.User
	if err := a.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Partners(ctx context.Context) (*Partners, error) {
	var out Partners
	if err := a.do(ctx, http.MethodGet, "/api/message/users", nil, &out); err != nil {
		return nil, err
	}
	if out.Unseen == nil {
		out.Unseen = map[int64]int64{}
	}
	return &out, nil
}

func (a *API) Conversation(ctx context.Context, otherID int64) ([]*domain.Message, error) {
	var out struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/message/"+strconv.FormatInt(otherID, 10), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Send posts a message and returns the persisted copy.
func (a *API) Send(ctx context.Context, recipientID int64, text, image string) (*domain.Message, error) {
	body := map[string]string{"text": text, "image": image}
	var out struct {
		Message *domain.Message `json:"message"`
	}
	if err := a.do(ctx, http.MethodPut, "/api/message/send/"+strconv.FormatInt(recipientID, 10), body, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, errors.New("api: send response carried no message")
	}
	return out.Message, nil
}

func (a *API) MarkSeen(ctx context.Context, messageID int64) error {
	return a.do(ctx, http.MethodPatch, "/api/message/mark/"+strconv.FormatInt(messageID, 10), nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env)
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
