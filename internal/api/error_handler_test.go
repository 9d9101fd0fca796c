package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sirpyerre/duochat/internal/api/handler"
	"github.com/sirpyerre/duochat/internal/core/domain"
)

func TestHTTPErrorHandler(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"validation", domain.ValidationError("text or image is required"), http.StatusBadRequest, "text or image is required"},
		{"invalid credentials", domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
		{"wrapped unauthorized", errors.Join(domain.ErrUnauthorized, errors.New("token is expired")), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "access forbidden"},
		{"user not found", fmt.Errorf("lookup: %w", domain.ErrUserNotFound), http.StatusNotFound, "user not found"},
		{"message not found", domain.ErrMessageNotFound, http.StatusNotFound, "message not found"},
		{"conflict", domain.ErrUserExists, http.StatusConflict, "user already exists"},
		{"echo error", echo.NewHTTPError(http.StatusTooManyRequests, "too many requests"), http.StatusTooManyRequests, "too many requests"},
		{"unexpected", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal server error"},
	}

	h := NewHTTPErrorHandler(zerolog.Nop())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			h(tc.err, c)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			var body handler.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Success {
				t.Fatalf("success must be false")
			}
			if body.Message != tc.wantMsg {
				t.Fatalf("message = %q, want %q", body.Message, tc.wantMsg)
			}
		})
	}
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Response().WriteHeader(http.StatusSwitchingProtocols)

	NewHTTPErrorHandler(zerolog.Nop())(domain.ErrForbidden, c)

	if rec.Body.Len() != 0 {
		t.Fatalf("nothing must be written after commit, got %q", rec.Body.String())
	}
}
