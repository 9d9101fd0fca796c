package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

type stubVerifier struct {
	tokens map[string]domain.Identity
	err    error
	calls  int
}

func (s *stubVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	s.calls++
	if s.err != nil {
		return domain.Identity{}, s.err
	}
	id, ok := s.tokens[token]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return id, nil
}

func newVerifier() *stubVerifier {
	return &stubVerifier{tokens: map[string]domain.Identity{
		"good": {ID: 1, Email: "alice@example.com"},
	}}
}

func runAuth(t *testing.T, v *stubVerifier, req *http.Request) (domain.Identity, bool, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var (
		got    domain.Identity
		called bool
	)
	h := Auth(v)(func(c echo.Context) error {
		called = true
		got, _ = IdentityFrom(c)
		return c.NoContent(http.StatusOK)
	})
	err := h(c)
	return got, called, err
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")

	id, called, err := runAuth(t, newVerifier(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
	if id.ID != 1 || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestAuthMiddleware_CookieFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "good"})

	id, called, err := runAuth(t, newVerifier(), req)
	if err != nil || !called || id.ID != 1 {
		t.Fatalf("cookie auth failed: id=%+v called=%v err=%v", id, called, err)
	}
}

func TestAuthMiddleware_MalformedHeaderFallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token good")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "good"})

	if _, called, err := runAuth(t, newVerifier(), req); err != nil || !called {
		t.Fatalf("expected cookie to be used, err=%v", err)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	v := newVerifier()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, called, err := runAuth(t, v, req)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if called {
		t.Fatalf("next must not be called")
	}
	if v.calls != 0 {
		t.Fatalf("verifier must not be called without a token")
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer forged")

	_, called, err := runAuth(t, newVerifier(), req)
	if !errors.Is(err, domain.ErrUnauthorized) || called {
		t.Fatalf("expected rejection, called=%v err=%v", called, err)
	}
}

func TestAuthMiddleware_VerifierFailurePropagates(t *testing.T) {
	v := newVerifier()
	v.err = errors.New("db down")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")

	_, called, err := runAuth(t, v, req)
	if err == nil || errors.Is(err, domain.ErrUnauthorized) || called {
		t.Fatalf("expected internal error, called=%v err=%v", called, err)
	}
}

func TestIdentityFrom_Missing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, ok := IdentityFrom(c); ok {
		t.Fatalf("expected no identity")
	}
}
