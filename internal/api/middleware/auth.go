package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

// CookieName is the httpOnly cookie carrying the session token for browser
// clients.
const CookieName = "authToken"

const identityKey = "identity"

// Auth verifies the session token and stores the caller's identity on the
// context. The token is read from the bearer Authorization header, falling
// back to the authToken cookie.
func Auth(verifier ports.SessionVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c.Request())
			if token == "" {
				return domain.ErrUnauthorized
			}

			id, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				return err
			}

			SetIdentity(c, id)
			return next(c)
		}
	}
}

// TokenFromRequest returns the session token carried by r, or "".
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	if ck, err := r.Cookie(CookieName); err == nil {
		return ck.Value
	}
	return ""
}

func SetIdentity(c echo.Context, id domain.Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c echo.Context) (domain.Identity, bool) {
	id, ok := c.Get(identityKey).(domain.Identity)
	if !ok || id.IsZero() {
		return domain.Identity{}, false
	}
	return id, true
}
