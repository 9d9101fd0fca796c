package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sirpyerre/duochat/internal/core/domain"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
}

func TestTokenIssuer_PayloadCarriesIDOnly(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, _ := issuer.Issue(7)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	if claims["id"] != float64(7) {
		t.Fatalf("expected id claim 7, got %v", claims["id"])
	}
	for k := range claims {
		if k != "id" && k != "exp" && k != "iat" {
			t.Fatalf("unexpected claim %q", k)
		}
	}
}

func TestTokenIssuer_DefaultTTLIsOneDay(t *testing.T) {
	issuer := NewTokenIssuer("secret", 0)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	token, _ := issuer.Issue(1)

	issuer.now = func() time.Time { return now.Add(23 * time.Hour) }
	if _, err := issuer.Parse(token); err != nil {
		t.Fatalf("token should still be valid after 23h: %v", err)
	}

	issuer.now = func() time.Time { return now.Add(25 * time.Hour) }
	if _, err := issuer.Parse(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after expiry, got %v", err)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	other := NewTokenIssuer("other-secret", time.Hour)
	foreign, _ := other.Issue(1)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           1,
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 1})
	noExpToken, _ := noExp.SignedString([]byte("secret"))

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"wrong secret":   foreign,
		"alg none":       unsigned,
		"missing expiry": noExpToken,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := issuer.Parse(tok); !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
