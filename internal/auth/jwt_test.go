package auth

import (
	"errors"
	"testing"
	"time"

	"call-ledger/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "call-control", "call_control")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Service != "call-control" || claims.Role != "call_control" || claims.Subject != "call-control" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "w", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("expected token type mismatch, got %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeRefresh, time.Now()); err != nil {
		t.Fatalf("refresh token should verify as refresh: %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	issuer, _ := NewManager(config.AuthConfig{JWTSecret: "one", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	verifier, _ := NewManager(config.AuthConfig{JWTSecret: "two", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := issuer.IssuePair(time.Now(), "u", "payment-gateway", "payment_gateway")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(p.AccessToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	now := time.Unix(1700000000, 0).UTC()
	p, err := m.IssuePair(now, "u", "admin-console", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now.Add(10*time.Minute)); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestIssuePairRequiresIdentity(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if _, err := m.IssuePair(time.Now(), "u", "", "admin"); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected missing identity, got %v", err)
	}
}
