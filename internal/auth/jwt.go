package auth

import (
	"errors"
	"fmt"
	"time"

	"call-ledger/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenTypeMismatch = errors.New("auth: token type mismatch")
	ErrMissingIdentity   = errors.New("auth: token lacks user, service or role")
)

// clockSkew tolerates small drift between collaborator hosts.
const clockSkew = 30 * time.Second

// Manager issues and verifies HS256 service tokens.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair mints an access token carrying role and a role-less refresh token,
// both bound to the calling service.
func (m *Manager) IssuePair(now time.Time, userID, service, role string) (TokenPair, error) {
	if userID == "" || service == "" || role == "" {
		return TokenPair{}, ErrMissingIdentity
	}
	access, err := m.sign(now, Claims{UserID: userID, Service: service, Role: role, TokenType: TokenTypeAccess}, m.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := m.sign(now, Claims{UserID: userID, Service: service, TokenType: TokenTypeRefresh}, m.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks signature and registered claims against now, then the ledger's
// own claims. Time checks run only once, on the supplied clock.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, fmt.Errorf("%w: want %s, got %q", ErrTokenTypeMismatch, expected, claims.TokenType)
	}
	if claims.UserID == "" || claims.Service == "" {
		return Claims{}, ErrMissingIdentity
	}
	// Refresh tokens never carry a role.
	if expected == TokenTypeAccess && claims.Role == "" {
		return Claims{}, ErrMissingIdentity
	}
	return claims, nil
}

func (m *Manager) sign(now time.Time, c Claims, ttl time.Duration) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   c.Service,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}
