package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Service names the collaborator holding the token (call-control, payment-gateway, admin console)
// and must be present on every token.
// Admin override capabilities are represented via server-side RBAC checks, not claims.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Service   string    `json:"service"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
