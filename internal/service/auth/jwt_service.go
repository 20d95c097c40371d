// Package auth verifies the bearer tokens that identify API callers.
// Tokens are only used to attribute tasks to their creator; there is no
// login flow in this service.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenLifetime is the lifetime of tokens issued by GenerateToken.
const DefaultTokenLifetime = time.Hour

// JWTService issues and verifies HMAC-signed access tokens.
type JWTService interface {
	// GenerateToken creates a signed access token for userID.
	GenerateToken(ctx context.Context, userID uuid.UUID) (string, error)

	// ValidateToken validates the token and extracts its claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the verified contents of an access token.
type Claims struct {
	UserID    uuid.UUID `json:"uid,omitempty"`
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
