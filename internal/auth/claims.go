package auth

import (
	"slices"
	"time"
)

// Scopes an operator token can carry.
const (
	// ScopeDedup allows triggering deduplication through the API.
	ScopeDedup = "dedup"
)

// Claims represents the claims stored in a PASETO operator token.
// These are encrypted in v4.local tokens, so they're not readable without the key.
type Claims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes"`

	// Standard PASETO claims
	Issuer     string    `json:"iss"`
	Subject    string    `json:"sub"`
	Audience   string    `json:"aud"`
	Expiration time.Time `json:"exp"`
	NotBefore  time.Time `json:"nbf"`
	IssuedAt   time.Time `json:"iat"`
	TokenID    string    `json:"jti"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
