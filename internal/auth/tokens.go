package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aidanwoods.dev/go-paseto"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/id"
)

const (
	tokenIssuer   = "bibmerge"
	tokenAudience = "bibmerge-api"
)

// TokenService handles PASETO token generation and verification.
type TokenService struct {
	symmetricKey paseto.V4SymmetricKey
	duration     time.Duration
}

// NewTokenService creates a token service from a 32-byte key.
func NewTokenService(key []byte, duration time.Duration) (*TokenService, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d bytes, got %d", keyLength, len(key))
	}
	if duration <= 0 {
		return nil, fmt.Errorf("token duration must be positive, got %s", duration)
	}

	symmetricKey, err := paseto.V4SymmetricKeyFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	return &TokenService{
		symmetricKey: symmetricKey,
		duration:     duration,
	}, nil
}

// Issue creates a new PASETO v4.local token for an operator.
// The token is encrypted and carries the granted scopes.
func (s *TokenService) Issue(operator string, scopes ...string) (string, *Claims, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", nil, domainerrors.Validation("operator name is required")
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeDedup}
	}

	now := time.Now()
	tokenID, err := id.Generate(id.PrefixToken)
	if err != nil {
		return "", nil, fmt.Errorf("generate token ID: %w", err)
	}

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetSubject(operator)
	token.SetAudience(tokenAudience)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(s.duration))
	token.SetJti(tokenID)

	//nolint:errcheck // Token.Set only errors on invalid types, which we control
	_ = token.Set("operator", operator)
	//nolint:errcheck // Token.Set only errors on invalid types, which we control
	_ = token.Set("scopes", scopes)

	claims := &Claims{
		Operator:   operator,
		Scopes:     scopes,
		Issuer:     tokenIssuer,
		Subject:    operator,
		Audience:   tokenAudience,
		Expiration: now.Add(s.duration),
		NotBefore:  now,
		IssuedAt:   now,
		TokenID:    tokenID,
	}
	return token.V4Encrypt(s.symmetricKey, nil), claims, nil
}

// Verify verifies and parses a PASETO token.
// Returns the claims if valid, or an unauthorized error if invalid or expired.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	parser := paseto.NewParser()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.NotExpired())
	parser.AddRule(paseto.ValidAt(time.Now()))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return nil, domainerrors.Unauthorized("invalid token").WithCause(err)
	}

	var claims Claims
	if err := json.Unmarshal(token.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &claims, nil
}

// Duration returns the configured token lifetime.
func (s *TokenService) Duration() time.Duration {
	return s.duration
}
