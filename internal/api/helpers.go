package api

import (
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bibmerge/bibmerge/internal/auth"
)

// authenticateRequest validates the Authorization header and requires scope.
// It returns the verified claims.
func (s *Server) authenticateRequest(authHeader, scope string) (*auth.Claims, error) {
	if s.services.Tokens == nil {
		return nil, huma.Error503ServiceUnavailable("Token verification is not configured")
	}
	if authHeader == "" {
		return nil, huma.Error401Unauthorized("Missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, huma.Error401Unauthorized("Invalid authorization header format")
	}

	claims, err := s.services.Tokens.Verify(parts[1])
	if err != nil {
		return nil, huma.Error401Unauthorized("Invalid or expired token")
	}
	if !claims.HasScope(scope) {
		return nil, huma.Error403Forbidden("Token lacks the " + scope + " scope")
	}

	return claims, nil
}

// splitList parses a comma-separated query value, dropping blanks.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return slices.Clip(out)
}
