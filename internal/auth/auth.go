package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/pistonhq/piston/internal/config"
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Scopes  map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken pulls the token from an Authorization: Bearer header.
func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AuthenticateKey matches a presented API key against configured keys.
func AuthenticateKey(presented string, keys []config.APIKey) (Principal, bool) {
	for _, k := range keys {
		if constantTimeEqual(presented, k.Key) {
			return Principal{
				Subject: "api-key",
				Scopes:  NormalizeScopes(k.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

// NormalizeScopes builds a scope set, dropping blanks. A rw scope for a
// well-known resource implies its ro counterpart.
func NormalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	if _, ok := out["plugins:rw"]; ok {
		out["plugins:ro"] = struct{}{}
	}
	if _, ok := out["tasks:rw"]; ok {
		out["tasks:ro"] = struct{}{}
	}
	if _, ok := out["events:rw"]; ok {
		out["events:ro"] = struct{}{}
	}
	return out
}

// HasAnyScope reports whether the principal holds any of the required
// scopes. The wildcard scope "*" satisfies everything.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes["*"]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
