package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pistonhq/piston/internal/config"
)

func TestExtractBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer sk-test-123")

	token, err := ExtractBearerToken(r)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", token)
}

func TestExtractBearerTokenErrors(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			_, err := ExtractBearerToken(r)
			assert.Error(t, err)
		})
	}
}

func TestAuthenticateKey(t *testing.T) {
	keys := []config.APIKey{
		{Key: "sk-admin", Scopes: []string{"*"}},
		{Key: "sk-reader", Scopes: []string{"plugins:ro", "tasks:ro"}},
	}

	p, ok := AuthenticateKey("sk-admin", keys)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "anything"))

	p, ok = AuthenticateKey("sk-reader", keys)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, "plugins:ro"))
	assert.False(t, HasAnyScope(p, "tasks:rw"))

	_, ok = AuthenticateKey("sk-wrong", keys)
	assert.False(t, ok)

	_, ok = AuthenticateKey("", keys)
	assert.False(t, ok)
}

func TestWriteScopeImpliesRead(t *testing.T) {
	scopes := NormalizeScopes([]string{"tasks:rw"})
	_, ok := scopes["tasks:ro"]
	assert.True(t, ok)
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	p := Principal{Subject: "api-key", Scopes: NormalizeScopes([]string{"execute"})}

	ctx := WithPrincipal(r.Context(), p)
	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "api-key", got.Subject)

	_, ok = PrincipalFromContext(r.Context())
	assert.False(t, ok)
}
