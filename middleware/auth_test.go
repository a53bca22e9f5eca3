package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClerkJWT builds a syntactically valid token that no Clerk instance ever
// signed, so verification must reject it.
func mockClerkJWT(t *testing.T, clerkID string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": clerkID,
		"iss": "https://clerk.test",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"sid": "sess_test123",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret-key-for-testing-only"))
	require.NoError(t, err)
	return signed
}

func authedProbe() (http.Handler, *bool, *string) {
	reached := false
	var gotClerkID string
	h := ClerkAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		gotClerkID, _ = GetClerkID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &reached, &gotClerkID
}

func TestClerkAuthMiddlewareMissingHeader(t *testing.T) {
	h, reached, _ := authedProbe()

	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, *reached)
	assert.Contains(t, rr.Body.String(), "Authorization header required")
}

func TestClerkAuthMiddlewareBadFormat(t *testing.T) {
	h, reached, _ := authedProbe()

	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	req.Header.Set("Authorization", "Token abc123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, *reached)
}

func TestClerkAuthMiddlewareForgedToken(t *testing.T) {
	h, reached, _ := authedProbe()

	req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
	req.Header.Set("Authorization", "Bearer "+mockClerkJWT(t, "user_test123"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, *reached)
}

func TestGetClerkID(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClerkIDKey, "user_abc")
	id, ok := GetClerkID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user_abc", id)

	_, ok = GetClerkID(context.Background())
	assert.False(t, ok)
}
