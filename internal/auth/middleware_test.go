package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := UserID(r.Context())
		require.NoError(t, err, "handler ran without an identity in context")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(subject))
	})
}

func TestRequireAuthPassesVerifiedIdentity(t *testing.T) {
	issuer, verifier := newTestPair(t, time.Hour)
	handler := RequireAuth(verifier)(protectedEcho(t))

	token, err := issuer.Issue("user-123", time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", rec.Body.String())
}

func TestRequireAuthRejectsUniformly(t *testing.T) {
	issuer, verifier := newTestPair(t, time.Hour)
	handler := RequireAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a rejected request")
	}))

	expired, err := issuer.Issue("user-123", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	cases := map[string]string{
		"no header":        "",
		"not bearer":       "Basic abc123",
		"empty bearer":     "Bearer ",
		"garbage token":    "Bearer garbage",
		"expired token":    "Bearer " + expired,
		"lowercase scheme": "bearer",
	}

	var bodies []string
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		bodies = append(bodies, rec.Body.String())
	}

	// Every failure mode produces the same response body.
	for _, body := range bodies {
		assert.Equal(t, bodies[0], body)
	}
}

func TestBearerTokenCaseInsensitiveScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer some-token")

	token, err := BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "some-token", token)
}

func TestUserIDMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := UserID(req.Context())
	assert.Error(t, err)
}
