package auth_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/auth"
)

const testSecret = "test-secret"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

// serve runs one request through the gate and reports the subject seen by
// the wrapped handler.
func serve(gate *auth.Gate, header string) (*httptest.ResponseRecorder, string, bool) {
	var subject string
	var reached bool
	h := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		subject, _ = middleware.GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/notify", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, subject, reached
}

func TestGate_PresenceOnly(t *testing.T) {
	gate := auth.NewGate("", "", newTestLogger())
	require.False(t, gate.Validating())

	t.Run("passes any non-empty header", func(t *testing.T) {
		w, _, reached := serve(gate, "anything")
		assert.True(t, reached)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects a missing header with the envelope", func(t *testing.T) {
		w, _, reached := serve(gate, "")
		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, map[string]any{"success": false, "error": "Unauthorized"}, body)
	})
}

func TestGate_HMAC(t *testing.T) {
	gate := auth.NewGate(testSecret, "issuer-a", newTestLogger())
	require.True(t, gate.Validating())
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("accepts a valid token and exposes its subject", func(t *testing.T) {
		tok := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "iss": "issuer-a", "exp": exp})
		w, subject, reached := serve(gate, "Bearer "+tok)
		assert.True(t, reached)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", subject)
	})

	testCases := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{"non-bearer header", func(t *testing.T) string { return "Basic abc" }},
		{"wrong secret", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u1", "exp": exp})
		}},
		{"expired token", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})
		}},
		{"issuer mismatch", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "iss": "issuer-b", "exp": exp})
		}},
		{"missing subject", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"iss": "issuer-a", "exp": exp})
		}},
		{"other hmac algorithm", func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "u1", "exp": exp})
		}},
	}
	for _, tc := range testCases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			w, _, reached := serve(gate, tc.header(t))
			assert.False(t, reached)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestGate_WithVerifier(t *testing.T) {
	// verifier stands in for the identity service's JWKS middleware, which
	// answers rejections with its own plain body.
	verifier := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer good" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), "u7")))
		})
	}
	gate := auth.NewGate("", "", newTestLogger())

	run := func(header string) (*httptest.ResponseRecorder, string, bool) {
		var subject string
		var reached bool
		h := gate.WithVerifier(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			subject, _ = middleware.GetUserIDFromContext(r.Context())
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"success":true}`))
		}))
		req := httptest.NewRequest(http.MethodPost, "/notify", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w, subject, reached
	}

	t.Run("rewrites a verifier rejection into the envelope", func(t *testing.T) {
		w, _, reached := run("Bearer bad")

		assert.False(t, reached)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, w.Body.String())
	})

	t.Run("still requires the header before verifying", func(t *testing.T) {
		w, _, reached := run("")

		assert.False(t, reached)
		assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, w.Body.String())
	})

	t.Run("passes accepted requests through untouched", func(t *testing.T) {
		w, subject, reached := run("Bearer good")

		assert.True(t, reached)
		assert.Equal(t, "u7", subject)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, `{"success":true}`, w.Body.String())
	})
}
