// Package auth implements the bearer gate placed in front of every relay
// route.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/observability/metrics"
	obsmw "github.com/tinywideclouds/go-push-relay/internal/observability/middleware"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// Gate rejects requests without an Authorization header. When a secret is
// configured the header must also carry an HS256 bearer token with a subject,
// which is then placed on the request context as the user id.
type Gate struct {
	secret []byte
	issuer string
	logger *slog.Logger
}

func NewGate(secret, issuer string, logger *slog.Logger) *Gate {
	g := &Gate{issuer: issuer, logger: logger.With("component", "AuthGate")}
	if secret != "" {
		g.secret = []byte(secret)
	}
	return g
}

// Validating reports whether tokens are verified or only required to be present.
func (g *Gate) Validating() bool {
	return g.secret != nil
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	method := "presence"
	if g.Validating() {
		method = "hmac"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := obsmw.RequestIDFromContext(r.Context())

		raw := r.Header.Get("Authorization")
		if raw == "" {
			g.reject(w, method, "missing authorization header", reqID)
			return
		}
		if !g.Validating() {
			metrics.AuthenticationAttemptsTotal.WithLabelValues(method, "success").Inc()
			next.ServeHTTP(w, r)
			return
		}

		tokStr, found := strings.CutPrefix(raw, "Bearer ")
		if !found {
			g.reject(w, method, "missing bearer token", reqID)
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(tokStr), claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return g.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			g.logger.Warn("Invalid bearer token", "err", err, "request_id", reqID)
			g.reject(w, method, "invalid token", reqID)
			return
		}

		if iss, _ := claims.GetIssuer(); g.issuer != "" && iss != g.issuer {
			g.reject(w, method, "issuer mismatch", reqID)
			return
		}
		sub, _ := claims.GetSubject()
		if sub == "" {
			g.reject(w, method, "no subject", reqID)
			return
		}

		metrics.AuthenticationAttemptsTotal.WithLabelValues(method, "success").Inc()
		next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), sub)))
	})
}

func (g *Gate) reject(w http.ResponseWriter, method, reason, reqID string) {
	metrics.AuthenticationAttemptsTotal.WithLabelValues(method, "failure").Inc()
	g.logger.Warn("Request rejected by auth gate", "reason", reason, "request_id", reqID)
	api.WriteEnvelopeError(w, api.StatusFor(dispatch.KindUnauthorized), "Unauthorized", nil)
}
