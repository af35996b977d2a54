package auth

import (
	"net/http"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/observability/metrics"
	obsmw "github.com/tinywideclouds/go-push-relay/internal/observability/middleware"
)

// WithVerifier runs an external token verifier (the identity service's JWKS
// middleware) behind the presence check. Any response the verifier writes
// without calling through is replaced by the relay's error envelope with the
// same status.
func (g *Gate) WithVerifier(verifier func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ew := &envelopeWriter{ResponseWriter: w}
			verifier(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ew.passed = true
				next.ServeHTTP(w, r)
			})).ServeHTTP(ew, r)

			if !ew.passed && ew.status != 0 {
				metrics.AuthenticationAttemptsTotal.WithLabelValues("jwks", "failure").Inc()
				g.logger.Warn("Request rejected by token verifier",
					"status", ew.status, "request_id", obsmw.RequestIDFromContext(r.Context()))
			}
		}))
	}
}

// envelopeWriter passes writes through once the verifier has accepted the
// request. Before that, the first status written is answered with the
// envelope and the verifier's own body is discarded.
type envelopeWriter struct {
	http.ResponseWriter
	passed bool
	status int
}

func (w *envelopeWriter) WriteHeader(code int) {
	if w.passed {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if w.status != 0 {
		return
	}
	w.status = code
	msg := http.StatusText(code)
	if code == http.StatusUnauthorized {
		msg = "Unauthorized"
	}
	api.WriteEnvelopeError(w.ResponseWriter, code, msg, nil)
}

func (w *envelopeWriter) Write(b []byte) (int, error) {
	if w.passed {
		return w.ResponseWriter.Write(b)
	}
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return len(b), nil
}
