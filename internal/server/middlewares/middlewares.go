package middlewares

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nebulafs/nebulafs/internal/auth"
	"github.com/nebulafs/nebulafs/internal/httputils"
	"github.com/nebulafs/nebulafs/internal/observability"
	"github.com/oklog/ulid/v2"
)

const serverHeaderValue = "NebulaFS"

type ClaimsContextKey struct{}

// MakeRequestIdMiddleware assigns a fresh request id to every request,
// echoes it in X-Request-Id and sets the Server header.
func MakeRequestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := ulid.Make().String()
		w.Header().Set("Server", serverHeaderValue)
		w.Header().Set("X-Request-Id", requestId)
		ctx := context.WithValue(r.Context(), httputils.RequestIdContextKey{}, requestId)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(statusCode int) {
	sr.statusCode = statusCode
	sr.ResponseWriter.WriteHeader(statusCode)
}

func (sr *statusRecorder) Write(data []byte) (int, error) {
	if sr.statusCode == 0 {
		sr.statusCode = http.StatusOK
	}
	return sr.ResponseWriter.Write(data)
}

// MakeObservabilityMiddleware records one structured log line and the
// request counters/latency for every handled request.
func MakeObservabilityMiddleware(metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)
		latency := time.Since(start)
		slog.Info("request handled",
			slog.String("request_id", httputils.RequestIdFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("target", r.RequestURI),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", recorder.statusCode),
			slog.Int64("latency_ms", latency.Milliseconds()))
		metrics.RecordRequest(r.Method, recorder.statusCode, latency.Seconds())
	})
}

// MakeBodyLimitMiddleware caps request bodies; reads past the cap fail and
// surface as payload-too-large.
func MakeBodyLimitMiddleware(maxBodyBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string, metricsPublic bool) bool {
	if path == "/healthz" || path == "/readyz" {
		return true
	}
	return metricsPublic && path == "/metrics"
}

// extractBearerToken pulls the token out of "Authorization: Bearer <token>".
// The scheme match is case-insensitive and surrounding whitespace is ignored.
func extractBearerToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(value)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// MakeAuthMiddleware enforces bearer-token auth before any body is read.
// Health endpoints stay public; /metrics is public only when configured so.
func MakeAuthMiddleware(verifier *auth.Verifier, enabled bool, metricsPublic bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !enabled || isPublicPath(r.URL.Path, metricsPublic) {
			next.ServeHTTP(w, r)
			return
		}
		token := extractBearerToken(r)
		if token == "" {
			httputils.WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			slog.Debug(fmt.Sprintf("Token verification failed: %s", err))
			httputils.WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
