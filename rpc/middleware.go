package rpc

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"lendpool/observability/metrics"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns a UUID to every request lacking one and echoes it in the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// RequestLogger emits one structured line per request and records the latency
// histogram.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.Lending().ObserveRequest(r.URL.Path, http.StatusText(status), elapsed.Seconds())
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", r.Header.Get(requestIDHeader),
			)
		})
	}
}

// SharedSecretAuth rejects requests that do not present the configured secret
// header. An empty secret disables the check.
func SharedSecretAuth(header, secret string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			presented := strings.TrimSpace(r.Header.Get(header))
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid shared secret"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
