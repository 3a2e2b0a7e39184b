package rpc

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendpool/native/lending"
)

// RouterConfig carries the cross-cutting settings for the HTTP surface.
type RouterConfig struct {
	SecretHeader string
	SecretValue  string
	Logger       *slog.Logger
}

// NewRouter assembles the full HTTP handler: health and metrics endpoints are
// open, the pool API sits behind the shared-secret check.
func NewRouter(engine *lending.Engine, cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	server := NewServer(engine, log)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(gr chi.Router) {
		gr.Use(SharedSecretAuth(cfg.SecretHeader, cfg.SecretValue))
		server.Mount(gr)
	})

	return r
}
