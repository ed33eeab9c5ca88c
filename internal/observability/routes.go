package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/amqpengine/internal/auth"
)

// Router serves /health and /metrics for one amqpctl node. A non-nil guard
// protects /metrics with a bearer token.
func Router(node string, logger zerolog.Logger, started time.Time, guard auth.Validator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(node))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"uptime":  time.Since(started).String(),
			"service": node,
		})
	})
	r.With(auth.Require(guard)).Handle("/metrics", promhttp.Handler())
	return r
}
