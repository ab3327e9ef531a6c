// Package httptransport assembles the HTTP surface. It owns only routing and
// middleware; each feature contributes its handlers through Register.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"openbadger/pkg/platform/httputil"
)

// Registrar is a feature handler that mounts its routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports dependency health for /healthz.
type HealthChecker func() error

// NewRouter builds the root router with common middleware, operational
// endpoints, and every feature's routes.
func NewRouter(health HealthChecker, features ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	for _, feature := range features {
		feature.Register(r)
	}
	return r
}
