package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/iac-studio/dbstack/internal/api/handlers"
	mw "github.com/iac-studio/dbstack/internal/api/middleware"
	"github.com/iac-studio/dbstack/internal/metrics"
)

type Dependencies struct {
	HMACSecret     []byte
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	HealthHandler      *handlers.HealthHandler
	StackHandler       *handlers.StackHandler
	DeploymentsHandler *handlers.DeploymentsHandler
}

// NewRouter wires the HTTP surface. ctx bounds background work started by
// the middleware.
func NewRouter(ctx context.Context, dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS(dep.CORSOrigins))
	r.Use(mw.RateLimit(ctx, dep.RateLimitRPS, dep.RateLimitBurst))
	r.Use(chimid.Compress(5))

	hh := dep.HealthHandler
	if hh == nil {
		hh = handlers.NewHealthHandler()
	}
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(mw.Auth(dep.HMACSecret))

		api.Route("/stack", func(sr chi.Router) {
			sr.Get("/template", dep.StackHandler.Template)
			sr.Get("/schedules", dep.StackHandler.Schedules)
		})

		api.Route("/deployments", func(dr chi.Router) {
			dr.Get("/", dep.DeploymentsHandler.List)
			dr.Post("/", dep.DeploymentsHandler.Create)
			dr.Post("/destroy", dep.DeploymentsHandler.Destroy)
			dr.Get("/{id}", dep.DeploymentsHandler.Get)
			dr.Get("/{id}/logs", dep.DeploymentsHandler.Logs)
		})
	})

	return r
}
