package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anmar534/desktop-management-system/internal/api/handlers"
	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/middleware"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Engine *optimizer.Engine
	Hub    *handlers.HealthHub
	// RateLimiter guards /api routes. Nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	// mux skips middleware for these, so they run without a request id.
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.Use(middleware.RequestID, middleware.Instrument, middleware.Recover(d.Engine.Errors()))

	r.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	// without its own handler a method mismatch under the prefix is a 404
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Limit)
	}

	// Performance
	perf := handlers.NewPerformanceHandler(d.Engine)
	api.HandleFunc("/performance/health", perf.GetHealth).Methods(http.MethodGet)
	api.HandleFunc("/performance/report", perf.GetReport).Methods(http.MethodGet)
	api.HandleFunc("/performance/optimize-memory", perf.OptimizeMemory).Methods(http.MethodPost)
	api.HandleFunc("/performance/reset", perf.Reset).Methods(http.MethodPost)
	api.HandleFunc("/performance/config", perf.GetConfig).Methods(http.MethodGet)
	api.HandleFunc("/performance/config", perf.UpdateConfig).Methods(http.MethodPatch)
	api.HandleFunc("/performance/cache/stats", perf.GetCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/performance/cache/invalidate", perf.InvalidateCache).Methods(http.MethodPost)
	api.HandleFunc("/performance/rules", perf.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/performance/rules/{id}", perf.SetRule).Methods(http.MethodPut)

	// Health stream
	if d.Hub != nil {
		api.HandleFunc("/performance/ws", d.Hub.ServeWS).Methods(http.MethodGet)
	}

	// Error log
	errs := handlers.NewErrorLogHandler(d.Engine)
	api.HandleFunc("/errors", errs.List).Methods(http.MethodGet)
	api.HandleFunc("/errors", errs.Report).Methods(http.MethodPost)
	api.HandleFunc("/errors/{id}/resolve", errs.Resolve).Methods(http.MethodPost)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("route"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierr.WriteErrorWithContext(w, r, apierr.ResourceMethodNotAllowed(r.Method))
}
