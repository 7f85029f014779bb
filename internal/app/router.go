package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/pricebook/internal/observability"
	"github.com/odyssey-erp/pricebook/internal/platform/httpx"
	"github.com/odyssey-erp/pricebook/internal/pricelist"
	"github.com/odyssey-erp/pricebook/jobs"
)

// Pinger checks a backing dependency for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	PriceListHandler *pricelist.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	// Checks are pinged by /healthz, keyed by dependency name.
	Checks map[string]Pinger
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range params.Checks {
			if err := check.Ping(ctx); err != nil {
				params.Logger.Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
				status[name] = "down"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httpx.JSON(w, code, status)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.PriceListHandler != nil {
			params.PriceListHandler.MountRoutes(r)
		}
	})
	r.Route("/jobs", params.JobHandler.MountRoutes)
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	return r
}
