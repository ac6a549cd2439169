package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/advances"
	"github.com/meshworks/backoffice/internal/collections"
	"github.com/meshworks/backoffice/internal/dashboard"
	"github.com/meshworks/backoffice/internal/ledger"
	"github.com/meshworks/backoffice/internal/observability"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	RBACMiddleware   rbac.Middleware
	RBACHandler      *rbac.Handler
	LedgerHandler    *ledger.Handler
	AdvancesHandler  *advances.Handler
	Registry         *collections.Registry
	DashboardHandler *dashboard.Handler
	ActivityHandler  *activity.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// RouterParamsFor builds the handlers of every service in svc.
func RouterParamsFor(cfg *Config, logger *slog.Logger, svc *Services) RouterParams {
	return RouterParams{
		Logger:           logger,
		Config:           cfg,
		RBACMiddleware:   rbac.Middleware{Service: svc.RBAC, Logger: logger},
		RBACHandler:      rbac.NewHandler(logger, svc.RBAC),
		LedgerHandler:    ledger.NewHandler(logger, svc.Ledger),
		AdvancesHandler:  advances.NewHandler(logger, svc.Advances),
		Registry:         svc.Registry,
		DashboardHandler: dashboard.NewHandler(logger, svc.Dashboard),
		ActivityHandler:  activity.NewHandler(logger, svc.Activity),
		Metrics:          svc.Metrics,
	}
}

// NewRouter constructs the chi.Router with back-office defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)

		if params.RBACHandler != nil {
			params.RBACHandler.MountRoutes(r)
		}
		// Nested below the /customers and /employees collection routes.
		if params.LedgerHandler != nil {
			r.Route("/customers/{customerID}/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.AdvancesHandler != nil {
			r.Route("/employees/{employeeID}/advances", params.AdvancesHandler.MountRoutes)
		}
		if params.Registry != nil {
			params.Registry.MountRoutes(r, params.Logger)
		}
		if params.DashboardHandler != nil {
			params.DashboardHandler.MountRoutes(r)
		}
		if params.ActivityHandler != nil {
			r.Route("/activity", params.ActivityHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.RBACMiddleware.RequireView(rbac.MenuDashboard)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
