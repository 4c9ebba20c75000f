package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/appointly/appointly/internal/auth"
	"github.com/appointly/appointly/internal/companies"
	"github.com/appointly/appointly/internal/observability"
	"github.com/appointly/appointly/internal/rbac"
	roleshttp "github.com/appointly/appointly/internal/roles/http"
	usershttp "github.com/appointly/appointly/internal/users/http"
	"github.com/appointly/appointly/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Authenticator      *rbac.Authenticator
	AuthHandler        *auth.Handler
	RolesHandler       *roleshttp.Handler
	UsersHandler       *usershttp.Handler
	CompaniesHandler   *companies.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with API defaults.
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
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/roles", func(r chi.Router) {
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
		if params.RolesHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.Authenticator.Require)
				params.RolesHandler.MountRoutes(r)
			})
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(params.Authenticator.Require)
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.CompaniesHandler != nil {
			r.Route("/companies", params.CompaniesHandler.MountRoutes)
		}
	})

	return r
}
