package usershttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
)

type accountService interface {
	Get(ctx context.Context, id string) (users.Account, error)
	List(ctx context.Context, filter users.ListFilter) ([]users.Account, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// Handler serves account administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service accountService
	guards  rbac.Guards
}

// NewHandler constructs the users HTTP handler.
func NewHandler(logger *slog.Logger, service accountService, guards rbac.Guards) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guards: guards}
}

// MountRoutes registers routes. The router must already require a session.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guards.RequirePermission("manage_users")).Get("/", h.list)
	r.With(h.guards.RequireOwnershipOrAdmin("userID")).Get("/{userID}", h.show)
	r.With(h.guards.RequirePermission("manage_users")).Patch("/{userID}/status", h.setStatus)
}

type listResponse struct {
	Users  []users.Account `json:"users"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := users.ListFilter{Search: q.Get("search")}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"active": "must be true or false"})
			return
		}
		filter.Active = &active
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []users.Account{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Users: list, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

type statusRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return
	}
	if req.IsActive == nil {
		httpx.ValidationProblem(w, map[string]string{"isActive": "is required"})
		return
	}
	id := chi.URLParam(r, "userID")
	p := rbac.PrincipalFromContext(r.Context())
	if p != nil && p.UserID == id && !*req.IsActive {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "you cannot deactivate your own account")
		return
	}
	if err := h.service.SetActive(r.Context(), id, *req.IsActive); err != nil {
		h.fail(w, r, err)
		return
	}
	if p != nil {
		h.logger.InfoContext(r.Context(), "account status changed",
			slog.String("user_id", id), slog.Bool("active", *req.IsActive), slog.String("by", p.UserID))
	}
	acct, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "users handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
