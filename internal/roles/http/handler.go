package roleshttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
)

type roleService interface {
	FindActiveByUser(ctx context.Context, userID string) ([]roles.Assignment, error)
	GetDefaultRole(ctx context.Context, userID string) (roles.Grant, error)
	SetDefault(ctx context.Context, userID, assignmentID string) error
	Create(ctx context.Context, in roles.CreateInput) (*roles.Assignment, error)
}

type accountService interface {
	Get(ctx context.Context, id string) (users.Account, error)
}

// Handler exposes the caller's role assignments and role grants.
type Handler struct {
	logger    *slog.Logger
	roles     roleService
	accounts  accountService
	guards    rbac.Guards
	validator *validator.Validate
}

// NewHandler constructs the roles HTTP handler.
func NewHandler(logger *slog.Logger, store roleService, accounts accountService, guards rbac.Guards) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, roles: store, accounts: accounts, guards: guards, validator: httpx.NewValidator()}
}

// MountRoutes registers routes. The router must already require a session.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.listMine)
	r.Put("/me/default", h.setDefault)
	r.With(
		h.guards.RequirePermission("manage_roles"),
		h.guards.RequireSameCompany("companyId"),
	).Post("/", h.grant)
}

type grantView struct {
	Role      roles.Level `json:"role"`
	RoleName  string      `json:"roleName"`
	RoleID    *string     `json:"roleId"`
	CompanyID *string     `json:"companyId"`
}

type myRolesResponse struct {
	Assignments []roles.Assignment `json:"assignments"`
	Default     grantView          `json:"default"`
	Current     grantView          `json:"current"`
}

func viewOf(g roles.Grant) grantView {
	v := grantView{Role: g.RoleLevel(), RoleName: g.RoleLevel().String()}
	if a, ok := roles.AssignmentOf(g); ok {
		id := a.ID
		v.RoleID = &id
	}
	if scope := g.Scope(); scope != "" {
		v.CompanyID = &scope
	}
	return v
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	list, err := h.roles.FindActiveByUser(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	def, err := h.roles.GetDefaultRole(r.Context(), p.UserID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "default role lookup", slog.Any("error", err))
	}
	current := grantView{Role: p.Level(), RoleName: p.Level().String()}
	if p.RoleID != "" {
		id := p.RoleID
		current.RoleID = &id
	}
	if p.CompanyID != "" {
		company := p.CompanyID
		current.CompanyID = &company
	}
	httpx.JSON(w, http.StatusOK, myRolesResponse{Assignments: list, Default: viewOf(def), Current: current})
}

type setDefaultRequest struct {
	RoleID string `json:"roleId" validate:"required"`
}

func (h *Handler) setDefault(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req setDefaultRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.roles.SetDefault(r.Context(), p.UserID, req.RoleID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role is not an active assignment of this account")
			return
		}
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	UserID    string      `json:"userId" validate:"required"`
	Role      roles.Level `json:"role" validate:"min=0,max=2"`
	CompanyID string      `json:"companyId"`
	IsDefault bool        `json:"isDefault"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := rbac.CheckSameCompany(p, req.CompanyID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !p.Level().AtLeast(req.Role) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "cannot grant a role above your own")
		return
	}
	if _, err := h.accounts.Get(r.Context(), req.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.roles.Create(r.Context(), roles.CreateInput{
		UserID:    req.UserID,
		Role:      req.Role,
		CompanyID: req.CompanyID,
		IsActive:  true,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if created == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "role assignments are not enabled on this deployment")
		return
	}
	h.logger.InfoContext(r.Context(), "role granted",
		slog.String("granted_by", p.UserID),
		slog.String("user_id", created.UserID),
		slog.String("role", created.Role.String()),
		slog.String("company_id", created.CompanyID))
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "request body must be valid JSON")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrDuplicate) {
		h.logger.ErrorContext(r.Context(), "roles handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
