package companies

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/shared"
)

type companyService interface {
	Register(ctx context.Context, ownerID string, in RegisterInput) (Company, error)
	Approve(ctx context.Context, id string) (Company, error)
	Reject(ctx context.Context, id string) (Company, error)
	Get(ctx context.Context, id string) (Company, error)
	List(ctx context.Context, p *rbac.Principal, filter ListFilter) ([]Company, error)
	HireStaff(ctx context.Context, companyID string, in HireInput) (HireResult, error)
	ListStaff(ctx context.Context, companyID string) ([]StaffMember, error)
}

// Handler exposes company endpoints.
type Handler struct {
	logger    *slog.Logger
	service   companyService
	guards    rbac.Guards
	validator *validator.Validate
}

// NewHandler constructs the company HTTP handler.
func NewHandler(logger *slog.Logger, service companyService, guards rbac.Guards) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guards: guards, validator: httpx.NewValidator()}
}

// MountRoutes registers company routes. The router must already require a session.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.register)
	r.Get("/", h.list)
	r.Route("/{companyID}", func(r chi.Router) {
		r.With(h.guards.RequireSameCompany("companyID")).Get("/", h.show)
		r.With(h.guards.RequirePermission("approve_companies")).Post("/approve", h.approve)
		r.With(h.guards.RequirePermission("approve_companies")).Post("/reject", h.reject)
		r.Group(func(r chi.Router) {
			r.Use(h.guards.RequirePermission("manage_staff"), h.guards.RequireSameCompany("companyID"))
			r.Post("/staff", h.hire)
			r.Get("/staff", h.staff)
		})
	})
}

type registerRequest struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

type hireRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	c, err := h.service.Register(r.Context(), p.UserID, RegisterInput{Name: req.Name})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Search: q.Get("search"), Status: Status(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.ValidationProblem(w, map[string]string{"status": "must be pending, approved or rejected"})
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []Company{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"companies": list})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Approve(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Reject(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) hire(w http.ResponseWriter, r *http.Request) {
	var req hireRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.HireStaff(r.Context(), chi.URLParam(r, "companyID"), HireInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) staff(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListStaff(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []StaffMember{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"staff": list})
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
	switch {
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrDuplicate),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrForbidden):
	default:
		h.logger.ErrorContext(r.Context(), "companies handler", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
