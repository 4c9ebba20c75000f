package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	authn     *rbac.Authenticator
	guards    rbac.Guards
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, authn *rbac.Authenticator, guards rbac.Guards) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		authn:     authn,
		guards:    guards,
		validator: httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.authn.Optional).Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/login/complete", h.handleCompleteLogin)
	r.Post("/password/forgot", h.handleForgotPassword)
	r.Post("/password/reset", h.handleResetPassword)
	r.Post("/email/verify", h.handleVerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(h.authn.Require)
		r.Get("/verify", h.handleVerify)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/email/verification", h.handleRequestVerification)
		r.With(h.guards.RequirePermission("impersonate_users")).Post("/impersonate", h.handleImpersonate)
		r.With(h.guards.RequirePermission("impersonate_users")).Post("/impersonate/complete", h.handleCompleteImpersonation)
	})
}

type registerRequest struct {
	Email     string       `json:"email" validate:"required,email,max=254"`
	Password  string       `json:"password" validate:"required,min=8,max=72"`
	FirstName string       `json:"firstName" validate:"required,max=100"`
	LastName  string       `json:"lastName" validate:"max=100"`
	Phone     string       `json:"phone" validate:"max=32"`
	Role      *roles.Level `json:"role" validate:"omitempty,min=0,max=3"`
	CompanyID string       `json:"companyId" validate:"omitempty,max=64"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type completeLoginRequest struct {
	Email          string  `json:"email" validate:"required,email"`
	RoleID         *string `json:"roleId"`
	SelectionToken string  `json:"selectionToken" validate:"required"`
}

type impersonateRequest struct {
	UserID string  `json:"userId" validate:"required"`
	RoleID *string `json:"roleId"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Role != nil && req.Role.Elevated() {
		// Elevated signups are an admin action; owners come from company registration.
		if p := rbac.PrincipalFromContext(r.Context()); p == nil || !p.IsSystemAdmin() {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "only system admins may register elevated roles")
			return
		}
	}
	res, err := h.service.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      req.Role,
		CompanyID: req.CompanyID,
	})
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	status := http.StatusCreated
	if res.Claimed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleCompleteLogin(w http.ResponseWriter, r *http.Request) {
	var req completeLoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.CompleteLogin(r.Context(), CompleteLoginInput{
		Email:          req.Email,
		RoleID:         req.RoleID,
		SelectionToken: req.SelectionToken,
	})
	if err != nil {
		h.fail(w, r, "complete login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"user": rbac.PrincipalFromContext(r.Context())})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Refresh(r.Context(), rbac.PrincipalFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	var req impersonateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Impersonate(r.Context(), rbac.PrincipalFromContext(r.Context()), req.UserID)
	if err != nil {
		h.fail(w, r, "impersonate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleCompleteImpersonation(w http.ResponseWriter, r *http.Request) {
	var req impersonateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.CompleteImpersonation(r.Context(), rbac.PrincipalFromContext(r.Context()), req.UserID, req.RoleID)
	if err != nil {
		h.fail(w, r, "complete impersonation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, "forgot password", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Token", "reset link is invalid or has expired")
			return
		}
		h.fail(w, r, "reset password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Token", "verification link is invalid or has expired")
			return
		}
		h.fail(w, r, "verify email", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RequestEmailVerification(r.Context(), rbac.PrincipalFromContext(r.Context())); err != nil {
		h.fail(w, r, "request verification", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
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

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthenticated),
		errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrForbidden),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrDuplicate),
		errors.Is(err, shared.ErrValidation):
	default:
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
