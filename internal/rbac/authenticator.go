package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/session"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
)

var errMissingToken = fmt.Errorf("%w: missing token", shared.ErrUnauthenticated)

// TokenParser verifies session tokens.
type TokenParser interface {
	Parse(raw string) (*session.Claims, error)
}

// AccountSource loads accounts by id.
type AccountSource interface {
	Get(ctx context.Context, id string) (users.Account, error)
}

// RoleResolver is the slice of the role store used during authentication.
type RoleResolver interface {
	Get(ctx context.Context, id string) (roles.Assignment, error)
	GetDefaultRole(ctx context.Context, userID string) (roles.Grant, error)
	CurrentRole(ctx context.Context, userID, companyID string) (roles.Grant, error)
}

// Recorder receives authentication counters.
type Recorder interface {
	ObserveAuthFailure(reason string)
	ObserveRoleFallback(step string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveAuthFailure(string)  {}
func (noopRecorder) ObserveRoleFallback(string) {}

// Authenticator turns a session token into the acting Principal of a request.
type Authenticator struct {
	tokens   TokenParser
	accounts AccountSource
	roles    RoleResolver
	logger   *slog.Logger
	metrics  Recorder
}

// NewAuthenticator wires an Authenticator. metrics may be nil.
func NewAuthenticator(tokens TokenParser, accounts AccountSource, store RoleResolver, logger *slog.Logger, metrics Recorder) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Authenticator{tokens: tokens, accounts: accounts, roles: store, logger: logger, metrics: metrics}
}

// Authenticate verifies raw and resolves the principal. Token, account and
// deactivation failures are returned; role store failures never are and resolve
// to the user level instead.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errMissingToken
	}
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}

	acct, err := a.accounts.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown account", shared.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("rbac: load account: %w", err)
	}
	if !acct.IsActive {
		return nil, shared.ErrAccountDeactivated
	}

	p := &Principal{
		UserID:          acct.ID,
		Email:           acct.Email,
		FirstName:       acct.FirstName,
		LastName:        acct.LastName,
		IsVerified:      acct.IsVerified,
		ImpersonatedBy:  claims.ImpersonatedBy,
		IsImpersonating: claims.IsImpersonating,
	}

	selected := a.selectedAssignment(ctx, acct.ID, claims.RoleID)
	switch {
	case selected != nil:
		p.RoleID = selected.ID
		p.CompanyID = selected.CompanyID
	case claims.CompanyID != "":
		p.CompanyID = claims.CompanyID
	default:
		grant, err := a.roles.GetDefaultRole(ctx, acct.ID)
		if err != nil {
			a.fallback(ctx, "default_company", acct.ID, err)
		} else {
			p.CompanyID = grant.Scope()
		}
	}

	switch {
	case claims.Role != nil:
		p.SetLevel(*claims.Role, SourceToken)
	case selected != nil:
		p.SetLevel(selected.Role, SourceAssignment)
	case acct.LegacyRole == nil:
		grant, err := a.roles.CurrentRole(ctx, acct.ID, p.CompanyID)
		if err != nil {
			a.fallback(ctx, "current_role", acct.ID, err)
			p.SetLevel(roles.LevelUser, SourceFallback)
			break
		}
		p.SetLevel(grant.RoleLevel(), SourceCurrent)
		if assignment, ok := roles.AssignmentOf(grant); ok && p.RoleID == "" {
			p.RoleID = assignment.ID
		}
	default:
		p.SetLevel(*acct.LegacyRole, SourceLegacy)
		if p.CompanyID == "" {
			p.CompanyID = acct.LegacyCompanyID
		}
	}
	if !p.Level().Valid() {
		p.SetLevel(roles.LevelUser, SourceFallback)
	}
	return p, nil
}

// selectedAssignment re-fetches the token's roleId. Assignments that vanished, were
// deactivated or belong to someone else are ignored.
func (a *Authenticator) selectedAssignment(ctx context.Context, userID, roleID string) *roles.Assignment {
	if roleID == "" {
		return nil
	}
	assignment, err := a.roles.Get(ctx, roleID)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotFound):
		return nil
	default:
		a.fallback(ctx, "assignment", userID, err)
		return nil
	}
	if assignment.UserID != userID {
		a.logger.WarnContext(ctx, "session role belongs to another account",
			slog.String("user_id", userID), slog.String("role_id", roleID))
		return nil
	}
	if !assignment.IsActive {
		return nil
	}
	return &assignment
}

func (a *Authenticator) fallback(ctx context.Context, step, userID string, err error) {
	a.metrics.ObserveRoleFallback(step)
	a.logger.WarnContext(ctx, "role resolution fell back to user level",
		slog.String("step", step), slog.String("user_id", userID), slog.Any("error", err))
}

// Require rejects requests without a valid session.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r.Context(), BearerToken(r))
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// Optional attaches a principal when the request carries a valid session and
// otherwise continues anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := BearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), nil)))
			return
		}
		p, err := a.Authenticate(r.Context(), raw)
		if err != nil {
			a.metrics.ObserveAuthFailure(failureReason(err))
			a.logger.DebugContext(r.Context(), "optional authentication skipped", slog.Any("error", err))
			p = nil
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason := failureReason(err)
	a.metrics.ObserveAuthFailure(reason)
	switch reason {
	case "expired":
		httpx.Problem(w, http.StatusUnauthorized, "Token Expired", "session expired, please log in again")
	case "invalid":
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
	case "deactivated":
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "account deactivated")
	case "missing":
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	case "unauthenticated":
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "account not found")
	default:
		a.logger.ErrorContext(r.Context(), "authenticate request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrTokenExpired):
		return "expired"
	case errors.Is(err, shared.ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, shared.ErrAccountDeactivated):
		return "deactivated"
	case errors.Is(err, errMissingToken):
		return "missing"
	case errors.Is(err, shared.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
