package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/appointly/appointly/internal/platform/httpx"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// maxPeekBytes bounds how much of a JSON body a guard reads.
const maxPeekBytes = 1 << 20

// Guards wires authorization checks for HTTP handlers. They run after the
// Authenticator has stored the principal in the request context.
type Guards struct {
	Roles  RoleResolver
	Logger *slog.Logger
}

// RequireRole ensures the principal is at least as privileged as max.
func (g Guards) RequireRole(max roles.Level) func(http.Handler) http.Handler {
	return g.guard(func(r *http.Request, p *Principal) error {
		return CheckRole(p, max)
	})
}

// RequirePermission ensures the principal holds the named permission.
func (g Guards) RequirePermission(name string) func(http.Handler) http.Handler {
	if !roles.KnownPermission(name) && g.Logger != nil {
		g.Logger.Warn("guard uses unknown permission; it resolves to user level", slog.String("permission", name))
	}
	return g.guard(func(r *http.Request, p *Principal) error {
		return CheckPermission(p, name)
	})
}

// RequireAny ensures the principal holds at least one of the permissions.
func (g Guards) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return g.guard(func(r *http.Request, p *Principal) error {
		if len(normalized) == 0 {
			return nil
		}
		var err error
		for _, perm := range normalized {
			if err = CheckPermission(p, perm); err == nil {
				return nil
			}
		}
		return err
	})
}

// RequireOwnershipOrAdmin passes owners and above, or principals whose id equals
// the request field. An unresolved role level is looked up once and cached on the
// principal.
func (g Guards) RequireOwnershipOrAdmin(field string) func(http.Handler) http.Handler {
	return g.guard(func(r *http.Request, p *Principal) error {
		if p != nil && p.RoleLevel == nil {
			g.backfillLevel(r, p)
		}
		value, err := RequestField(r, field)
		if err != nil {
			return err
		}
		return CheckOwnership(p, value)
	})
}

// RequireSameCompany passes system admins, or principals acting for the company
// named by the request field.
func (g Guards) RequireSameCompany(field string) func(http.Handler) http.Handler {
	return g.guard(func(r *http.Request, p *Principal) error {
		value, err := RequestField(r, field)
		if err != nil {
			return err
		}
		return CheckSameCompany(p, value)
	})
}

func (g Guards) guard(check func(*http.Request, *Principal) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(r, PrincipalFromContext(r.Context())); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g Guards) backfillLevel(r *http.Request, p *Principal) {
	if g.Roles == nil {
		p.SetLevel(roles.LevelUser, SourceFallback)
		return
	}
	grant, err := g.Roles.CurrentRole(r.Context(), p.UserID, p.CompanyID)
	if err != nil {
		if g.Logger != nil {
			g.Logger.WarnContext(r.Context(), "role backfill fell back to user level",
				slog.String("user_id", p.UserID), slog.Any("error", err))
		}
		p.SetLevel(roles.LevelUser, SourceFallback)
		return
	}
	p.SetLevel(grant.RoleLevel(), SourceCurrent)
}

// RequestField reads name from the route parameters, the query string and a
// top-level string field of a JSON body; the body is restored for the handler.
// A request naming different values in two sources is rejected with
// shared.ErrValidation, so a guard never checks a value the handler does not use.
func RequestField(r *http.Request, name string) (string, error) {
	var value string
	for _, candidate := range []string{chi.URLParam(r, name), r.URL.Query().Get(name), bodyField(r, name)} {
		if candidate == "" {
			continue
		}
		if value != "" && candidate != value {
			return "", fmt.Errorf("%w: conflicting values for %s", shared.ErrValidation, name)
		}
		value = candidate
	}
	return value, nil
}

func bodyField(r *http.Request, name string) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	v, _ := fields[name].(string)
	return v
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
