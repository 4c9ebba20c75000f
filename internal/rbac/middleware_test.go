package rbac

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

type stubResolver struct {
	grant roles.Grant
	err   error
	calls int
}

func (s *stubResolver) Get(ctx context.Context, id string) (roles.Assignment, error) {
	return roles.Assignment{}, s.err
}

func (s *stubResolver) GetDefaultRole(ctx context.Context, userID string) (roles.Grant, error) {
	return s.grant, s.err
}

func (s *stubResolver) CurrentRole(ctx context.Context, userID, companyID string) (roles.Grant, error) {
	s.calls++
	return s.grant, s.err
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, pattern string, p *Principal, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(ContextWithPrincipal(req.Context(), p)))
		})
	})
	r.With(mw).Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRequireSameCompanyReadsRouteParam(t *testing.T) {
	guards := Guards{}
	owner := principalAt(roles.LevelCompanyOwner, "u1", "C1")

	rr := serve(t, guards.RequireSameCompany("companyID"), "/companies/{companyID}", owner,
		httptest.NewRequest(http.MethodGet, "/companies/C2", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, guards.RequireSameCompany("companyID"), "/companies/{companyID}", owner,
		httptest.NewRequest(http.MethodGet, "/companies/C1", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, guards.RequireSameCompany("companyID"), "/companies/{companyID}", nil,
		httptest.NewRequest(http.MethodGet, "/companies/C1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequirePermissionScenario(t *testing.T) {
	guards := Guards{}
	req := func() *http.Request { return httptest.NewRequest(http.MethodPost, "/company", nil) }

	rr := serve(t, guards.RequirePermission(roles.PermManageCompany), "/company", principalAt(roles.LevelStaffMember, "u1", "C1"), req())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, guards.RequirePermission(roles.PermManageCompany), "/company", principalAt(roles.LevelCompanyOwner, "u1", "C1"), req())
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAnyPassesOnFirstHeldPermission(t *testing.T) {
	guards := Guards{}
	staff := principalAt(roles.LevelStaffMember, "u1", "C1")
	req := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/x", nil) }

	rr := serve(t, guards.RequireAny(" MANAGE_STAFF", "manage_appointments"), "/x", staff, req())
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, guards.RequireAny("manage_staff", "approve_companies"), "/x", staff, req())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, guards.RequireAny(), "/x", staff, req())
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireRoleScenario(t *testing.T) {
	guards := Guards{}
	rr := serve(t, guards.RequireRole(roles.LevelSystemAdmin), "/admin", principalAt(roles.LevelCompanyOwner, "u1", "C1"),
		httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireOwnershipOrAdminBackfillsLevel(t *testing.T) {
	resolver := &stubResolver{grant: roles.Assignment{ID: "r1", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "C1", IsActive: true}}
	guards := Guards{Roles: resolver}
	p := &Principal{UserID: "u1"}

	rr := serve(t, guards.RequireOwnershipOrAdmin("userID"), "/users/{userID}", p,
		httptest.NewRequest(http.MethodGet, "/users/u7", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, p.RoleLevel)
	assert.Equal(t, roles.LevelCompanyOwner, *p.RoleLevel)
	assert.Equal(t, 1, resolver.calls)

	rr = serve(t, guards.RequireOwnershipOrAdmin("userID"), "/users/{userID}", p,
		httptest.NewRequest(http.MethodGet, "/users/u8", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, resolver.calls)
}

func TestRequireOwnershipOrAdminForPlainUser(t *testing.T) {
	resolver := &stubResolver{grant: roles.ImplicitUser{}}
	guards := Guards{Roles: resolver}

	rr := serve(t, guards.RequireOwnershipOrAdmin("userID"), "/users/{userID}", &Principal{UserID: "u1"},
		httptest.NewRequest(http.MethodGet, "/users/u2", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, guards.RequireOwnershipOrAdmin("userID"), "/users/{userID}", &Principal{UserID: "u1"},
		httptest.NewRequest(http.MethodGet, "/users/u1", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequestFieldSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/things?companyId=Q1", nil)
	v, err := RequestField(req, "companyId")
	require.NoError(t, err)
	assert.Equal(t, "Q1", v)

	body := `{"companyId":"B1","count":3}`
	req = httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	v, err = RequestField(req, "companyId")
	require.NoError(t, err)
	assert.Equal(t, "B1", v)
	v, err = RequestField(req, "count")
	require.NoError(t, err)
	assert.Empty(t, v)
	restored, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(restored))

	req = httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	v, err = RequestField(req, "companyId")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestRequestFieldRejectsConflictingSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/things?companyId=C1", strings.NewReader(`{"companyId":"C2"}`))
	req.Header.Set("Content-Type", "application/json")
	_, err := RequestField(req, "companyId")
	assert.ErrorIs(t, err, shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/things?companyId=C1", strings.NewReader(`{"companyId":"C1"}`))
	req.Header.Set("Content-Type", "application/json")
	v, err := RequestField(req, "companyId")
	require.NoError(t, err)
	assert.Equal(t, "C1", v)
}

func TestRequireSameCompanyRejectsQueryBodyMismatch(t *testing.T) {
	guards := Guards{}
	owner := principalAt(roles.LevelCompanyOwner, "u1", "C1")

	req := httptest.NewRequest(http.MethodPost, "/grants?companyId=C1", strings.NewReader(`{"companyId":"C2"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := serve(t, guards.RequireSameCompany("companyId"), "/grants", owner, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNormalizePermissions(t *testing.T) {
	assert.Equal(t, []string{"manage_staff", "view_reports"}, normalizePermissions([]string{" Manage_Staff ", "", "view_reports", "MANAGE_STAFF"}))
}
