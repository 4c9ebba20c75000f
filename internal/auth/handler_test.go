package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointly/appointly/internal/auth"
	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/session"
	"github.com/appointly/appointly/internal/users"
	_ "github.com/appointly/appointly/testing"
)

func (f *fixture) router() http.Handler {
	authn := rbac.NewAuthenticator(f.issuer, users.NewService(f.accounts, nil), f.store, nil, nil)
	h := auth.NewHandler(nil, f.svc, authn, rbac.Guards{Roles: f.store})
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	return r
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router().ServeHTTP(rr, req)
	return rr
}

func (f *fixture) bearer(t *testing.T, p session.Params) string {
	t.Helper()
	raw, _, err := f.issuer.Issue(p)
	require.NoError(t, err)
	return raw
}

func TestLoginEndpointTwoStep(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", "a@x.com", "secret12")
	f.assigns.Put(roles.Assignment{ID: "owner", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "C1", IsActive: true, IsDefault: true})

	rr := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "secret12"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login struct {
		Token             string `json:"token"`
		RequiresSelection bool   `json:"requiresSelection"`
		SelectionToken    string `json:"selectionToken"`
		RoleOptions       []struct {
			RoleID    *string `json:"roleId"`
			Role      int     `json:"role"`
			CompanyID *string `json:"companyId"`
		} `json:"roleOptions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	assert.Empty(t, login.Token)
	assert.True(t, login.RequiresSelection)
	require.Len(t, login.RoleOptions, 2)
	assert.Nil(t, login.RoleOptions[1].RoleID)
	assert.Equal(t, 3, login.RoleOptions[1].Role)
	assert.Contains(t, rr.Body.String(), `"roleId":null`)

	rr = f.do(t, http.MethodPost, "/auth/login/complete", "", map[string]any{
		"email": "a@x.com", "roleId": "owner", "selectionToken": login.SelectionToken,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tok struct {
		Token     string `json:"token"`
		Role      int    `json:"role"`
		CompanyID string `json:"companyId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tok))
	assert.Equal(t, 1, tok.Role)
	assert.Equal(t, "C1", tok.CompanyID)

	rr = f.do(t, http.MethodGet, "/auth/verify", tok.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"companyId":"C1"`)
}

func TestLoginEndpointErrors(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", "a@x.com", "secret12")

	rr := f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), `"email"`)
	assert.Contains(t, rr.Body.String(), `"password"`)

	rr = f.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@x.com", "password": "secret12", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompleteLoginRejectsForeignRole(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", "a@x.com", "secret12")
	f.assigns.Put(roles.Assignment{ID: "mine", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "C1", IsActive: true})
	f.assigns.Put(roles.Assignment{ID: "theirs", UserID: "u2", Role: roles.LevelCompanyOwner, CompanyID: "C2", IsActive: true})

	res, err := f.svc.Login(context.Background(), "a@x.com", "secret12")
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/auth/login/complete", "", map[string]any{
		"email": "a@x.com", "roleId": "theirs", "selectionToken": res.SelectionToken,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "n@x.com", "password": "secret12", "firstName": "Nia",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "password")

	rr = f.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "n@x.com", "password": "secret12", "firstName": "Nia",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegisterElevatedRoleRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.account(t, "admin", "admin@x.com", "secret12")
	body := map[string]any{"email": "o@x.com", "password": "secret12", "firstName": "O", "role": 1, "companyId": "C1"}

	rr := f.do(t, http.MethodPost, "/auth/register", "", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin := f.bearer(t, session.Params{UserID: "admin", Email: "admin@x.com", Role: roles.LevelSystemAdmin})
	rr = f.do(t, http.MethodPost, "/auth/register", admin, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, f.assigns.All(), 1)
}

func TestProtectedEndpointsRequireSession(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/auth/refresh", "/auth/impersonate", "/auth/email/verification"} {
		rr := f.do(t, http.MethodPost, path, "", map[string]string{})
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := f.do(t, http.MethodGet, "/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestImpersonateEndpointRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.account(t, "owner", "owner@x.com", "secret12")
	f.account(t, "admin", "admin@x.com", "secret12")
	f.account(t, "u1", "a@x.com", "secret12")

	owner := f.bearer(t, session.Params{UserID: "owner", Role: roles.LevelCompanyOwner, CompanyID: "C1"})
	rr := f.do(t, http.MethodPost, "/auth/impersonate", owner, map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin := f.bearer(t, session.Params{UserID: "admin", Role: roles.LevelSystemAdmin})
	rr = f.do(t, http.MethodPost, "/auth/impersonate", admin, map[string]string{"userId": "u1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/auth/impersonate/complete", admin, map[string]any{"userId": "u1", "roleId": nil})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tok auth.TokenResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tok))
	claims := f.parse(t, tok.Token)
	assert.True(t, claims.IsImpersonating)
	assert.Equal(t, "admin", claims.ImpersonatedBy)
}

func TestForgotPasswordAlwaysAccepted(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", "a@x.com", "secret12")

	for _, email := range []string{"a@x.com", "nobody@x.com"} {
		rr := f.do(t, http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": email})
		assert.Equal(t, http.StatusAccepted, rr.Code, email)
	}
	assert.Equal(t, 1, f.mailer.count())

	token := tokenFromMail(t, f.mailer.last(t))
	rr := f.do(t, http.MethodPost, "/auth/password/reset", "", map[string]string{"token": token, "password": "brandnew1"})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, http.MethodPost, "/auth/password/reset", "", map[string]string{"token": token, "password": "brandnew2"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t)
	f.account(t, "u1", "a@x.com", "secret12")
	f.assigns.Put(roles.Assignment{ID: "staff", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "C1", IsActive: true})

	raw := f.bearer(t, session.Params{UserID: "u1", Role: roles.LevelStaffMember, RoleID: "staff", CompanyID: "C1"})
	rr := f.do(t, http.MethodPost, "/auth/refresh", raw, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tok auth.TokenResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tok))
	assert.Equal(t, roles.LevelStaffMember, tok.Role)
	assert.Equal(t, "staff", tok.RoleID)
}
