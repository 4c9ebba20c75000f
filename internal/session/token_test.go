package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T) (*Issuer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer, err := NewIssuer("test-secret", time.Hour, "appointly-test")
	require.NoError(t, err)
	return issuer.WithClock(clock.Now), clock
}

func TestIssueParseRoundTrip(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	cases := []Params{
		{UserID: "u1", Email: "a@x.com", Role: roles.LevelUser},
		{UserID: "u1", Email: "a@x.com", Role: roles.LevelCompanyOwner, RoleID: "r1", CompanyID: "c1"},
		{UserID: "u2", Email: "b@x.com", Role: roles.LevelSystemAdmin, RoleID: "r2"},
		{UserID: "u3", Email: "c@x.com", Role: roles.LevelStaffMember, RoleID: "r3", CompanyID: "c9", ImpersonatedBy: "admin"},
	}
	for _, p := range cases {
		raw, issued, err := issuer.Issue(p)
		require.NoError(t, err)

		got, err := issuer.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, p.UserID, got.UserID)
		assert.Equal(t, p.Email, got.Email)
		require.NotNil(t, got.Role)
		assert.Equal(t, p.Role, *got.Role)
		assert.Equal(t, p.RoleID, got.RoleID)
		assert.Equal(t, p.CompanyID, got.CompanyID)
		assert.Equal(t, p.ImpersonatedBy, got.ImpersonatedBy)
		assert.Equal(t, p.ImpersonatedBy != "", got.IsImpersonating)
		assert.Equal(t, issued.ID, got.ID)
		assert.NotEmpty(t, got.ID)
	}
}

func TestParseExpiredToken(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	raw, _, err := issuer.Issue(Params{UserID: "u1", Email: "a@x.com", Role: roles.LevelUser})
	require.NoError(t, err)

	clock.t = clock.t.Add(59 * time.Minute)
	_, err = issuer.Parse(raw)
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, shared.ErrTokenExpired)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestParseRejectsTamperedTokens(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	raw, _, err := issuer.Issue(Params{UserID: "u1", Email: "a@x.com", Role: roles.LevelCompanyOwner, CompanyID: "c1"})
	require.NoError(t, err)

	other, err := NewIssuer("other-secret", time.Hour, "appointly-test")
	require.NoError(t, err)
	other.WithClock(clock.Now)
	_, err = other.Parse(raw)
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)

	_, err = issuer.Parse(raw[:len(raw)-2] + "xx")
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)

	_, err = issuer.Parse("not-a-token")
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)

	_, err = issuer.Parse("")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	assert.NotErrorIs(t, err, shared.ErrTokenInvalid)
}

func TestParseRejectsUnsignedAndForeignAlgorithms(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	claims := Claims{
		UserID:           "u1",
		RegisteredClaims: issuer.registered("u1", audienceSession, time.Hour),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Parse(unsigned)
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = issuer.Parse(hs512)
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)
}

func TestIssueValidatesInput(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, _, err := issuer.Issue(Params{Email: "a@x.com", Role: roles.LevelUser})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = issuer.Issue(Params{UserID: "u1", Role: roles.Level(4)})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSelectionTokensAreNotSessions(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	raw, expires, err := issuer.IssueSelection("u1", "a@x.com", "")
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(SelectionTTL), expires)

	sel, err := issuer.ParseSelection(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", sel.UserID)
	assert.Equal(t, "a@x.com", sel.Email)

	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)

	session, _, err := issuer.Issue(Params{UserID: "u1", Email: "a@x.com", Role: roles.LevelUser})
	require.NoError(t, err)
	_, err = issuer.ParseSelection(session)
	assert.ErrorIs(t, err, shared.ErrTokenInvalid)

	clock.t = clock.t.Add(SelectionTTL + time.Second)
	_, err = issuer.ParseSelection(raw)
	assert.ErrorIs(t, err, shared.ErrTokenExpired)
}

func TestClaimsLevelDefaultsToUser(t *testing.T) {
	assert.Equal(t, roles.LevelUser, Claims{}.Level())
	owner := roles.LevelCompanyOwner
	assert.Equal(t, roles.LevelCompanyOwner, Claims{Role: &owner}.Level())
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer(" ", 0, "")
	assert.Error(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer, err := NewIssuer("s", 0, "")
	require.NoError(t, err)
	issuer.WithClock(func() time.Time { return now })
	_, claims, err := issuer.Issue(Params{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), claims.ExpiresAt.Time)
}
