package perf

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/roles/rolestest"
	"github.com/appointly/appointly/internal/session"
	"github.com/appointly/appointly/internal/users"
	"github.com/appointly/appointly/internal/users/userstest"
)

func newAuthenticator(t testing.TB) (*rbac.Authenticator, *session.Issuer) {
	t.Helper()
	accounts := userstest.New()
	accounts.Put(users.Account{ID: "u1", Email: "owner@example.com", PasswordHash: "h", IsActive: true})
	assigns := rolestest.New()
	assigns.Put(roles.Assignment{ID: "r1", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "C1", IsActive: true, IsDefault: true})
	assigns.Put(roles.Assignment{ID: "r2", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "C2", IsActive: true})

	issuer, err := session.NewIssuer("perf-secret", time.Hour, "appointly")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	store := roles.NewStore(assigns, roles.SchemaNormalized, nil)
	return rbac.NewAuthenticator(issuer, users.NewService(accounts, nil), store, nil, nil), issuer
}

func TestAuthenticateLatencyTargets(t *testing.T) {
	authn, issuer := newAuthenticator(t)
	ctx := context.Background()

	scenarios := []struct {
		name      string
		params    session.Params
		threshold time.Duration
	}{
		{name: "selected_role", params: session.Params{UserID: "u1", Role: roles.LevelCompanyOwner, RoleID: "r1", CompanyID: "C1"}, threshold: 20 * time.Millisecond},
		{name: "default_role", params: session.Params{UserID: "u1", Role: roles.LevelUser}, threshold: 20 * time.Millisecond},
	}

	for _, scenario := range scenarios {
		raw, _, err := issuer.Issue(scenario.params)
		if err != nil {
			t.Fatalf("%s: issue token: %v", scenario.name, err)
		}
		samples := make([]time.Duration, 0, 200)
		for i := 0; i < 200; i++ {
			start := time.Now()
			if _, err := authn.Authenticate(ctx, raw); err != nil {
				t.Fatalf("%s: authenticate: %v", scenario.name, err)
			}
			samples = append(samples, time.Since(start))
		}
		if p95 := percentile95(samples); p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func BenchmarkAuthenticate(b *testing.B) {
	authn, issuer := newAuthenticator(b)
	raw, _, err := issuer.Issue(session.Params{UserID: "u1", Role: roles.LevelCompanyOwner, RoleID: "r1", CompanyID: "C1"})
	if err != nil {
		b.Fatalf("issue token: %v", err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := authn.Authenticate(ctx, raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPermissionLevel(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = roles.PermissionLevel("manage_staff")
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
