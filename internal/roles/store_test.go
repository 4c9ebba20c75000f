package roles_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/roles/rolestest"
	"github.com/appointly/appointly/internal/shared"
)

func newStore(t *testing.T) (*roles.Store, *rolestest.Repository) {
	t.Helper()
	repo := rolestest.New()
	return roles.NewStore(repo, roles.SchemaNormalized, nil), repo
}

func TestCreateNeverPersistsUserLevel(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()

	got, err := store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.LevelUser, IsActive: true, IsDefault: true})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, repo.Inserts)
	assert.Empty(t, repo.All())
}

func TestFindActiveByUserDropsStaleUserRows(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()
	repo.Put(roles.Assignment{ID: "stale", UserID: "u1", Role: roles.LevelUser, IsActive: true})
	repo.Put(roles.Assignment{ID: "staff", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c1", IsActive: true})
	repo.Put(roles.Assignment{ID: "off", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c2", IsActive: false})

	list, err := store.FindActiveByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "staff", list[0].ID)
	for _, a := range list {
		assert.NotEqual(t, roles.LevelUser, a.Role)
	}
}

func TestFindActiveByUserOrdersDefaultFirst(t *testing.T) {
	store, repo := newStore(t)
	repo.Put(roles.Assignment{ID: "a", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c1", IsActive: true})
	repo.Put(roles.Assignment{ID: "b", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c2", IsActive: true})
	repo.Put(roles.Assignment{ID: "c", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c3", IsActive: true, IsDefault: true})

	list, err := store.FindActiveByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestGetDefaultRoleFallsBackToImplicitUser(t *testing.T) {
	store, _ := newStore(t)

	grant, err := store.GetDefaultRole(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, roles.ImplicitUser{}, grant)
	assert.Equal(t, roles.LevelUser, grant.RoleLevel())
	assert.Empty(t, grant.Scope())
	_, persisted := roles.AssignmentOf(grant)
	assert.False(t, persisted)
}

func TestGetDefaultRoleWithoutAssignmentTable(t *testing.T) {
	repo := rolestest.New()
	repo.Err = roles.ErrSchemaUnavailable
	store := roles.NewStore(repo, roles.SchemaNormalized, nil)

	grant, err := store.GetDefaultRole(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, roles.ImplicitUser{}, grant)

	legacy := roles.NewStore(roles.NewLegacyRepository(), roles.SchemaLegacy, nil)
	grant, err = legacy.GetDefaultRole(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, roles.LevelUser, grant.RoleLevel())
	assert.True(t, legacy.Legacy())
}

func TestLegacyStoreDegradesEveryOperation(t *testing.T) {
	store := roles.NewStore(roles.NewLegacyRepository(), roles.SchemaLegacy, nil)
	ctx := context.Background()

	created, err := store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c1", IsActive: true, IsDefault: true})
	require.NoError(t, err)
	assert.Nil(t, created)

	list, err := store.FindActiveByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	ok, err := store.HasRole(ctx, "u1", roles.LevelSystemAdmin, "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetDefault(ctx, "u1", "a1"))
	require.NoError(t, store.SetActive(ctx, "a1", true))

	_, err = store.Get(ctx, "a1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStoreSurfacesOtherRepositoryErrors(t *testing.T) {
	repo := rolestest.New()
	boom := errors.New("connection refused")
	repo.Err = boom
	store := roles.NewStore(repo, roles.SchemaNormalized, nil)

	_, err := store.FindActiveByUser(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	_, err = store.GetDefaultRole(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func TestCreateValidatesScope(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.LevelCompanyOwner, IsActive: true})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.Level(8)})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = store.Create(ctx, roles.CreateInput{Role: roles.LevelSystemAdmin})
	assert.ErrorIs(t, err, shared.ErrValidation)

	admin, err := store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.LevelSystemAdmin, IsActive: true})
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.True(t, admin.Global())
	assert.NotEmpty(t, admin.ID)
}

func TestCreateDefaultReplacesPreviousDefault(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c1", IsActive: true, IsDefault: true})
	require.NoError(t, err)
	second, err := store.Create(ctx, roles.CreateInput{UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c2", IsActive: true, IsDefault: true})
	require.NoError(t, err)

	grant, err := store.GetDefaultRole(ctx, "u1")
	require.NoError(t, err)
	a, ok := roles.AssignmentOf(grant)
	require.True(t, ok)
	assert.Equal(t, second.ID, a.ID)

	stored, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDefault)
}

func TestSetDefaultRejectsForeignAssignmentAndKeepsDefault(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()
	repo.Put(roles.Assignment{ID: "mine", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c1", IsActive: true, IsDefault: true})
	repo.Put(roles.Assignment{ID: "theirs", UserID: "u2", Role: roles.LevelCompanyOwner, CompanyID: "c1", IsActive: true})
	repo.Put(roles.Assignment{ID: "inactive", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c2"})

	assert.ErrorIs(t, store.SetDefault(ctx, "u1", "theirs"), shared.ErrNotFound)
	assert.ErrorIs(t, store.SetDefault(ctx, "u1", "inactive"), shared.ErrNotFound)
	assert.ErrorIs(t, store.SetDefault(ctx, "u1", "missing"), shared.ErrNotFound)

	grant, err := store.GetDefaultRole(ctx, "u1")
	require.NoError(t, err)
	a, ok := roles.AssignmentOf(grant)
	require.True(t, ok)
	assert.Equal(t, "mine", a.ID)
}

func TestConcurrentSetDefaultLeavesSingleDefault(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}
	for i, id := range ids {
		repo.Put(roles.Assignment{ID: id, UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c" + id, IsActive: true, IsDefault: i == 0})
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, store.SetDefault(ctx, "u1", id))
		}(ids[i%len(ids)])
	}
	wg.Wait()

	defaults := 0
	for _, a := range repo.All() {
		if a.IsActive && a.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestCurrentRolePrefersCompanyScope(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()
	repo.Put(roles.Assignment{ID: "owner", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c1", IsActive: true, IsDefault: true})
	repo.Put(roles.Assignment{ID: "staff", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c2", IsActive: true})

	grant, err := store.CurrentRole(ctx, "u1", "c2")
	require.NoError(t, err)
	assert.Equal(t, roles.LevelStaffMember, grant.RoleLevel())
	assert.Equal(t, "c2", grant.Scope())

	grant, err = store.CurrentRole(ctx, "u1", "c9")
	require.NoError(t, err)
	assert.Equal(t, "c1", grant.Scope())

	grant, err = store.CurrentRole(ctx, "u2", "")
	require.NoError(t, err)
	assert.Equal(t, roles.ImplicitUser{}, grant)
}

func TestHasRole(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()
	repo.Put(roles.Assignment{ID: "admin", UserID: "u1", Role: roles.LevelSystemAdmin, IsActive: true})
	repo.Put(roles.Assignment{ID: "staff", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c1", IsActive: true})

	cases := []struct {
		role    roles.Level
		company string
		want    bool
	}{
		{roles.LevelSystemAdmin, "", true},
		{roles.LevelSystemAdmin, "c1", false},
		{roles.LevelStaffMember, "c1", true},
		{roles.LevelStaffMember, "", false},
		{roles.LevelCompanyOwner, "c1", false},
		{roles.LevelUser, "", true},
	}
	for _, tc := range cases {
		got, err := store.HasRole(ctx, "u1", tc.role, tc.company)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s in %q", tc.role, tc.company)
	}
}

func TestResolveSelection(t *testing.T) {
	store, repo := newStore(t)
	ctx := context.Background()
	repo.Put(roles.Assignment{ID: "mine", UserID: "u1", Role: roles.LevelCompanyOwner, CompanyID: "c1", IsActive: true})
	repo.Put(roles.Assignment{ID: "off", UserID: "u1", Role: roles.LevelStaffMember, CompanyID: "c2"})
	repo.Put(roles.Assignment{ID: "theirs", UserID: "u2", Role: roles.LevelStaffMember, CompanyID: "c1", IsActive: true})

	a, err := store.ResolveSelection(ctx, "u1", "mine")
	require.NoError(t, err)
	assert.Equal(t, "c1", a.CompanyID)

	for _, id := range []string{"off", "theirs", "missing"} {
		_, err := store.ResolveSelection(ctx, "u1", id)
		assert.ErrorIs(t, err, shared.ErrInvalidRoleSelection, id)
		assert.ErrorIs(t, err, shared.ErrValidation, id)
	}
}

type fakeProber struct {
	exists bool
	err    error
}

func (p fakeProber) HasTable(ctx context.Context, name string) (bool, error) {
	return p.exists, p.err
}

func TestDetectSchema(t *testing.T) {
	ctx := context.Background()

	schema, err := roles.DetectSchema(ctx, fakeProber{exists: true}, roles.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, roles.SchemaNormalized, schema)

	schema, err = roles.DetectSchema(ctx, fakeProber{}, "")
	require.NoError(t, err)
	assert.Equal(t, roles.SchemaLegacy, schema)

	schema, err = roles.DetectSchema(ctx, fakeProber{err: errors.New("down")}, roles.ModeLegacy)
	require.NoError(t, err)
	assert.Equal(t, roles.SchemaLegacy, schema)

	_, err = roles.DetectSchema(ctx, fakeProber{err: errors.New("down")}, roles.ModeAuto)
	assert.Error(t, err)

	_, err = roles.DetectSchema(ctx, fakeProber{}, roles.Mode("sharded"))
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	mode, err := roles.ParseMode(" Legacy ")
	require.NoError(t, err)
	assert.Equal(t, roles.ModeLegacy, mode)

	mode, err = roles.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, roles.ModeAuto, mode)

	_, err = roles.ParseMode("sharded")
	assert.Error(t, err)
}
