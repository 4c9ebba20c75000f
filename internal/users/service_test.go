package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
	"github.com/appointly/appointly/internal/users/userstest"
)

func TestLookupPrefersExactMatch(t *testing.T) {
	repo := userstest.New()
	repo.Put(users.Account{ID: "alias", Email: "a+1700000000@x.com"})
	repo.Put(users.Account{ID: "exact", Email: "a@x.com"})
	svc := users.NewService(repo, nil)

	acct, err := svc.Lookup(context.Background(), " A@X.com")
	require.NoError(t, err)
	assert.Equal(t, "exact", acct.ID)
}

func TestLookupFallsBackToNewestLegacyAlias(t *testing.T) {
	repo := userstest.New()
	base := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.Put(users.Account{ID: "old", Email: "a+1@x.com", CreatedAt: base})
	repo.Put(users.Account{ID: "new", Email: "a+2@x.com", CreatedAt: base.Add(time.Hour)})
	repo.Put(users.Account{ID: "noise", Email: "a+tag@x.com", CreatedAt: base.Add(2 * time.Hour)})
	svc := users.NewService(repo, nil)

	acct, err := svc.Lookup(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "new", acct.ID)

	_, err = svc.Lookup(context.Background(), "b@x.com")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateAppliesDefaultAccountState(t *testing.T) {
	svc := users.NewService(userstest.New(), nil)

	acct, err := svc.Create(context.Background(), users.NewAccount{Email: "Owner@Shop.io", PasswordHash: "h", Level: roles.LevelCompanyOwner})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, "owner@shop.io", acct.Email)
	assert.True(t, acct.IsActive)
	assert.False(t, acct.IsVerified)
	assert.Equal(t, "week", acct.Preferences.CalendarView)

	_, err = svc.Create(context.Background(), users.NewAccount{Email: "owner@shop.io"})
	assert.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = svc.Create(context.Background(), users.NewAccount{Email: " "})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestEnsurePlaceholder(t *testing.T) {
	repo := userstest.New()
	repo.Put(users.Account{ID: "known", Email: "known@x.com", PasswordHash: "h"})
	svc := users.NewService(repo, nil)
	ctx := context.Background()

	acct, created, err := svc.EnsurePlaceholder(ctx, "known@x.com", "K", "N", roles.LevelStaffMember)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "known", acct.ID)

	acct, created, err = svc.EnsurePlaceholder(ctx, "new@x.com", "New", "Hire", roles.LevelStaffMember)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, acct.Claimed())
	assert.Equal(t, "day", acct.Preferences.CalendarView)

	claimed, err := svc.Claim(ctx, acct.ID, users.ClaimInput{PasswordHash: "hash", FirstName: " New ", LastName: "Hire"})
	require.NoError(t, err)
	assert.True(t, claimed.Claimed())
	assert.True(t, claimed.IsVerified)
	assert.Equal(t, "New", claimed.FirstName)

	_, err = svc.Claim(ctx, acct.ID, users.ClaimInput{PasswordHash: "again"})
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestSetLegacyRoleRejectsInvalidLevel(t *testing.T) {
	repo := userstest.New()
	repo.Put(users.Account{ID: "u1", Email: "u1@x.com"})
	svc := users.NewService(repo, nil)

	assert.ErrorIs(t, svc.SetLegacyRole(context.Background(), "u1", roles.Level(6), ""), shared.ErrValidation)
	require.NoError(t, svc.SetLegacyRole(context.Background(), "u1", roles.LevelCompanyOwner, "c1"))

	acct, err := svc.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, acct.LegacyRole)
	assert.Equal(t, roles.LevelCompanyOwner, *acct.LegacyRole)
	assert.Equal(t, "c1", acct.LegacyCompanyID)
}
