// Package userstest provides an in-memory users.Repository for tests.
package userstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
)

// Repository is a map-backed users.Repository.
type Repository struct {
	mu    sync.Mutex
	rows  map[string]users.Account
	clock time.Time

	// Err, when set, is returned by every call.
	Err error
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{
		rows:  make(map[string]users.Account),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Put stores an account as-is.
func (r *Repository) Put(a users.Account) users.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.CreatedAt.IsZero() {
		r.clock = r.clock.Add(time.Second)
		a.CreatedAt = r.clock
	}
	a.UpdatedAt = a.CreatedAt
	r.rows[a.ID] = a
	return a
}

func (r *Repository) FindByID(ctx context.Context, id string) (users.Account, error) {
	if r.Err != nil {
		return users.Account{}, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return users.Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (users.Account, error) {
	if r.Err != nil {
		return users.Account{}, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Email == email {
			return a, nil
		}
	}
	return users.Account{}, shared.ErrNotFound
}

func (r *Repository) FindLegacyAliases(ctx context.Context, email string) ([]users.Account, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return nil, nil
	}
	prefix, suffix := email[:at]+"+", email[at:]
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []users.Account
	for _, a := range r.rows {
		if strings.HasPrefix(a.Email, prefix) && strings.HasSuffix(a.Email, suffix) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) Create(ctx context.Context, a users.Account) (users.Account, error) {
	if r.Err != nil {
		return users.Account{}, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.Email == a.Email {
			return users.Account{}, shared.ErrDuplicate
		}
	}
	r.clock = r.clock.Add(time.Second)
	a.CreatedAt, a.UpdatedAt = r.clock, r.clock
	r.rows[a.ID] = a
	return a, nil
}

func (r *Repository) Claim(ctx context.Context, id string, in users.ClaimInput) (users.Account, error) {
	var out users.Account
	err := r.update(id, func(a *users.Account) error {
		if a.Claimed() {
			return shared.ErrDuplicate
		}
		a.PasswordHash = in.PasswordHash
		a.FirstName, a.LastName = in.FirstName, in.LastName
		a.IsVerified, a.IsActive = true, true
		out = *a
		return nil
	})
	return out, err
}

func (r *Repository) Unclaim(ctx context.Context, prev users.Account) error {
	return r.update(prev.ID, func(a *users.Account) error {
		a.PasswordHash = prev.PasswordHash
		a.FirstName, a.LastName = prev.FirstName, prev.LastName
		a.IsVerified, a.IsActive = prev.IsVerified, prev.IsActive
		return nil
	})
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *Repository) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.update(id, func(a *users.Account) error { a.PasswordHash = hash; return nil })
}

func (r *Repository) MarkVerified(ctx context.Context, id string) error {
	return r.update(id, func(a *users.Account) error { a.IsVerified = true; return nil })
}

func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(id, func(a *users.Account) error { a.IsActive = active; return nil })
}

func (r *Repository) SetLegacyRole(ctx context.Context, id string, level roles.Level, companyID string) error {
	return r.update(id, func(a *users.Account) error {
		a.LegacyRole = &level
		a.LegacyCompanyID = companyID
		return nil
	})
}

func (r *Repository) List(ctx context.Context, filter users.ListFilter) ([]users.Account, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []users.Account
	for _, a := range r.rows {
		if filter.Active != nil && a.IsActive != *filter.Active {
			continue
		}
		if filter.Search != "" && !strings.Contains(a.Email, strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) update(id string, fn func(*users.Account) error) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	if err := fn(&a); err != nil {
		return err
	}
	r.rows[id] = a
	return nil
}

var _ users.Repository = (*Repository)(nil)
