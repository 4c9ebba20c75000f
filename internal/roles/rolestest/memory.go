// Package rolestest provides an in-memory roles.Repository for tests.
package rolestest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// Repository is a map-backed roles.Repository. Transactions hold an exclusive lock
// and roll back every change when the callback fails.
type Repository struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	rows  map[string]roles.Assignment
	clock time.Time

	// Err, when set, is returned by every call.
	Err error
	// Inserts counts successful inserts.
	Inserts int
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{
		rows:  make(map[string]roles.Assignment),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Put stores a row as-is, bypassing validation.
func (r *Repository) Put(a roles.Assignment) roles.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.tick()
	}
	a.UpdatedAt = a.CreatedAt
	r.rows[a.ID] = a
	return a
}

// All returns every stored row ordered by creation.
func (r *Repository) All() []roles.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]roles.Assignment, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Repository) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *Repository) Insert(ctx context.Context, a roles.Assignment) (roles.Assignment, error) {
	if r.Err != nil {
		return roles.Assignment{}, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(a)
}

func (r *Repository) insert(a roles.Assignment) (roles.Assignment, error) {
	if _, ok := r.rows[a.ID]; ok {
		return roles.Assignment{}, shared.ErrDuplicate
	}
	a.CreatedAt = r.tick()
	a.UpdatedAt = a.CreatedAt
	r.rows[a.ID] = a
	r.Inserts++
	return a, nil
}

func (r *Repository) Get(ctx context.Context, id string) (roles.Assignment, error) {
	if r.Err != nil {
		return roles.Assignment{}, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return roles.Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *Repository) ListActiveByUser(ctx context.Context, userID string) ([]roles.Assignment, error) {
	return r.filter(func(a roles.Assignment) bool { return a.UserID == userID && a.IsActive })
}

func (r *Repository) ListActiveByUserAndCompany(ctx context.Context, userID, companyID string) ([]roles.Assignment, error) {
	return r.filter(func(a roles.Assignment) bool {
		return a.UserID == userID && a.CompanyID == companyID && a.IsActive
	})
}

func (r *Repository) FindDefault(ctx context.Context, userID string) (roles.Assignment, error) {
	list, err := r.filter(func(a roles.Assignment) bool {
		return a.UserID == userID && a.IsActive && a.IsDefault
	})
	if err != nil {
		return roles.Assignment{}, err
	}
	if len(list) == 0 {
		return roles.Assignment{}, shared.ErrNotFound
	}
	return list[0], nil
}

func (r *Repository) Exists(ctx context.Context, userID string, role roles.Level, companyID string) (bool, error) {
	list, err := r.filter(func(a roles.Assignment) bool {
		return a.UserID == userID && a.Role == role && a.CompanyID == companyID && a.IsActive
	})
	return len(list) > 0, err
}

func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.IsActive = active
	a.IsDefault = a.IsDefault && active
	a.UpdatedAt = r.tick()
	r.rows[id] = a
	return nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, roles.TxRepository) error) error {
	if r.Err != nil {
		return r.Err
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[string]roles.Assignment, len(r.rows))
	for k, v := range r.rows {
		snapshot[k] = v
	}
	inserts := r.Inserts
	r.mu.Unlock()

	if err := fn(ctx, &tx{repo: r}); err != nil {
		r.mu.Lock()
		r.rows = snapshot
		r.Inserts = inserts
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Repository) filter(keep func(roles.Assignment) bool) ([]roles.Assignment, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []roles.Assignment
	for _, a := range r.rows {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type tx struct {
	repo *Repository
}

func (t *tx) Insert(ctx context.Context, a roles.Assignment) (roles.Assignment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.insert(a)
}

func (t *tx) LockUser(ctx context.Context, userID string) error {
	return nil
}

func (t *tx) ClearDefault(ctx context.Context, userID string) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for id, a := range t.repo.rows {
		if a.UserID == userID && a.IsDefault {
			a.IsDefault = false
			a.UpdatedAt = t.repo.tick()
			t.repo.rows[id] = a
		}
	}
	return nil
}

func (t *tx) MarkDefault(ctx context.Context, userID, id string) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	a, ok := t.repo.rows[id]
	if !ok || a.UserID != userID || !a.IsActive || !a.Role.Elevated() {
		return false, nil
	}
	a.IsDefault = true
	a.UpdatedAt = t.repo.tick()
	t.repo.rows[id] = a
	return true, nil
}

var _ roles.Repository = (*Repository)(nil)
