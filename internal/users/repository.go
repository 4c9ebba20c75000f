package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// Repository defines persistence operations for accounts.
type Repository interface {
	FindByID(ctx context.Context, id string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindLegacyAliases(ctx context.Context, email string) ([]Account, error)
	Create(ctx context.Context, a Account) (Account, error)
	Claim(ctx context.Context, id string, in ClaimInput) (Account, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	MarkVerified(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetLegacyRole(ctx context.Context, id string, level roles.Level, companyID string) error
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	Delete(ctx context.Context, id string) error
	Unclaim(ctx context.Context, prev Account) error
}

const accountColumns = `id, email, COALESCE(password_hash, ''), first_name, last_name, phone,
	is_active, is_verified, preferences, role, COALESCE(company_id, ''), created_at, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByID fetches an account by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (Account, error) {
	return r.one(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail fetches an account by its exact, normalized email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return r.one(ctx, `SELECT `+accountColumns+` FROM users WHERE email = $1`, email)
}

// FindLegacyAliases returns accounts stored as local+suffix@domain, newest first.
// Callers filter the candidates with MatchesLegacyAlias.
func (r *PGRepository) FindLegacyAliases(ctx context.Context, email string) ([]Account, error) {
	local, domain, ok := splitEmail(email)
	if !ok {
		return nil, nil
	}
	pattern := escapeLike(local) + `+%@` + escapeLike(domain)
	return r.many(ctx, `SELECT `+accountColumns+` FROM users
		WHERE email LIKE $1 ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT 20`, pattern)
}

// Create inserts a new account.
func (r *PGRepository) Create(ctx context.Context, a Account) (Account, error) {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.pool.Exec(ctx, `INSERT INTO users
		(id, email, password_hash, first_name, last_name, phone, is_active, is_verified, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Email, nullableText(a.PasswordHash), a.FirstName, a.LastName, a.Phone,
		a.IsActive, a.IsVerified, a.Preferences, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Account{}, fmt.Errorf("users: email %s: %w", a.Email, shared.ErrDuplicate)
		}
		return Account{}, err
	}
	return a, nil
}

// Claim sets credentials on a pre-created account. It only succeeds while the
// account has no password, so two concurrent claims cannot both win.
func (r *PGRepository) Claim(ctx context.Context, id string, in ClaimInput) (Account, error) {
	acct, err := r.one(ctx, `UPDATE users
		SET password_hash = $2, first_name = $3, last_name = $4,
		    is_verified = TRUE, is_active = TRUE, updated_at = NOW()
		WHERE id = $1 AND (password_hash IS NULL OR password_hash = '')
		RETURNING `+accountColumns, id, in.PasswordHash, in.FirstName, in.LastName)
	if errors.Is(err, shared.ErrNotFound) {
		return Account{}, fmt.Errorf("users: account already claimed: %w", shared.ErrDuplicate)
	}
	return acct, err
}

// Unclaim writes back the placeholder state prev held before Claim.
func (r *PGRepository) Unclaim(ctx context.Context, prev Account) error {
	return r.exec(ctx, `UPDATE users
		SET password_hash = NULLIF($2, ''), first_name = $3, last_name = $4,
		    is_verified = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1`, prev.ID, prev.PasswordHash, prev.FirstName, prev.LastName, prev.IsVerified, prev.IsActive)
}

// Delete removes an account.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

// UpdatePassword stores a new password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

// MarkVerified flags the account email as verified.
func (r *PGRepository) MarkVerified(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

// SetActive toggles the account active flag.
func (r *PGRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

// SetLegacyRole writes the pre-migration role columns.
func (r *PGRepository) SetLegacyRole(ctx context.Context, id string, level roles.Level, companyID string) error {
	return r.exec(ctx, `UPDATE users SET role = $2, company_id = $3, updated_at = NOW() WHERE id = $1`,
		id, int16(level), nullableText(companyID))
}

// List returns accounts ordered by creation, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+escapeLike(NormalizeEmail(s))+"%")
		where = append(where, fmt.Sprintf(`(email LIKE $%d ESCAPE '\' OR lower(first_name || ' ' || last_name) LIKE $%d ESCAPE '\')`, len(args), len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	query := `SELECT ` + accountColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return r.many(ctx, query, args...)
}

func (r *PGRepository) one(ctx context.Context, query string, args ...any) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *PGRepository) many(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PGRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a    Account
		role *int16
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Phone,
		&a.IsActive, &a.IsVerified, &a.Preferences, &role, &a.LegacyCompanyID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	if role != nil {
		level := roles.Level(*role)
		a.LegacyRole = &level
	}
	return a, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ Repository = (*PGRepository)(nil)
