package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appointly/appointly/internal/platform/db"
	"github.com/appointly/appointly/internal/shared"
)

// Repository defines persistence operations for role assignments.
type Repository interface {
	Insert(ctx context.Context, a Assignment) (Assignment, error)
	Get(ctx context.Context, id string) (Assignment, error)
	ListActiveByUser(ctx context.Context, userID string) ([]Assignment, error)
	ListActiveByUserAndCompany(ctx context.Context, userID, companyID string) ([]Assignment, error)
	FindDefault(ctx context.Context, userID string) (Assignment, error)
	Exists(ctx context.Context, userID string, role Level, companyID string) (bool, error)
	SetActive(ctx context.Context, id string, active bool) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the statements that must run inside one transaction.
type TxRepository interface {
	Insert(ctx context.Context, a Assignment) (Assignment, error)
	LockUser(ctx context.Context, userID string) error
	ClearDefault(ctx context.Context, userID string) error
	MarkDefault(ctx context.Context, userID, id string) (bool, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const assignmentColumns = `id, user_id, role, company_id, is_active, is_default, created_at, updated_at`

// PGRepository implements Repository over the normalized users_role table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx wraps callback in a read-committed transaction; row locks taken through
// LockUser serialize concurrent default switches for the same user.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return mapError(db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	}))
}

// Insert stores a new assignment.
func (r *PGRepository) Insert(ctx context.Context, a Assignment) (Assignment, error) {
	return insert(ctx, r.pool, a)
}

// Get fetches an assignment by id regardless of its active flag.
func (r *PGRepository) Get(ctx context.Context, id string) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM users_role WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, shared.ErrNotFound
		}
		return Assignment{}, mapError(err)
	}
	return a, nil
}

// ListActiveByUser returns the active elevated assignments of a user.
func (r *PGRepository) ListActiveByUser(ctx context.Context, userID string) ([]Assignment, error) {
	return r.list(ctx, `SELECT `+assignmentColumns+` FROM users_role
		WHERE user_id = $1 AND is_active AND role < $2
		ORDER BY is_default DESC, created_at ASC`, userID, LevelUser)
}

// ListActiveByUserAndCompany returns the active assignments of a user within one company.
func (r *PGRepository) ListActiveByUserAndCompany(ctx context.Context, userID, companyID string) ([]Assignment, error) {
	return r.list(ctx, `SELECT `+assignmentColumns+` FROM users_role
		WHERE user_id = $1 AND company_id = $2 AND is_active AND role < $3
		ORDER BY is_default DESC, created_at ASC`, userID, companyID, LevelUser)
}

// FindDefault returns the active default assignment of a user or shared.ErrNotFound.
func (r *PGRepository) FindDefault(ctx context.Context, userID string) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM users_role
		WHERE user_id = $1 AND is_default AND is_active AND role < $2
		ORDER BY updated_at DESC LIMIT 1`, userID, LevelUser)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, shared.ErrNotFound
		}
		return Assignment{}, mapError(err)
	}
	return a, nil
}

// Exists reports whether an active assignment matches. An empty companyID matches
// global assignments only.
func (r *PGRepository) Exists(ctx context.Context, userID string, role Level, companyID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM users_role
		WHERE user_id = $1 AND role = $2 AND is_active
		  AND company_id IS NOT DISTINCT FROM $3)`, userID, role, nullable(companyID)).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// SetActive toggles the active flag. Deactivation also drops the default mark.
func (r *PGRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users_role
		SET is_active = $2, is_default = is_default AND $2, updated_at = NOW()
		WHERE id = $1`, id, active)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

type txRepo struct {
	q querier
}

func (t *txRepo) Insert(ctx context.Context, a Assignment) (Assignment, error) {
	return insert(ctx, t.q, a)
}

func (t *txRepo) LockUser(ctx context.Context, userID string) error {
	rows, err := t.q.Query(ctx, `SELECT id FROM users_role WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		return mapError(err)
	}
	rows.Close()
	return mapError(rows.Err())
}

func (t *txRepo) ClearDefault(ctx context.Context, userID string) error {
	_, err := t.q.Exec(ctx, `UPDATE users_role SET is_default = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_default`, userID)
	return mapError(err)
}

func (t *txRepo) MarkDefault(ctx context.Context, userID, id string) (bool, error) {
	tag, err := t.q.Exec(ctx, `UPDATE users_role SET is_default = TRUE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND is_active AND role < $3`, id, userID, LevelUser)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func insert(ctx context.Context, q querier, a Assignment) (Assignment, error) {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := q.Exec(ctx, `INSERT INTO users_role (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.Role, nullable(a.CompanyID), a.IsActive, a.IsDefault, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return Assignment{}, fmt.Errorf("roles: assignment exists: %w", shared.ErrDuplicate)
			case pgerrcode.ForeignKeyViolation:
				return Assignment{}, fmt.Errorf("roles: unknown user or company: %w", shared.ErrValidation)
			}
		}
		return Assignment{}, mapError(err)
	}
	return a, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a         Assignment
		companyID *string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Role, &companyID, &a.IsActive, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Assignment{}, err
	}
	if companyID != nil {
		a.CompanyID = *companyID
	}
	return a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// mapError turns a missing users_role relation into ErrSchemaUnavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %s", ErrSchemaUnavailable, pgErr.Message)
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
