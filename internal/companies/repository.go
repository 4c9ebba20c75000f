package companies

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// Repository defines persistence operations for companies.
type Repository interface {
	Create(ctx context.Context, c Company) (Company, error)
	Get(ctx context.Context, id string) (Company, error)
	List(ctx context.Context, filter ListFilter) ([]Company, error)
	ListForUser(ctx context.Context, userID string, companyIDs []string) ([]Company, error)
	SetStatus(ctx context.Context, id string, status Status) error
	SetOwnerRole(ctx context.Context, id, roleID string) error
	Delete(ctx context.Context, id string) error
	ListStaff(ctx context.Context, companyID string) ([]StaffMember, error)
}

const companyColumns = `id, name, slug, status, owner_id, COALESCE(owner_role_id, ''), created_at, updated_at`

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Create(ctx context.Context, c Company) (Company, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO companies (id, name, slug, status, owner_id, owner_role_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+companyColumns,
		c.ID, c.Name, c.Slug, string(c.Status), c.OwnerID, nullable(c.OwnerRoleID))
	created, err := scanCompany(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Company{}, fmt.Errorf("company slug %q: %w", c.Slug, shared.ErrDuplicate)
		}
		return Company{}, err
	}
	return created, nil
}

func (r *repository) Get(ctx context.Context, id string) (Company, error) {
	c, err := scanCompany(r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, shared.ErrNotFound
		}
		return Company{}, err
	}
	return c, nil
}

// List uses a dynamic query due to optional filters.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies`
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR slug ILIKE $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY name ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return r.many(ctx, query, args...)
}

func (r *repository) ListForUser(ctx context.Context, userID string, companyIDs []string) ([]Company, error) {
	return r.many(ctx, `SELECT `+companyColumns+` FROM companies
		WHERE owner_id = $1 OR id = ANY($2)
		ORDER BY name ASC`, userID, companyIDs)
}

func (r *repository) SetStatus(ctx context.Context, id string, status Status) error {
	return r.exec(ctx, `UPDATE companies SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (r *repository) SetOwnerRole(ctx context.Context, id, roleID string) error {
	return r.exec(ctx, `UPDATE companies SET owner_role_id = $2, updated_at = NOW() WHERE id = $1`, id, roleID)
}

// Delete removes a company; its role assignments cascade.
func (r *repository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
}

func (r *repository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListStaff returns staff and owner assignments of a company. A missing users_role
// relation yields an empty list.
func (r *repository) ListStaff(ctx context.Context, companyID string) ([]StaffMember, error) {
	rows, err := r.pool.Query(ctx, `SELECT ur.id, ur.role, ur.is_active, u.id, u.email, u.first_name,
			u.last_name, u.password_hash IS NOT NULL AND u.password_hash <> ''
		FROM users_role ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.company_id = $1 AND ur.role IN ($2, $3)
		ORDER BY ur.role ASC, ur.created_at ASC`,
		companyID, int16(roles.LevelCompanyOwner), int16(roles.LevelStaffMember))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	var out []StaffMember
	for rows.Next() {
		var (
			m    StaffMember
			role int16
		)
		if err := rows.Scan(&m.AssignmentID, &role, &m.IsActive, &m.UserID, &m.Email,
			&m.FirstName, &m.LastName, &m.Claimed); err != nil {
			return nil, err
		}
		m.Role = roles.Level(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) many(ctx context.Context, query string, args ...any) ([]Company, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCompany(row pgx.Row) (Company, error) {
	var (
		c      Company
		status string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &status, &c.OwnerID, &c.OwnerRoleID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Company{}, err
	}
	c.Status = Status(status)
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
