package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Prober answers catalog questions used for startup feature detection.
type Prober struct {
	pool *pgxpool.Pool
}

// NewProber wraps a pool.
func NewProber(pool *pgxpool.Pool) Prober {
	return Prober{pool: pool}
}

// HasTable reports whether public.<name> exists.
func (p Prober) HasTable(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("platform/db: probe %s: %w", name, err)
	}
	return exists, nil
}
