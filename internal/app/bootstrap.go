package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appointly/appointly/internal/platform/db"
	"github.com/appointly/appointly/internal/roles"
)

// rolesMigration creates users_role; legacy deployments never apply it.
const rolesMigration = "0003_users_role"

// TableProber reports whether a relation exists.
type TableProber interface {
	HasTable(ctx context.Context, name string) (bool, error)
}

// ResolveSchema picks the role storage strategy before migrations run. In auto
// mode an empty database counts as normalized so a fresh install gets users_role,
// while an existing users table without users_role stays legacy.
func ResolveSchema(ctx context.Context, prober TableProber, mode roles.Mode) (roles.Schema, error) {
	schema, err := roles.DetectSchema(ctx, prober, mode)
	if err != nil || schema == roles.SchemaNormalized || mode == roles.ModeLegacy {
		return schema, err
	}
	hasUsers, err := prober.HasTable(ctx, "users")
	if err != nil {
		return "", err
	}
	if !hasUsers {
		return roles.SchemaNormalized, nil
	}
	return roles.SchemaLegacy, nil
}

// PrepareDatabase resolves the role schema and applies the embedded migrations.
func PrepareDatabase(ctx context.Context, pool *pgxpool.Pool, mode roles.Mode, logger *slog.Logger) (roles.Schema, error) {
	schema, err := ResolveSchema(ctx, db.NewProber(pool), mode)
	if err != nil {
		return "", err
	}
	var skip []string
	if schema == roles.SchemaLegacy {
		skip = append(skip, rolesMigration)
	}
	if err := db.Migrate(ctx, pool, logger, skip...); err != nil {
		return "", err
	}
	logger.InfoContext(ctx, "database ready", slog.String("role_schema", string(schema)))
	return schema, nil
}

// NewRoleStore builds the role store for schema.
func NewRoleStore(pool *pgxpool.Pool, schema roles.Schema, logger *slog.Logger) *roles.Store {
	var repo roles.Repository = roles.NewLegacyRepository()
	if schema == roles.SchemaNormalized {
		repo = roles.NewRepository(pool)
	}
	return roles.NewStore(repo, schema, logger)
}
