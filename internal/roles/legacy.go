package roles

import (
	"context"
	"fmt"
	"strings"
)

// legacyRepository backs deployments that predate users_role. Every call reports
// ErrSchemaUnavailable so the Store answers "no elevated roles" and role data keeps
// living in the legacy users.role column.
type legacyRepository struct{}

// NewLegacyRepository returns the pre-migration strategy.
func NewLegacyRepository() Repository {
	return legacyRepository{}
}

func (legacyRepository) Insert(context.Context, Assignment) (Assignment, error) {
	return Assignment{}, ErrSchemaUnavailable
}

func (legacyRepository) Get(context.Context, string) (Assignment, error) {
	return Assignment{}, ErrSchemaUnavailable
}

func (legacyRepository) ListActiveByUser(context.Context, string) ([]Assignment, error) {
	return nil, ErrSchemaUnavailable
}

func (legacyRepository) ListActiveByUserAndCompany(context.Context, string, string) ([]Assignment, error) {
	return nil, ErrSchemaUnavailable
}

func (legacyRepository) FindDefault(context.Context, string) (Assignment, error) {
	return Assignment{}, ErrSchemaUnavailable
}

func (legacyRepository) Exists(context.Context, string, Level, string) (bool, error) {
	return false, ErrSchemaUnavailable
}

func (legacyRepository) SetActive(context.Context, string, bool) error {
	return ErrSchemaUnavailable
}

func (legacyRepository) WithTx(context.Context, func(context.Context, TxRepository) error) error {
	return ErrSchemaUnavailable
}

// TableProber reports whether a relation exists.
type TableProber interface {
	HasTable(ctx context.Context, name string) (bool, error)
}

// ParseMode validates a ROLE_STORE_MODE value. Empty means auto.
func ParseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeAuto, ModeNormalized, ModeLegacy:
		return mode, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("roles: unknown store mode %q", raw)
	}
}

// DetectSchema picks the storage strategy once per process.
func DetectSchema(ctx context.Context, prober TableProber, mode Mode) (Schema, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return "", err
	}
	switch mode {
	case ModeNormalized:
		return SchemaNormalized, nil
	case ModeLegacy:
		return SchemaLegacy, nil
	}
	ok, err := prober.HasTable(ctx, "users_role")
	if err != nil {
		return "", fmt.Errorf("roles: probe users_role: %w", err)
	}
	if ok {
		return SchemaNormalized, nil
	}
	return SchemaLegacy, nil
}
