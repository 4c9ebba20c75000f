package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/appointly/appointly/internal/shared"
)

// Store is the role-assignment service used by login, authentication and guards.
// It is the only place where ErrSchemaUnavailable is absorbed.
type Store struct {
	repo   Repository
	schema Schema
	logger *slog.Logger
	newID  func() string
}

// NewStore constructs a Store over the strategy chosen by DetectSchema.
func NewStore(repo Repository, schema Schema, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, schema: schema, logger: logger, newID: uuid.NewString}
}

// Legacy reports whether role data still lives in the users.role column.
func (s *Store) Legacy() bool {
	return s.schema == SchemaLegacy
}

// Create persists a new assignment. Requests for LevelUser are ignored and return
// (nil, nil): the user level is implicit and never stored.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Assignment, error) {
	if in.Role == LevelUser {
		return nil, nil
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("roles: invalid level %d: %w", in.Role, shared.ErrValidation)
	}
	in.UserID = strings.TrimSpace(in.UserID)
	in.CompanyID = strings.TrimSpace(in.CompanyID)
	if in.UserID == "" {
		return nil, fmt.Errorf("roles: user id required: %w", shared.ErrValidation)
	}
	if in.CompanyID == "" && in.Role != LevelSystemAdmin {
		return nil, fmt.Errorf("roles: %s requires a company: %w", in.Role, shared.ErrValidation)
	}

	a := Assignment{
		ID:        s.newID(),
		UserID:    in.UserID,
		Role:      in.Role,
		CompanyID: in.CompanyID,
		IsActive:  in.IsActive,
	}

	var (
		created Assignment
		err     error
	)
	if in.IsDefault && in.IsActive {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.LockUser(ctx, a.UserID); err != nil {
				return err
			}
			if err := tx.ClearDefault(ctx, a.UserID); err != nil {
				return err
			}
			a.IsDefault = true
			var insertErr error
			created, insertErr = tx.Insert(ctx, a)
			return insertErr
		})
	} else {
		created, err = s.repo.Insert(ctx, a)
	}
	if err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "create", err)
			return nil, nil
		}
		return nil, fmt.Errorf("roles: create: %w", err)
	}
	return &created, nil
}

// Get fetches an assignment by id.
func (s *Store) Get(ctx context.Context, id string) (Assignment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "get", err)
			return Assignment{}, shared.ErrNotFound
		}
		return Assignment{}, err
	}
	return a, nil
}

// FindActiveByUser returns the user's active elevated assignments, default first
// then oldest first.
func (s *Store) FindActiveByUser(ctx context.Context, userID string) ([]Assignment, error) {
	list, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "find_active_by_user", err)
			return nil, nil
		}
		return nil, fmt.Errorf("roles: list by user: %w", err)
	}
	return activeElevated(list), nil
}

// FindByUserAndCompany returns the user's active assignments within one company.
func (s *Store) FindByUserAndCompany(ctx context.Context, userID, companyID string) ([]Assignment, error) {
	list, err := s.repo.ListActiveByUserAndCompany(ctx, userID, companyID)
	if err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "find_by_user_and_company", err)
			return nil, nil
		}
		return nil, fmt.Errorf("roles: list by company: %w", err)
	}
	return activeElevated(list), nil
}

// GetDefaultRole returns the user's active default assignment or ImplicitUser.
// A user without a default is never an error.
func (s *Store) GetDefaultRole(ctx context.Context, userID string) (Grant, error) {
	a, err := s.repo.FindDefault(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotFound):
		return ImplicitUser{}, nil
	case errors.Is(err, ErrSchemaUnavailable):
		s.degraded(ctx, "get_default_role", err)
		return ImplicitUser{}, nil
	default:
		return ImplicitUser{}, fmt.Errorf("roles: default role: %w", err)
	}
	if !a.IsActive || !a.Role.Elevated() {
		return ImplicitUser{}, nil
	}
	return a, nil
}

// CurrentRole resolves the role to act with: a company-scoped assignment when
// companyID is set, then the default role, then ImplicitUser.
func (s *Store) CurrentRole(ctx context.Context, userID, companyID string) (Grant, error) {
	if companyID != "" {
		scoped, err := s.FindByUserAndCompany(ctx, userID, companyID)
		if err != nil {
			return ImplicitUser{}, err
		}
		if len(scoped) > 0 {
			return scoped[0], nil
		}
	}
	return s.GetDefaultRole(ctx, userID)
}

// HasRole reports whether the user holds role in companyID. An empty companyID
// matches global assignments only. Every account holds LevelUser.
func (s *Store) HasRole(ctx context.Context, userID string, role Level, companyID string) (bool, error) {
	if role == LevelUser {
		return true, nil
	}
	if !role.Valid() {
		return false, nil
	}
	ok, err := s.repo.Exists(ctx, userID, role, companyID)
	if err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "has_role", err)
			return false, nil
		}
		return false, fmt.Errorf("roles: has role: %w", err)
	}
	return ok, nil
}

// SetDefault makes assignmentID the user's only default. Clearing the previous
// default and marking the new one happen in one transaction; an unknown, foreign or
// inactive target rolls both back and returns shared.ErrNotFound.
func (s *Store) SetDefault(ctx context.Context, userID, assignmentID string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.ClearDefault(ctx, userID); err != nil {
			return err
		}
		ok, err := tx.MarkDefault(ctx, userID, assignmentID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("roles: assignment %s: %w", assignmentID, shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "set_default", err)
			return nil
		}
		return err
	}
	return nil
}

// SetActive activates or deactivates an assignment.
func (s *Store) SetActive(ctx context.Context, assignmentID string, active bool) error {
	if err := s.repo.SetActive(ctx, assignmentID, active); err != nil {
		if errors.Is(err, ErrSchemaUnavailable) {
			s.degraded(ctx, "set_active", err)
			return nil
		}
		return err
	}
	return nil
}

// ResolveSelection returns the assignment a user picked for a session. It must exist,
// belong to userID and be active; anything else is shared.ErrInvalidRoleSelection.
func (s *Store) ResolveSelection(ctx context.Context, userID, assignmentID string) (Assignment, error) {
	a, err := s.Get(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Assignment{}, shared.ErrInvalidRoleSelection
		}
		return Assignment{}, err
	}
	if a.UserID != userID || !a.IsActive || !a.Role.Elevated() {
		return Assignment{}, shared.ErrInvalidRoleSelection
	}
	return a, nil
}

func (s *Store) degraded(ctx context.Context, op string, err error) {
	s.logger.DebugContext(ctx, "role store degraded to implicit user",
		slog.String("op", op), slog.String("schema", string(s.schema)), slog.Any("error", err))
}

func activeElevated(list []Assignment) []Assignment {
	out := make([]Assignment, 0, len(list))
	for _, a := range list {
		if a.IsActive && a.Role.Elevated() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
