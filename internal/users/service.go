package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// Service handles account business logic.
type Service struct {
	repo   Repository
	logger *slog.Logger
	newID  func() string
}

// NewService builds Service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, newID: uuid.NewString}
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	if strings.TrimSpace(id) == "" {
		return Account{}, shared.ErrNotFound
	}
	return s.repo.FindByID(ctx, id)
}

// Lookup resolves an account by email. An exact match wins; otherwise the newest
// legacy local+<digits>@domain alias is returned.
func (s *Service) Lookup(ctx context.Context, email string) (Account, error) {
	email = NormalizeEmail(email)
	acct, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Account{}, err
	}
	candidates, err := s.repo.FindLegacyAliases(ctx, email)
	if err != nil {
		return Account{}, err
	}
	for _, c := range candidates {
		if MatchesLegacyAlias(c.Email, email) {
			s.logger.DebugContext(ctx, "account resolved through legacy alias", slog.String("user_id", c.ID))
			return c, nil
		}
	}
	return Account{}, shared.ErrNotFound
}

// Create inserts a new account with the baseline state of level.
func (s *Service) Create(ctx context.Context, in NewAccount) (Account, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return Account{}, fmt.Errorf("users: email required: %w", shared.ErrValidation)
	}
	state := roles.DefaultAccountState(in.Level)
	acct := Account{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: in.PasswordHash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        strings.TrimSpace(in.Phone),
		IsActive:     state.IsActive,
		IsVerified:   state.IsVerified,
		Preferences:  state.Preferences,
	}
	return s.repo.Create(ctx, acct)
}

// EnsurePlaceholder returns the account for email, creating an unclaimed one when
// none exists. The bool reports whether an account was created.
func (s *Service) EnsurePlaceholder(ctx context.Context, email, firstName, lastName string, level roles.Level) (Account, bool, error) {
	acct, err := s.Lookup(ctx, email)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Account{}, false, err
	}
	acct, err = s.Create(ctx, NewAccount{Email: email, FirstName: firstName, LastName: lastName, Level: level})
	if err != nil {
		return Account{}, false, err
	}
	return acct, true, nil
}

// Claim completes a pre-created account.
func (s *Service) Claim(ctx context.Context, id string, in ClaimInput) (Account, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	return s.repo.Claim(ctx, id, in)
}

// Unclaim returns a claimed account to the unclaimed state captured in prev.
func (s *Service) Unclaim(ctx context.Context, prev Account) error {
	if prev.Claimed() {
		return fmt.Errorf("users: %s was already claimed: %w", prev.ID, shared.ErrValidation)
	}
	return s.repo.Unclaim(ctx, prev)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// SetPassword stores a new password hash.
func (s *Service) SetPassword(ctx context.Context, id, hash string) error {
	return s.repo.UpdatePassword(ctx, id, hash)
}

// MarkVerified flags the email as verified.
func (s *Service) MarkVerified(ctx context.Context, id string) error {
	return s.repo.MarkVerified(ctx, id)
}

// SetActive activates or deactivates an account.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// SetLegacyRole records a role in the pre-migration columns.
func (s *Service) SetLegacyRole(ctx context.Context, id string, level roles.Level, companyID string) error {
	if !level.Valid() {
		return fmt.Errorf("users: invalid level %d: %w", level, shared.ErrValidation)
	}
	return s.repo.SetLegacyRole(ctx, id, level, companyID)
}

// List returns accounts matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	return s.repo.List(ctx, filter)
}
