package companies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
)

// RoleStore is the slice of the role store used by company flows.
type RoleStore interface {
	Create(ctx context.Context, in roles.CreateInput) (*roles.Assignment, error)
	FindActiveByUser(ctx context.Context, userID string) ([]roles.Assignment, error)
	GetDefaultRole(ctx context.Context, userID string) (roles.Grant, error)
	HasRole(ctx context.Context, userID string, role roles.Level, companyID string) (bool, error)
	SetDefault(ctx context.Context, userID, assignmentID string) error
	SetActive(ctx context.Context, assignmentID string, active bool) error
}

// Accounts is the slice of the account service used by company flows.
type Accounts interface {
	EnsurePlaceholder(ctx context.Context, email, firstName, lastName string, level roles.Level) (users.Account, bool, error)
	SetLegacyRole(ctx context.Context, id string, level roles.Level, companyID string) error
}

// Service orchestrates company registration, approval and staffing.
type Service struct {
	repo     Repository
	roles    RoleStore
	accounts Accounts
	logger   *slog.Logger
	newID    func() string
}

// NewService builds a Service.
func NewService(repo Repository, store RoleStore, accounts Accounts, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: store, accounts: accounts, logger: logger, newID: uuid.NewString}
}

// Register creates a pending company owned by ownerID together with an inactive
// COMPANY_OWNER assignment that approval activates.
func (s *Service) Register(ctx context.Context, ownerID string, in RegisterInput) (Company, error) {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n < 2 || n > 120 {
		return Company{}, fmt.Errorf("company name must be 2-120 characters: %w", shared.ErrValidation)
	}
	slug := Slugify(name)
	if slug == "" {
		return Company{}, fmt.Errorf("company name needs letters or digits: %w", shared.ErrValidation)
	}

	c := Company{ID: s.newID(), Name: name, Slug: slug, Status: StatusPending, OwnerID: ownerID}
	created, err := s.repo.Create(ctx, c)
	if errors.Is(err, shared.ErrDuplicate) {
		c.Slug = slug + "-" + c.ID[:6]
		created, err = s.repo.Create(ctx, c)
	}
	if err != nil {
		return Company{}, fmt.Errorf("companies: create: %w", err)
	}

	owner, err := s.roles.Create(ctx, roles.CreateInput{
		UserID:    ownerID,
		Role:      roles.LevelCompanyOwner,
		CompanyID: created.ID,
		IsActive:  false,
	})
	if err != nil {
		s.discard(ctx, created.ID)
		return Company{}, fmt.Errorf("companies: owner role: %w", err)
	}
	if owner != nil {
		if err := s.repo.SetOwnerRole(ctx, created.ID, owner.ID); err != nil {
			s.discard(ctx, created.ID)
			return Company{}, fmt.Errorf("companies: link owner role: %w", err)
		}
		created.OwnerRoleID = owner.ID
	}
	s.logger.InfoContext(ctx, "company registered",
		slog.String("company_id", created.ID), slog.String("owner_id", ownerID))
	return created, nil
}

// discard deletes a company whose registration could not complete.
func (s *Service) discard(ctx context.Context, id string) {
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.ErrorContext(ctx, "discard company", slog.String("company_id", id), slog.Any("error", err))
	}
}

// Approve activates a pending company and its owner assignment. The assignment
// becomes the owner's default when they have none.
func (s *Service) Approve(ctx context.Context, id string) (Company, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	switch c.Status {
	case StatusApproved:
		return c, nil
	case StatusRejected:
		return Company{}, fmt.Errorf("company %s was rejected: %w", id, shared.ErrValidation)
	}

	if c.OwnerRoleID != "" {
		if err := s.roles.SetActive(ctx, c.OwnerRoleID, true); err != nil {
			return Company{}, fmt.Errorf("companies: activate owner role: %w", err)
		}
		grant, err := s.roles.GetDefaultRole(ctx, c.OwnerID)
		if err != nil {
			return Company{}, fmt.Errorf("companies: owner default: %w", err)
		}
		if _, ok := roles.AssignmentOf(grant); !ok {
			if err := s.roles.SetDefault(ctx, c.OwnerID, c.OwnerRoleID); err != nil {
				return Company{}, fmt.Errorf("companies: owner default: %w", err)
			}
		}
	} else if err := s.accounts.SetLegacyRole(ctx, c.OwnerID, roles.LevelCompanyOwner, c.ID); err != nil {
		return Company{}, fmt.Errorf("companies: legacy owner role: %w", err)
	}

	if err := s.repo.SetStatus(ctx, c.ID, StatusApproved); err != nil {
		return Company{}, fmt.Errorf("companies: approve: %w", err)
	}
	c.Status = StatusApproved
	s.logger.InfoContext(ctx, "company approved", slog.String("company_id", c.ID))
	return c, nil
}

// Reject marks a pending company as rejected. The owner assignment stays inactive.
func (s *Service) Reject(ctx context.Context, id string) (Company, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return Company{}, err
	}
	if c.Status != StatusPending {
		return Company{}, fmt.Errorf("company %s is %s: %w", id, c.Status, shared.ErrValidation)
	}
	if err := s.repo.SetStatus(ctx, c.ID, StatusRejected); err != nil {
		return Company{}, fmt.Errorf("companies: reject: %w", err)
	}
	c.Status = StatusRejected
	return c, nil
}

// Get returns a company by id.
func (s *Service) Get(ctx context.Context, id string) (Company, error) {
	if strings.TrimSpace(id) == "" {
		return Company{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns every company to system admins and, to everyone else, the companies
// they own or hold an active role in.
func (s *Service) List(ctx context.Context, p *rbac.Principal, filter ListFilter) ([]Company, error) {
	if p == nil {
		return nil, shared.ErrUnauthenticated
	}
	if p.IsSystemAdmin() {
		return s.repo.List(ctx, filter)
	}
	assignments, err := s.roles.FindActiveByUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("companies: memberships: %w", err)
	}
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if !a.Global() {
			ids = append(ids, a.CompanyID)
		}
	}
	return s.repo.ListForUser(ctx, p.UserID, ids)
}

// HireStaff grants STAFF_MEMBER in an approved company. Unknown emails get a
// placeholder account that the person claims by registering.
func (s *Service) HireStaff(ctx context.Context, companyID string, in HireInput) (HireResult, error) {
	c, err := s.Get(ctx, companyID)
	if err != nil {
		return HireResult{}, err
	}
	if c.Status != StatusApproved {
		return HireResult{}, fmt.Errorf("company %s is not approved: %w", companyID, shared.ErrValidation)
	}

	acct, created, err := s.accounts.EnsurePlaceholder(ctx, in.Email, in.FirstName, in.LastName, roles.LevelStaffMember)
	if err != nil {
		return HireResult{}, fmt.Errorf("companies: staff account: %w", err)
	}
	has, err := s.roles.HasRole(ctx, acct.ID, roles.LevelStaffMember, c.ID)
	if err != nil {
		return HireResult{}, fmt.Errorf("companies: staff lookup: %w", err)
	}
	if has {
		return HireResult{}, fmt.Errorf("%s already works for %s: %w", acct.Email, c.Name, shared.ErrDuplicate)
	}

	assignment, err := s.roles.Create(ctx, roles.CreateInput{
		UserID:    acct.ID,
		Role:      roles.LevelStaffMember,
		CompanyID: c.ID,
		IsActive:  true,
	})
	if err != nil {
		return HireResult{}, fmt.Errorf("companies: staff role: %w", err)
	}
	if assignment == nil {
		if err := s.accounts.SetLegacyRole(ctx, acct.ID, roles.LevelStaffMember, c.ID); err != nil {
			return HireResult{}, fmt.Errorf("companies: legacy staff role: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "staff hired",
		slog.String("company_id", c.ID), slog.String("user_id", acct.ID), slog.Bool("invited", created))
	return HireResult{Account: acct, Assignment: assignment, Invited: created}, nil
}

// ListStaff returns the owner and staff assignments of a company.
func (s *Service) ListStaff(ctx context.Context, companyID string) ([]StaffMember, error) {
	if _, err := s.Get(ctx, companyID); err != nil {
		return nil, err
	}
	return s.repo.ListStaff(ctx, companyID)
}
