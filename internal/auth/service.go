package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appointly/appointly/internal/rbac"
	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/session"
	"github.com/appointly/appointly/internal/shared"
	"github.com/appointly/appointly/internal/users"
	"github.com/appointly/appointly/jobs"
)

// Accounts is the account store used by the auth flows.
type Accounts interface {
	Get(ctx context.Context, id string) (users.Account, error)
	Lookup(ctx context.Context, email string) (users.Account, error)
	Create(ctx context.Context, in users.NewAccount) (users.Account, error)
	Claim(ctx context.Context, id string, in users.ClaimInput) (users.Account, error)
	SetPassword(ctx context.Context, id, hash string) error
	MarkVerified(ctx context.Context, id string) error
	SetLegacyRole(ctx context.Context, id string, level roles.Level, companyID string) error
	Delete(ctx context.Context, id string) error
	Unclaim(ctx context.Context, prev users.Account) error
}

// RoleStore is the slice of roles.Store used by the auth flows.
type RoleStore interface {
	Legacy() bool
	Create(ctx context.Context, in roles.CreateInput) (*roles.Assignment, error)
	FindActiveByUser(ctx context.Context, userID string) ([]roles.Assignment, error)
	GetDefaultRole(ctx context.Context, userID string) (roles.Grant, error)
	ResolveSelection(ctx context.Context, userID, assignmentID string) (roles.Assignment, error)
}

// Tokens signs session and role-selection tokens.
type Tokens interface {
	Issue(p session.Params) (string, session.Claims, error)
	IssueSelection(userID, email, impersonatedBy string) (string, time.Time, error)
	ParseSelection(raw string) (*session.SelectionClaims, error)
}

// OneTimeTokens stores single-use tokens.
type OneTimeTokens interface {
	Issue(ctx context.Context, purpose Purpose, userID string) (string, error)
	Consume(ctx context.Context, purpose Purpose, token string) (string, error)
}

// LoginRecorder counts login outcomes.
type LoginRecorder interface {
	ObserveLogin(outcome string)
}

type noopLoginRecorder struct{}

func (noopLoginRecorder) ObserveLogin(string) {}

// Config collects the collaborators of Service.
type Config struct {
	Accounts    Accounts
	Roles       RoleStore
	Tokens      Tokens
	OneTime     OneTimeTokens
	Hasher      PasswordHasher
	Mailer      Mailer
	Metrics     LoginRecorder
	Logger      *slog.Logger
	FrontendURL string
}

// Service implements login, registration, impersonation and account recovery.
type Service struct {
	accounts    Accounts
	roles       RoleStore
	tokens      Tokens
	onetime     OneTimeTokens
	hasher      PasswordHasher
	mailer      Mailer
	metrics     LoginRecorder
	logger      *slog.Logger
	frontendURL string
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	s := &Service{
		accounts:    cfg.Accounts,
		roles:       cfg.Roles,
		tokens:      cfg.Tokens,
		onetime:     cfg.OneTime,
		hasher:      cfg.Hasher,
		mailer:      cfg.Mailer,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		frontendURL: cfg.FrontendURL,
	}
	if s.hasher == nil {
		s.hasher = BcryptHasher{}
	}
	if s.metrics == nil {
		s.metrics = noopLoginRecorder{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RoleOption is one role a user may pick for a session. The user option has a nil
// RoleID and CompanyID.
type RoleOption struct {
	RoleID    *string     `json:"roleId"`
	Role      roles.Level `json:"role"`
	RoleName  string      `json:"roleName"`
	CompanyID *string     `json:"companyId"`
	IsDefault bool        `json:"isDefault"`
}

// TokenResult is an issued session token.
type TokenResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Role      roles.Level  `json:"role"`
	RoleID    string       `json:"roleId,omitempty"`
	CompanyID string       `json:"companyId,omitempty"`
	User      *UserSummary `json:"user,omitempty"`
}

// UserSummary is the account echo returned with tokens.
type UserSummary struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	IsVerified bool   `json:"isVerified"`
}

// LoginResult carries either a token or, when the account holds elevated roles, the
// options to choose from together with the selection token that completes the login.
type LoginResult struct {
	Token              string       `json:"token,omitempty"`
	ExpiresAt          *time.Time   `json:"expiresAt,omitempty"`
	Role               *roles.Level `json:"role,omitempty"`
	RequiresSelection  bool         `json:"requiresSelection"`
	RoleOptions        []RoleOption `json:"roleOptions,omitempty"`
	SelectionToken     string       `json:"selectionToken,omitempty"`
	SelectionExpiresAt *time.Time   `json:"selectionExpiresAt,omitempty"`
	User               *UserSummary `json:"user,omitempty"`
}

// CompleteLoginInput finishes a two-step login. A nil RoleID selects the user level.
type CompleteLoginInput struct {
	Email          string
	RoleID         *string
	SelectionToken string
}

// RegisterInput describes a signup.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      *roles.Level
	CompanyID string
}

// RegisterResult is the account created or claimed by Register.
type RegisterResult struct {
	Account users.Account `json:"user"`
	Claimed bool          `json:"claimed"`
	Token   TokenResult   `json:"session"`
}

// Login checks credentials. Accounts without elevated roles receive a token at once;
// all others receive their role options, always ending with the user option.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	acct, err := s.accounts.Lookup(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return LoginResult{}, s.loginFailed(ctx, "unknown_account", "")
		}
		return LoginResult{}, fmt.Errorf("auth: lookup account: %w", err)
	}
	if !acct.Claimed() {
		return LoginResult{}, s.loginFailed(ctx, "unclaimed", acct.ID)
	}
	if !acct.IsActive {
		return LoginResult{}, s.loginFailed(ctx, "inactive", acct.ID)
	}
	if !s.hasher.Compare(acct.PasswordHash, password) {
		return LoginResult{}, s.loginFailed(ctx, "bad_password", acct.ID)
	}

	assignments, err := s.roles.FindActiveByUser(ctx, acct.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: load roles: %w", err)
	}
	return s.offerRoles(ctx, acct, assignments, "")
}

// CompleteLogin issues the token for the role picked after Login.
func (s *Service) CompleteLogin(ctx context.Context, in CompleteLoginInput) (TokenResult, error) {
	sel, err := s.tokens.ParseSelection(in.SelectionToken)
	if err != nil {
		return TokenResult{}, err
	}
	if sel.ImpersonatedBy != "" {
		return TokenResult{}, fmt.Errorf("%w: selection token belongs to an impersonation", shared.ErrTokenInvalid)
	}
	if users.NormalizeEmail(in.Email) != users.NormalizeEmail(sel.Email) {
		return TokenResult{}, fmt.Errorf("%w: selection token issued for another account", shared.ErrTokenInvalid)
	}
	acct, err := s.activeAccount(ctx, sel.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return TokenResult{}, fmt.Errorf("%w: unknown account", shared.ErrUnauthenticated)
		}
		return TokenResult{}, err
	}
	res, err := s.completeSelection(ctx, acct, in.RoleID, "")
	if err != nil {
		return TokenResult{}, err
	}
	s.metrics.ObserveLogin("success")
	return res, nil
}

// Register creates an account, or claims a pre-created one that has no password yet.
// A requested elevated role becomes the account's default assignment.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	email := users.NormalizeEmail(in.Email)
	if email == "" {
		return RegisterResult{}, fmt.Errorf("auth: email required: %w", shared.ErrValidation)
	}
	if err := validatePassword(in.Password); err != nil {
		return RegisterResult{}, err
	}
	level := roles.LevelUser
	if in.Role != nil {
		level = *in.Role
	}
	if !level.Valid() {
		return RegisterResult{}, fmt.Errorf("auth: invalid role %d: %w", level, shared.ErrValidation)
	}
	companyID := strings.TrimSpace(in.CompanyID)
	if level.Elevated() && level != roles.LevelSystemAdmin && companyID == "" {
		return RegisterResult{}, fmt.Errorf("auth: %s requires a company: %w", level, shared.ErrValidation)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, err
	}

	var (
		acct    users.Account
		claimed bool
	)
	existing, err := s.accounts.Lookup(ctx, email)
	switch {
	case err == nil && existing.Claimed():
		return RegisterResult{}, fmt.Errorf("auth: email %s already registered: %w", email, shared.ErrDuplicate)
	case err == nil:
		acct, err = s.accounts.Claim(ctx, existing.ID, users.ClaimInput{
			PasswordHash: hash,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
		})
		if err != nil {
			return RegisterResult{}, fmt.Errorf("auth: claim account: %w", err)
		}
		claimed = true
		s.logger.InfoContext(ctx, "pre-created account claimed", slog.String("user_id", acct.ID))
	case errors.Is(err, shared.ErrNotFound):
		acct, err = s.accounts.Create(ctx, users.NewAccount{
			Email:        email,
			PasswordHash: hash,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Phone:        in.Phone,
			Level:        level,
		})
		if err != nil {
			return RegisterResult{}, fmt.Errorf("auth: create account: %w", err)
		}
	default:
		return RegisterResult{}, fmt.Errorf("auth: lookup account: %w", err)
	}

	var roleID string
	if level.Elevated() {
		assignment, err := s.roles.Create(ctx, roles.CreateInput{
			UserID:    acct.ID,
			Role:      level,
			CompanyID: companyID,
			IsActive:  true,
			IsDefault: true,
		})
		if err == nil && assignment == nil {
			err = s.accounts.SetLegacyRole(ctx, acct.ID, level, companyID)
			if err == nil {
				l := level
				acct.LegacyRole, acct.LegacyCompanyID = &l, companyID
			}
		}
		if err != nil {
			s.undoRegistration(ctx, acct.ID, existing, claimed)
			return RegisterResult{}, fmt.Errorf("auth: grant role: %w", err)
		}
		if assignment != nil {
			roleID = assignment.ID
		}
	}

	token, err := s.issue(acct, level, roleID, companyID, "")
	if err != nil {
		return RegisterResult{}, err
	}
	if !claimed {
		s.sendVerification(ctx, acct, PurposeAccountVerification)
	}
	return RegisterResult{Account: acct, Claimed: claimed, Token: token}, nil
}

// undoRegistration removes an account created by Register, or returns a claimed
// placeholder to its unclaimed state, so the signup can be retried.
func (s *Service) undoRegistration(ctx context.Context, id string, prev users.Account, claimed bool) {
	var err error
	if claimed {
		err = s.accounts.Unclaim(ctx, prev)
	} else {
		err = s.accounts.Delete(ctx, id)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "undo registration", slog.String("user_id", id), slog.Any("error", err))
	}
}

// Refresh re-issues the caller's token. The selected assignment is kept while it is
// still active and owned by the caller; otherwise the session drops to the user level.
func (s *Service) Refresh(ctx context.Context, p *rbac.Principal) (TokenResult, error) {
	if p == nil {
		return TokenResult{}, shared.ErrUnauthenticated
	}
	var (
		acct     users.Account
		selected *roles.Assignment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acct, err = s.accounts.Get(gctx, p.UserID)
		return err
	})
	if p.RoleID != "" {
		g.Go(func() error {
			a, err := s.roles.ResolveSelection(gctx, p.UserID, p.RoleID)
			switch {
			case err == nil:
				selected = &a
			case errors.Is(err, shared.ErrInvalidRoleSelection):
				s.logger.InfoContext(gctx, "session role no longer valid, refreshing as user",
					slog.String("user_id", p.UserID), slog.String("role_id", p.RoleID))
			default:
				s.logger.WarnContext(gctx, "resolve session role during refresh",
					slog.String("user_id", p.UserID), slog.Any("error", err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return TokenResult{}, fmt.Errorf("%w: unknown account", shared.ErrUnauthenticated)
		}
		return TokenResult{}, fmt.Errorf("auth: refresh: %w", err)
	}
	if !acct.IsActive {
		return TokenResult{}, shared.ErrAccountDeactivated
	}

	if selected != nil {
		return s.issue(acct, selected.Role, selected.ID, selected.CompanyID, p.ImpersonatedBy)
	}
	level, companyID := s.legacyOrUser(acct)
	return s.issue(acct, level, "", companyID, p.ImpersonatedBy)
}

// Impersonate lets a system admin sign in as target. The target's role choices are
// offered exactly as for a login.
func (s *Service) Impersonate(ctx context.Context, admin *rbac.Principal, targetUserID string) (LoginResult, error) {
	if err := checkImpersonator(admin, targetUserID); err != nil {
		return LoginResult{}, err
	}
	var (
		target      users.Account
		assignments []roles.Assignment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		target, err = s.accounts.Get(gctx, targetUserID)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = s.roles.FindActiveByUser(gctx, targetUserID)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return LoginResult{}, fmt.Errorf("auth: impersonation target %s: %w", targetUserID, shared.ErrNotFound)
		}
		return LoginResult{}, fmt.Errorf("auth: impersonate: %w", err)
	}
	if !target.IsActive {
		return LoginResult{}, fmt.Errorf("auth: impersonation target is deactivated: %w", shared.ErrValidation)
	}

	s.logger.InfoContext(ctx, "impersonation started",
		slog.String("admin_id", admin.UserID), slog.String("target_id", target.ID))
	return s.offerRoles(ctx, target, assignments, admin.UserID)
}

// CompleteImpersonation issues an impersonation token for the picked role.
func (s *Service) CompleteImpersonation(ctx context.Context, admin *rbac.Principal, targetUserID string, roleID *string) (TokenResult, error) {
	if err := checkImpersonator(admin, targetUserID); err != nil {
		return TokenResult{}, err
	}
	target, err := s.accounts.Get(ctx, targetUserID)
	if err != nil {
		return TokenResult{}, fmt.Errorf("auth: impersonation target %s: %w", targetUserID, err)
	}
	if !target.IsActive {
		return TokenResult{}, fmt.Errorf("auth: impersonation target is deactivated: %w", shared.ErrValidation)
	}
	return s.completeSelection(ctx, target, roleID, admin.UserID)
}

// ForgotPassword mails a reset link when email belongs to a usable account. The
// outcome is never reported to the caller.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if users.NormalizeEmail(email) == "" {
		return fmt.Errorf("auth: email required: %w", shared.ErrValidation)
	}
	acct, err := s.accounts.Lookup(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.ErrorContext(ctx, "forgot password lookup", slog.Any("error", err))
		}
		return nil
	}
	if !acct.Claimed() || !acct.IsActive {
		s.logger.InfoContext(ctx, "password reset skipped", slog.String("user_id", acct.ID))
		return nil
	}
	token, err := s.onetime.Issue(ctx, PurposePasswordReset, acct.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "issue reset token", slog.String("user_id", acct.ID), slog.Any("error", err))
		return nil
	}
	s.deliver(ctx, passwordResetEmail(acct.Email, acct.FirstName, s.frontendURL, token))
	return nil
}

// ResetPassword redeems a reset token and stores the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	userID, err := s.onetime.Consume(ctx, PurposePasswordReset, token)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.SetPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("auth: store password: %w", err)
	}
	s.logger.InfoContext(ctx, "password reset", slog.String("user_id", userID))
	return nil
}

// RequestEmailVerification mails a fresh verification link to the caller.
func (s *Service) RequestEmailVerification(ctx context.Context, p *rbac.Principal) error {
	if p == nil {
		return shared.ErrUnauthenticated
	}
	acct, err := s.accounts.Get(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("auth: load account: %w", err)
	}
	if acct.IsVerified {
		return nil
	}
	s.sendVerification(ctx, acct, PurposeEmailVerification)
	return nil
}

// VerifyEmail redeems an account or email verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.onetime.Consume(ctx, PurposeAccountVerification, token)
	if errors.Is(err, shared.ErrNotFound) {
		userID, err = s.onetime.Consume(ctx, PurposeEmailVerification, token)
	}
	if err != nil {
		return err
	}
	if err := s.accounts.MarkVerified(ctx, userID); err != nil {
		return fmt.Errorf("auth: mark verified: %w", err)
	}
	return nil
}

func (s *Service) offerRoles(ctx context.Context, acct users.Account, assignments []roles.Assignment, impersonatedBy string) (LoginResult, error) {
	summary := summarize(acct)
	if len(assignments) == 0 {
		level, roleID, companyID := s.defaultSession(ctx, acct)
		tok, err := s.issue(acct, level, roleID, companyID, impersonatedBy)
		if err != nil {
			return LoginResult{}, err
		}
		s.metrics.ObserveLogin("success")
		return LoginResult{Token: tok.Token, ExpiresAt: &tok.ExpiresAt, Role: &tok.Role, User: summary}, nil
	}

	options := make([]RoleOption, 0, len(assignments)+1)
	for _, a := range assignments {
		id, company := a.ID, a.CompanyID
		opt := RoleOption{RoleID: &id, Role: a.Role, RoleName: a.Role.String(), IsDefault: a.IsDefault}
		if company != "" {
			opt.CompanyID = &company
		}
		options = append(options, opt)
	}
	options = append(options, RoleOption{Role: roles.LevelUser, RoleName: roles.LevelUser.String()})

	selection, expires, err := s.tokens.IssueSelection(acct.ID, acct.Email, impersonatedBy)
	if err != nil {
		return LoginResult{}, err
	}
	s.metrics.ObserveLogin("selection_required")
	return LoginResult{
		RequiresSelection:  true,
		RoleOptions:        options,
		SelectionToken:     selection,
		SelectionExpiresAt: &expires,
		User:               summary,
	}, nil
}

// defaultSession picks the role of a single-step login: the default grant, or the
// legacy columns while the deployment has no assignment table.
func (s *Service) defaultSession(ctx context.Context, acct users.Account) (roles.Level, string, string) {
	grant, err := s.roles.GetDefaultRole(ctx, acct.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "default role lookup failed, using user level",
			slog.String("user_id", acct.ID), slog.Any("error", err))
	}
	if a, ok := roles.AssignmentOf(grant); ok {
		return a.Role, a.ID, a.CompanyID
	}
	level, companyID := s.legacyOrUser(acct)
	return level, "", companyID
}

func (s *Service) legacyOrUser(acct users.Account) (roles.Level, string) {
	if s.roles.Legacy() && acct.LegacyRole != nil && acct.LegacyRole.Valid() {
		return *acct.LegacyRole, acct.LegacyCompanyID
	}
	return roles.LevelUser, ""
}

func (s *Service) completeSelection(ctx context.Context, acct users.Account, roleID *string, impersonatedBy string) (TokenResult, error) {
	if roleID == nil || strings.TrimSpace(*roleID) == "" {
		return s.issue(acct, roles.LevelUser, "", "", impersonatedBy)
	}
	a, err := s.roles.ResolveSelection(ctx, acct.ID, strings.TrimSpace(*roleID))
	if err != nil {
		return TokenResult{}, err
	}
	return s.issue(acct, a.Role, a.ID, a.CompanyID, impersonatedBy)
}

func (s *Service) issue(acct users.Account, level roles.Level, roleID, companyID, impersonatedBy string) (TokenResult, error) {
	raw, claims, err := s.tokens.Issue(session.Params{
		UserID:         acct.ID,
		Email:          acct.Email,
		Role:           level,
		RoleID:         roleID,
		CompanyID:      companyID,
		ImpersonatedBy: impersonatedBy,
	})
	if err != nil {
		return TokenResult{}, err
	}
	return TokenResult{
		Token:     raw,
		ExpiresAt: claims.ExpiresAt.Time,
		Role:      level,
		RoleID:    roleID,
		CompanyID: companyID,
		User:      summarize(acct),
	}, nil
}

func (s *Service) activeAccount(ctx context.Context, id string) (users.Account, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return users.Account{}, err
	}
	if !acct.IsActive {
		return users.Account{}, shared.ErrAccountDeactivated
	}
	return acct, nil
}

func (s *Service) loginFailed(ctx context.Context, reason, userID string) error {
	s.metrics.ObserveLogin("failed")
	s.logger.InfoContext(ctx, "login rejected", slog.String("reason", reason), slog.String("user_id", userID))
	return shared.ErrInvalidCredentials
}

func (s *Service) sendVerification(ctx context.Context, acct users.Account, purpose Purpose) {
	token, err := s.onetime.Issue(ctx, purpose, acct.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "issue verification token", slog.String("user_id", acct.ID), slog.Any("error", err))
		return
	}
	s.deliver(ctx, verificationEmail(acct.Email, acct.FirstName, s.frontendURL, token, purpose))
}

func (s *Service) deliver(ctx context.Context, msg jobs.SendEmailPayload) {
	if s.mailer == nil {
		s.logger.WarnContext(ctx, "mailer not configured, email dropped", slog.String("kind", msg.Kind))
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "send email", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

func checkImpersonator(admin *rbac.Principal, targetUserID string) error {
	if admin == nil {
		return shared.ErrUnauthenticated
	}
	if !admin.IsSystemAdmin() {
		return fmt.Errorf("auth: impersonation requires a system admin: %w", shared.ErrForbidden)
	}
	if admin.IsImpersonating {
		return fmt.Errorf("auth: already impersonating: %w", shared.ErrForbidden)
	}
	if strings.TrimSpace(targetUserID) == "" {
		return fmt.Errorf("auth: target user required: %w", shared.ErrValidation)
	}
	if targetUserID == admin.UserID {
		return fmt.Errorf("auth: cannot impersonate yourself: %w", shared.ErrValidation)
	}
	return nil
}

func summarize(acct users.Account) *UserSummary {
	return &UserSummary{
		ID:         acct.ID,
		Email:      acct.Email,
		FirstName:  acct.FirstName,
		LastName:   acct.LastName,
		IsVerified: acct.IsVerified,
	}
}
