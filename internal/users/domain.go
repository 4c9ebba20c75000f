package users

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/appointly/appointly/internal/roles"
)

// Account is a person able to sign in. An empty PasswordHash marks an account that
// was pre-created (for example by a staff hire) and not yet claimed.
type Account struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	Phone        string            `json:"phone,omitempty"`
	IsActive     bool              `json:"isActive"`
	IsVerified   bool              `json:"isVerified"`
	Preferences  roles.Preferences `json:"preferences"`
	// LegacyRole and LegacyCompanyID mirror the pre-migration users.role and
	// users.company_id columns.
	LegacyRole      *roles.Level `json:"-"`
	LegacyCompanyID string       `json:"-"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Claimed reports whether the account has a password set.
func (a Account) Claimed() bool {
	return a.PasswordHash != ""
}

// NewAccount describes an account to create.
type NewAccount struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Level        roles.Level
}

// ClaimInput completes a pre-created account.
type ClaimInput struct {
	PasswordHash string
	FirstName    string
	LastName     string
}

// ListFilter narrows account listings.
type ListFilter struct {
	Search string
	Active *bool
	Limit  int
	Offset int
}

// NormalizeEmail trims and case-folds an address.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

var aliasSuffix = regexp.MustCompile(`^[0-9]+$`)

// MatchesLegacyAlias reports whether candidate is the legacy form local+<digits>@domain
// of email. Older signups stored a timestamp suffix to dodge the unique constraint.
func MatchesLegacyAlias(candidate, email string) bool {
	local, domain, ok := splitEmail(NormalizeEmail(email))
	if !ok {
		return false
	}
	cLocal, cDomain, ok := splitEmail(NormalizeEmail(candidate))
	if !ok || cDomain != domain {
		return false
	}
	prefix := local + "+"
	if !strings.HasPrefix(cLocal, prefix) {
		return false
	}
	return aliasSuffix.MatchString(strings.TrimPrefix(cLocal, prefix))
}

func splitEmail(email string) (local, domain string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	return email[:at], email[at+1:], true
}
