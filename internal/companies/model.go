package companies

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/users"
)

// Status is the approval state of a company.
type Status string

// Company approval states.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Company represents a tenant business.
type Company struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Status  Status `json:"status"`
	OwnerID string `json:"ownerId"`
	// OwnerRoleID is the COMPANY_OWNER assignment created at registration. Empty
	// when the deployment runs the legacy role schema.
	OwnerRoleID string    `json:"ownerRoleId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StaffMember pairs an account with its role in a company.
type StaffMember struct {
	AssignmentID string      `json:"roleId"`
	Role         roles.Level `json:"role"`
	IsActive     bool        `json:"isActive"`
	UserID       string      `json:"userId"`
	Email        string      `json:"email"`
	FirstName    string      `json:"firstName"`
	LastName     string      `json:"lastName"`
	Claimed      bool        `json:"claimed"`
}

// ListFilter narrows company listings.
type ListFilter struct {
	Search string
	Status Status
	Limit  int
	Offset int
}

// RegisterInput describes a company registration.
type RegisterInput struct {
	Name string
}

// HireInput describes a staff hire.
type HireInput struct {
	Email     string
	FirstName string
	LastName  string
}

// HireResult reports a completed hire.
type HireResult struct {
	Account    users.Account     `json:"user"`
	Assignment *roles.Assignment `json:"assignment"`
	// Invited is true when the account was pre-created and awaits claiming.
	Invited bool `json:"invited"`
}

// Slugify derives a URL-safe identifier from a company name.
func Slugify(name string) string {
	lower := cases.Lower(language.Und).String(strings.TrimSpace(name))
	var b strings.Builder
	dash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
