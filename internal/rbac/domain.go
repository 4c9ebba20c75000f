package rbac

import (
	"github.com/appointly/appointly/internal/roles"
)

// RoleSource records which resolution step produced a principal's role.
type RoleSource string

// Resolution steps, in priority order.
const (
	SourceToken      RoleSource = "token"
	SourceAssignment RoleSource = "assignment"
	SourceCurrent    RoleSource = "current"
	SourceLegacy     RoleSource = "legacy"
	SourceFallback   RoleSource = "fallback"
)

// Principal describes the authenticated actor of one request.
type Principal struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	IsVerified bool   `json:"isVerified"`
	// RoleLevel is nil until resolved.
	RoleLevel       *roles.Level `json:"role"`
	RoleID          string       `json:"roleId,omitempty"`
	CompanyID       string       `json:"companyId,omitempty"`
	ImpersonatedBy  string       `json:"impersonatedBy,omitempty"`
	IsImpersonating bool         `json:"isImpersonating"`
	RoleSource      RoleSource   `json:"roleSource,omitempty"`
}

// Level returns the resolved level, or LevelUser while unresolved.
func (p *Principal) Level() roles.Level {
	if p == nil || p.RoleLevel == nil {
		return roles.LevelUser
	}
	return *p.RoleLevel
}

// SetLevel records the resolved level and its source.
func (p *Principal) SetLevel(level roles.Level, source RoleSource) {
	p.RoleLevel = &level
	p.RoleSource = source
}

// IsSystemAdmin reports whether the principal acts with platform-wide privileges.
func (p *Principal) IsSystemAdmin() bool {
	return p != nil && p.RoleLevel != nil && *p.RoleLevel == roles.LevelSystemAdmin
}
