package rbac

import (
	"fmt"

	"github.com/appointly/appointly/internal/roles"
	"github.com/appointly/appointly/internal/shared"
)

// CheckRole passes when p is at least as privileged as max.
func CheckRole(p *Principal, max roles.Level) error {
	if p == nil {
		return shared.ErrUnauthenticated
	}
	if p.Level().AtLeast(max) {
		return nil
	}
	return fmt.Errorf("%w: requires %s", shared.ErrForbidden, max)
}

// CheckPermission passes when p holds the named permission.
func CheckPermission(p *Principal, name string) error {
	if p == nil {
		return shared.ErrUnauthenticated
	}
	if p.Level().AtLeast(roles.PermissionLevel(name)) {
		return nil
	}
	return fmt.Errorf("%w: missing permission %s", shared.ErrForbidden, name)
}

// CheckOwnership passes for company owners and above, or when ownerID is the
// principal's own id.
func CheckOwnership(p *Principal, ownerID string) error {
	if p == nil {
		return shared.ErrUnauthenticated
	}
	if p.Level().AtLeast(roles.LevelCompanyOwner) {
		return nil
	}
	if ownerID != "" && ownerID == p.UserID {
		return nil
	}
	return fmt.Errorf("%w: not the resource owner", shared.ErrForbidden)
}

// CheckSameCompany passes for system admins, or when companyID is the company the
// principal acts for.
func CheckSameCompany(p *Principal, companyID string) error {
	if p == nil {
		return shared.ErrUnauthenticated
	}
	if p.IsSystemAdmin() {
		return nil
	}
	if p.CompanyID == "" {
		return fmt.Errorf("%w: no company context", shared.ErrForbidden)
	}
	if companyID != p.CompanyID {
		return fmt.Errorf("%w: company mismatch", shared.ErrForbidden)
	}
	return nil
}
