package roles

import (
	"sort"
	"strings"
)

// Named permissions checked by the authorization guards.
const (
	PermManagePlatform     = "manage_platform"
	PermApproveCompanies   = "approve_companies"
	PermImpersonateUsers   = "impersonate_users"
	PermManageUsers        = "manage_users"
	PermManageCompany      = "manage_company"
	PermManageStaff        = "manage_staff"
	PermManageProducts     = "manage_products"
	PermViewReports        = "view_reports"
	PermManageRoles        = "manage_roles"
	PermManageAppointments = "manage_appointments"
	PermManageSales        = "manage_sales"
	PermViewCustomers      = "view_customers"
	PermBookAppointments   = "book_appointments"
	PermViewOwnAppointment = "view_own_appointments"
	PermManageProfile      = "manage_profile"
)

var permissionTable = map[string]Level{
	PermManagePlatform:   LevelSystemAdmin,
	PermApproveCompanies: LevelSystemAdmin,
	PermImpersonateUsers: LevelSystemAdmin,
	PermManageUsers:      LevelSystemAdmin,

	PermManageCompany:  LevelCompanyOwner,
	PermManageStaff:    LevelCompanyOwner,
	PermManageProducts: LevelCompanyOwner,
	PermViewReports:    LevelCompanyOwner,
	PermManageRoles:    LevelCompanyOwner,

	PermManageAppointments: LevelStaffMember,
	PermManageSales:        LevelStaffMember,
	PermViewCustomers:      LevelStaffMember,

	PermBookAppointments:   LevelUser,
	PermViewOwnAppointment: LevelUser,
	PermManageProfile:      LevelUser,
}

// Permission pairs a permission name with the least privileged level holding it.
type Permission struct {
	Name     string `json:"name"`
	MinLevel Level  `json:"minLevel"`
}

// PermissionLevel returns the least privileged level that holds the named permission.
// Unknown names resolve to LevelUser, so a mistyped name grants ordinary-user access
// and never elevated access.
func PermissionLevel(name string) Level {
	if level, ok := permissionTable[normalizePermission(name)]; ok {
		return level
	}
	return LevelUser
}

// KnownPermission reports whether name is in the permission table.
func KnownPermission(name string) bool {
	_, ok := permissionTable[normalizePermission(name)]
	return ok
}

// Permissions returns the permission table ordered by level then name.
func Permissions() []Permission {
	out := make([]Permission, 0, len(permissionTable))
	for name, level := range permissionTable {
		out = append(out, Permission{Name: name, MinLevel: level})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinLevel != out[j].MinLevel {
			return out[i].MinLevel < out[j].MinLevel
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func normalizePermission(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}
