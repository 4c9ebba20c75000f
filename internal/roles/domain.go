package roles

import (
	"errors"
	"time"
)

// ErrSchemaUnavailable reports that the users_role table does not exist in this
// deployment. The Store absorbs it and answers as if the user had no elevated roles.
var ErrSchemaUnavailable = errors.New("roles: assignment table unavailable")

// Assignment is a persisted grant of an elevated role, optionally scoped to a company.
type Assignment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      Level     `json:"role"`
	CompanyID string    `json:"companyId,omitempty"`
	IsActive  bool      `json:"isActive"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Grant is the role a user falls back to: either a persisted Assignment or
// ImplicitUser. The interface is sealed; type-switch on the two variants.
type Grant interface {
	RoleLevel() Level
	Scope() string
	grant()
}

// RoleLevel implements Grant.
func (a Assignment) RoleLevel() Level { return a.Role }

// Scope implements Grant and returns the company id, empty for global scope.
func (a Assignment) Scope() string { return a.CompanyID }

func (Assignment) grant() {}

// Global reports whether the assignment applies platform-wide.
func (a Assignment) Global() bool { return a.CompanyID == "" }

// ImplicitUser is the synthetic, never persisted USER role every account holds.
type ImplicitUser struct{}

// RoleLevel implements Grant.
func (ImplicitUser) RoleLevel() Level { return LevelUser }

// Scope implements Grant. Implicit users are never company scoped.
func (ImplicitUser) Scope() string { return "" }

func (ImplicitUser) grant() {}

// AssignmentOf returns the persisted assignment behind g, if any.
func AssignmentOf(g Grant) (Assignment, bool) {
	a, ok := g.(Assignment)
	return a, ok
}

// CreateInput describes a new role assignment.
type CreateInput struct {
	UserID    string
	Role      Level
	CompanyID string
	IsActive  bool
	IsDefault bool
}

// Schema identifies which role storage strategy a deployment runs.
type Schema string

// Storage strategies.
const (
	SchemaNormalized Schema = "normalized"
	SchemaLegacy     Schema = "legacy"
)

// Mode selects how the schema is chosen at startup.
type Mode string

// Startup modes.
const (
	ModeAuto       Mode = "auto"
	ModeNormalized Mode = "normalized"
	ModeLegacy     Mode = "legacy"
)
