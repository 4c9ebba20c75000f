package roles

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Level is a position in the fixed role hierarchy. Lower values are more privileged.
type Level int

// Role hierarchy.
const (
	LevelSystemAdmin  Level = 0
	LevelCompanyOwner Level = 1
	LevelStaffMember  Level = 2
	LevelUser         Level = 3
)

var levelNames = map[Level]string{
	LevelSystemAdmin:  "system_admin",
	LevelCompanyOwner: "company_owner",
	LevelStaffMember:  "staff_member",
	LevelUser:         "user",
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= LevelSystemAdmin && l <= LevelUser
}

// AtLeast reports whether l is at least as privileged as max.
func (l Level) AtLeast(max Level) bool {
	return l <= max
}

// Elevated reports whether l grants more than the implicit user level.
func (l Level) Elevated() bool {
	return l.Valid() && l < LevelUser
}

// String returns the snake_case role name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel accepts a numeric level or a role name.
func ParseLevel(raw string) (Level, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		l := Level(n)
		if !l.Valid() {
			return 0, fmt.Errorf("roles: level %d out of range", n)
		}
		return l, nil
	}
	for l, name := range levelNames {
		if name == raw {
			return l, nil
		}
	}
	return 0, fmt.Errorf("roles: unknown role %q", raw)
}

// UnmarshalJSON accepts either the numeric level or a quoted role name.
// Numbers are taken as-is so range checks stay with the caller's validation.
func (l *Level) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = Level(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("roles: role must be a number or a name: %w", err)
	}
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Levels lists the hierarchy from most to least privileged.
func Levels() []Level {
	return []Level{LevelSystemAdmin, LevelCompanyOwner, LevelStaffMember, LevelUser}
}
