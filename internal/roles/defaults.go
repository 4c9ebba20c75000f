package roles

// Preferences holds per-account UI and notification defaults.
type Preferences struct {
	Language           string `json:"language"`
	Timezone           string `json:"timezone"`
	EmailNotifications bool   `json:"emailNotifications"`
	CalendarView       string `json:"calendarView"`
}

// AccountState is the baseline for a newly created account.
type AccountState struct {
	IsActive    bool
	IsVerified  bool
	Preferences Preferences
}

var calendarViews = map[Level]string{
	LevelSystemAdmin:  "month",
	LevelCompanyOwner: "week",
	LevelStaffMember:  "day",
	LevelUser:         "list",
}

// DefaultAccountState returns the baseline account fields for a new account at level.
// Invalid levels get the user defaults.
func DefaultAccountState(level Level) AccountState {
	if !level.Valid() {
		level = LevelUser
	}
	return AccountState{
		IsActive:   true,
		IsVerified: false,
		Preferences: Preferences{
			Language:           "en",
			Timezone:           "UTC",
			EmailNotifications: true,
			CalendarView:       calendarViews[level],
		},
	}
}
