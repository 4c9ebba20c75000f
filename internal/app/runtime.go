package app

import (
	"os"
	"strconv"
)

// TestModeEnv marks a process started from a test binary. Entrypoints return
// before opening connections while it is set.
const TestModeEnv = "APPOINTLY_TEST_MODE"

// InTestMode reports whether TestModeEnv holds a true boolean.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
