// Package testing puts any test binary that imports it into test mode: the
// entrypoints skip their startup and outgoing mail stays disabled.
package testing

import (
	"os"
	stdtesting "testing"
)

var testEnv = map[string]string{
	"APPOINTLY_TEST_MODE": "1",
	"SMTP_HOST":           "",
}

func init() {
	for key, value := range testEnv {
		_ = os.Setenv(key, value)
	}
}

// TestMain runs m with the test environment applied.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
