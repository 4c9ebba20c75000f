package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersionsAreOrdered(t *testing.T) {
	versions, err := MigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_users", "0002_companies", "0003_users_role"}, versions)
}

func TestMigrationsAreReadable(t *testing.T) {
	versions, err := MigrationVersions()
	require.NoError(t, err)
	for _, version := range versions {
		body, err := migrationsFS.ReadFile("migrations/" + version + ".sql")
		require.NoError(t, err, version)
		assert.NotEmpty(t, body, version)
	}
}
