package postgres_test

import (
	"testing"

	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/platform/postgres"
	"github.com/phrazzld/taskd/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_UnknownCommand(t *testing.T) {
	log, _ := logger.GetTestLogger(t)

	err := postgres.Migrate(nil, "sideways", log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration command")
}

func TestMigrate_VersionAfterUp(t *testing.T) {
	db := testdb.SetupTestDatabase(t)
	log, buf := logger.GetTestLogger(t)

	require.NoError(t, postgres.Migrate(db, "version", log))
	assert.Contains(t, buf.String(), "migration command executed successfully")
}
