package postgres_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/platform/postgres"
	"github.com/phrazzld/taskd/internal/store"
	"github.com/phrazzld/taskd/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresEmailLogStore(t *testing.T) {
	db := testdb.SetupTestDatabase(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		logs := postgres.NewPostgresEmailLogStore(tx, nil)

		emailLog, err := domain.NewEmailLog("ops@example.com", "Report ready", "The nightly report is ready.")
		require.NoError(t, err)
		require.NoError(t, logs.Create(ctx, emailLog))

		emailLog.MarkFailed("smtp timeout")
		require.NoError(t, logs.Update(ctx, emailLog))

		got, err := logs.GetByID(ctx, emailLog.ID)
		require.NoError(t, err)
		assert.False(t, got.Success)
		assert.Equal(t, "smtp timeout", got.ErrorMessage)
		assert.Equal(t, "ops@example.com", got.Recipient)

		listed, err := logs.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, listed)

		missing := *emailLog
		missing.ID = uuid.New()
		assert.ErrorIs(t, logs.Update(ctx, &missing), store.ErrEmailLogNotFound)

		_, err = logs.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrEmailLogNotFound)
	})
}
