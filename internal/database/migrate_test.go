package database_test

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/safar/go-auction-engine/internal/database"
	"github.com/safar/go-auction-engine/internal/testdb"
)

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	_, err := database.Migrate(context.Background(), nil, t.TempDir(), "sideways")
	check.Error(t, err)
}

func TestMigrateDownThenUp(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	dir, err := testdb.MigrationsDir()
	assert.NoError(t, err)

	n, err := database.Migrate(ctx, db, dir, "down")
	assert.NoError(t, err)
	check.Equal(t, 5, n)

	var tables int
	assert.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public'`).Scan(&tables))
	check.Equal(t, 0, tables)

	n, err = database.Migrate(ctx, db, dir, "up")
	assert.NoError(t, err)
	check.Equal(t, 5, n)

	assert.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public'`).Scan(&tables))
	check.Equal(t, 5, tables)
}
