package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
)

func TestMigrate_Idempotent(t *testing.T) {
	err := WithTestDb(func(db *Database) error {
		ctx := context.Background()
		version, err := db.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, version)

		require.NoError(t, db.Migrate(ctx))
		version, err = db.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, version)

		for _, table := range []string{"hashes", "killmails", "participants"} {
			var count int
			err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, table)
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestOpen_SqliteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkb.db")
	db, err := Open(commonconfig.DatabaseConfig{Driver: commonconfig.DriverSqlite, Path: path})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Check())
	assert.NoError(t, db.Migrate(context.Background()))

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(commonconfig.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(commonconfig.DatabaseConfig{Driver: commonconfig.DriverSqlite})
	assert.Error(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	err := WithTestDb(func(db *Database) error {
		ctx := context.Background()
		insert := db.Dialect.Insert("hashes").Rows(goqu.Record{"id": 1, "hash": make([]byte, 20)}).Prepared(true)

		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := Exec(ctx, tx, insert); err != nil {
				return err
			}
			return errors.New("simulated failure")
		})
		assert.Error(t, err)

		var count int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM hashes").Scan(&count))
		assert.Equal(t, 0, count)

		require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := Exec(ctx, tx, insert)
			return err
		}))
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM hashes").Scan(&count))
		assert.Equal(t, 1, count)
		return nil
	})
	assert.NoError(t, err)
}

func TestCreateConnectionString(t *testing.T) {
	assert.Equal(t,
		"dbname=zkb host=localhost port=5432",
		CreateConnectionString(map[string]string{"host": "localhost", "port": "5432", "dbname": "zkb"}))
}
