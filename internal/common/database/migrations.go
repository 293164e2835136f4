package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var migrationFiles embed.FS

const versionTable = "database_version"

type migration struct {
	id   int
	name string
	sql  string
}

// Migrate brings the schema up to the latest version. Every migration is applied in its own transaction
// together with the version bump, so it is safe to call on every start.
func (db *Database) Migrate(ctx context.Context) error {
	migrations, err := getMigrations(db.Driver)
	if err != nil {
		return err
	}
	return db.updateDatabase(ctx, migrations)
}

func (db *Database) updateDatabase(ctx context.Context, migrations []migration) error {
	log.Infof("Updating %s database...", db.Driver)
	version, err := db.readVersion(ctx)
	if err != nil {
		return err
	}
	log.Infof("Current version %v", version)

	for _, m := range migrations {
		if m.id <= version {
			continue
		}
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return errors.Wrapf(err, "error applying migration %s", m.name)
			}
			_, err := Exec(ctx, tx, db.Dialect.Insert(versionTable).Rows(goqu.Record{"version": m.id}).Prepared(true))
			return err
		})
		if err != nil {
			return err
		}
		version = m.id
		log.Infof("Applied migration %s", m.name)
	}
	log.Info("Database updated.")
	return nil
}

// Version returns the id of the last applied migration, 0 for an empty database.
func (db *Database) Version(ctx context.Context) (int, error) {
	return db.readVersion(ctx)
}

func (db *Database) readVersion(ctx context.Context) (int, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (version INTEGER NOT NULL)`)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	query, args, err := db.Dialect.From(versionTable).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var version int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&version); err != nil {
		return 0, errors.WithStack(err)
	}
	return version, nil
}

func getMigrations(driver string) ([]migration, error) {
	dir := path.Join("migrations", driver)
	files, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "no migrations for driver %s", driver)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	migrations := make([]migration, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationFiles, path.Join(dir, f.Name()))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		id, err := strconv.Atoi(strings.Split(f.Name(), "_")[0])
		if err != nil {
			return nil, errors.Wrapf(err, "migration %s does not start with a numeric id", f.Name())
		}
		migrations = append(migrations, migration{
			id:   id,
			name: f.Name(),
			sql:  string(content),
		})
	}
	return migrations, nil
}
