package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/common/zkberrors"
)

const checkTimeout = 5 * time.Second

// Database is a connection pool together with the SQL dialect used to build queries for it.
type Database struct {
	*sql.DB
	Driver  string
	Dialect goqu.DialectWrapper
}

// Open opens the database described by config. It does not migrate the schema.
func Open(config commonconfig.DatabaseConfig) (*Database, error) {
	switch config.Driver {
	case commonconfig.DriverSqlite:
		return openSqlite(config.Path)
	case commonconfig.DriverPostgres:
		return openPostgres(config)
	default:
		return nil, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "database.Driver",
			Value:   config.Driver,
			Message: "supported drivers are sqlite and postgres",
		})
	}
}

// OpenInMemory opens a private, empty sqlite database.
func OpenInMemory() (*Database, error) {
	return openSqlite(":memory:")
}

func openSqlite(path string) (*Database, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.WithStack(&zkberrors.ErrInvalidArgument{
			Name:    "database.Path",
			Value:   path,
			Message: "a database file is required for sqlite",
		})
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// Pragmas are per connection and an in-memory database only lives as long as its connection,
	// so sqlite is always used through exactly one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "error executing %q", pragma)
		}
	}
	log.Infof("Opened sqlite database %s", path)
	return &Database{DB: db, Driver: commonconfig.DriverSqlite, Dialect: goqu.Dialect("sqlite3")}, nil
}

func openPostgres(config commonconfig.DatabaseConfig) (*Database, error) {
	db, err := sql.Open("pgx", CreateConnectionString(config.Connection))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "error connecting to postgres")
	}
	log.Infof("Opened postgres database %s", config.Connection["dbname"])
	return &Database{DB: db, Driver: commonconfig.DriverPostgres, Dialect: goqu.Dialect("postgres")}, nil
}

// CreateConnectionString renders libpq style key=value connection parameters in a stable order.
func CreateConnectionString(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return strings.Join(parts, " ")
}

// Check pings the database; used for health checks.
func (db *Database) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

// WithTx runs fn inside a transaction which is committed if fn returns nil and rolled back otherwise.
// A panic in fn rolls the transaction back before propagating.
func (db *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("Failed to roll back transaction")
		}
		return err
	}
	return errors.WithStack(tx.Commit())
}

// Statement is implemented by goqu datasets.
type Statement interface {
	ToSQL() (string, []interface{}, error)
}

// Exec renders a goqu statement and executes it on tx.
func Exec(ctx context.Context, tx *sql.Tx, expr Statement) (sql.Result, error) {
	query, args, err := expr.ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "error executing %q", query)
	}
	return result, nil
}
