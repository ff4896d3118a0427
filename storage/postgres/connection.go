// Package postgres is the production Storage backend: the same
// contract as storage.Storage, implemented with row-level locking and a
// server-side complete_node function so the dependent-graph fan-out commits as
// one statement instead of round-tripping through the application.
//
// Grounded on teranos-QNTX's db package (connection.go, migrate.go,
// errors.go), swapped from its SQLite/go-sqlite3 driver to
// github.com/lib/pq and from CGO vector-search setup to plain pooled
// connections.
package postgres

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mycelia/mycelia/errors"
)

// PoolOptions controls the connection pool. Zero values fall back to
// the defaults below.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 16
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 4
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	return o
}

// Open opens a Postgres connection pool at dsn. If log is provided,
// logs connection setup; otherwise operates silently.
func Open(dsn string, opts PoolOptions, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		log.Debugw("opening database", "component", "storage.postgres")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres connection")
	}

	opts = opts.withDefaults()
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	if log != nil {
		log.Infow("database opened", "component", "storage.postgres", "max_open_conns", opts.MaxOpenConns)
	}
	return db, nil
}

// OpenWithMigrations opens a pool and applies pending migrations.
func OpenWithMigrations(dsn string, opts PoolOptions, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(dsn, opts, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return db, nil
}
