// Package db opens the SQLite database vmsync keeps its merge-base in.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/orchnova/vmsync/internal/utils"
)

const memoryPath = ":memory:"

const defaultPragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
PRAGMA foreign_keys=ON;
`

type options struct {
	path    string
	pragmas string
}

type Option func(*options)

// WithPath selects the database file; the default is an in-memory database.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithPragmas replaces the default pragma block.
func WithPragmas(pragmas string) Option {
	return func(o *options) { o.pragmas = pragmas }
}

// Open connects to SQLite with a single connection. vmsync never runs
// concurrent writers, and one connection keeps in-memory databases coherent.
func Open(opts ...Option) (*sqlx.DB, error) {
	o := &options{path: memoryPath, pragmas: defaultPragmas}
	for _, opt := range opts {
		opt(o)
	}

	dsn := memoryPath
	if o.path != memoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(o.pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return conn, nil
}
