package db

import (
	"database/sql"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/errors"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked database
// before returning SQLITE_BUSY.
const SQLiteBusyTimeoutMS = 5000

// Options tune how a database file is opened.
type Options struct {
	// WAL enables write-ahead logging. Stores that are copied as plain
	// directories leave it off so a closed store is a single file.
	WAL bool
	// ReadOnly opens the file with mode=ro; concurrent readers never block.
	ReadOnly bool
	// MaxOpenConns caps the pool. One serialises writers onto a single
	// connection.
	MaxOpenConns int
}

// Open opens the SQLite database at path in WAL mode with foreign keys and a
// busy timeout applied to every pooled connection.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	return OpenWithOptions(path, Options{WAL: true}, logger)
}

// OpenWithOptions opens the SQLite database at path with opts.
func OpenWithOptions(path string, opts Options, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "wal_mode", opts.WAL, "read_only", opts.ReadOnly)
	}

	dsn, err := buildDSN(path, opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	// sql.Open is lazy; surface a missing or unreadable file here
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", opts.WAL,
			"foreign_keys", true,
		)
	}
	return db, nil
}

// buildDSN renders a file: URI carrying the driver pragmas so they apply to
// every connection the pool opens, not only the first.
func buildDSN(path string, opts Options) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve database path %s", path)
	}

	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(SQLiteBusyTimeoutMS))
	q.Set("_foreign_keys", "on")
	if opts.WAL {
		q.Set("_journal_mode", "WAL")
	} else {
		q.Set("_journal_mode", "DELETE")
	}
	if opts.ReadOnly {
		q.Set("mode", "ro")
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// driverVersion reports the linked SQLite library version.
func driverVersion() string {
	v, _, _ := sqlite3.Version()
	return v
}
