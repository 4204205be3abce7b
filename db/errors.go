package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/hydrotrace/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs when a worker finishes after the run has closed the ledger.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The driver returns its own error values, so raw messages are matched as a fallback.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err means another connection or process holds the
// database. Such errors are transient and worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrLocked) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
