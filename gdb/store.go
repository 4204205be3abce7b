// Package gdb is the spatial store adapter. A store is a directory named
// <name>.gdb holding one SQLite data file plus the lock files of its current
// writers. Feature collections are tables described by a catalog.
package gdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/db"
	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/internal/util"
)

const (
	// Extension terminates every store directory name.
	Extension = ".gdb"
	// DataFileName is the SQLite file inside a store directory.
	DataFileName = "gdb.sqlite"
	// LockSuffix marks a lock file held by a writer of the store.
	LockSuffix = ".sr.lock"
)

// OpenOptions controls how an existing store is opened.
type OpenOptions struct {
	// ReadOnly opens the data file read-only and takes no lock.
	ReadOnly bool
}

// Store is an open feature store.
type Store struct {
	path     string
	db       *sql.DB
	readOnly bool
	lockPath string
	log      *zap.SugaredLogger
}

// Create opens the store at path, creating it first when it does not exist.
// An existing store is reused as is.
func Create(path string, logger *zap.SugaredLogger) (*Store, error) {
	if !strings.HasSuffix(strings.ToLower(path), Extension) {
		return nil, errors.NewInvalidRequestError("store path %q must end in %s", path, Extension)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create store directory %s", path)
	}
	return open(path, false, logger)
}

// CreateIn creates or reuses <dir>/<name>.gdb.
func CreateIn(dir, name string, logger *zap.SugaredLogger) (*Store, error) {
	return Create(filepath.Join(dir, name+Extension), logger)
}

// Open opens an existing store. A missing store returns ErrNotFound.
func Open(path string, opts OpenOptions, logger *zap.SugaredLogger) (*Store, error) {
	if !Exists(path) {
		return nil, errors.NewNotFoundError("store %s does not exist", path)
	}
	return open(path, opts.ReadOnly, logger)
}

// Exists reports whether path holds a store data file.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, DataFileName))
	return err == nil && info.Mode().IsRegular()
}

func open(path string, readOnly bool, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	log := logger.Named("gdb").With("store", path)

	// Rollback journal keeps a closed store a single file that copies cleanly.
	conn, err := db.OpenWithOptions(filepath.Join(path, DataFileName), db.Options{
		ReadOnly:     readOnly,
		MaxOpenConns: 1,
	}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store %s", path)
	}

	s := &Store{path: path, db: conn, readOnly: readOnly, log: log}
	if readOnly {
		return s, nil
	}

	if err := db.Migrate(conn, db.SchemaGDB, nil); err != nil {
		conn.Close()
		if db.IsBusy(err) {
			return nil, errors.Wrapf(errors.ErrLocked, "store %s is busy: %v", path, err)
		}
		return nil, errors.Wrapf(err, "failed to initialise store %s", path)
	}
	if err := s.acquireLock(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Debugw("Store opened", "lock", filepath.Base(s.lockPath))
	return s, nil
}

// acquireLock writes this writer's lock file. Other writers may hold their
// own; SQLite serialises the actual writes.
func (s *Store) acquireLock() error {
	host, _ := os.Hostname()
	name := strings.Join([]string{"_gdb", host, util.ShortID(util.NewUniqueID())}, ".") + LockSuffix
	lockPath := filepath.Join(s.path, name)
	if err := os.WriteFile(lockPath, []byte(strings.TrimSpace(host)+"\n"), 0644); err != nil {
		return errors.Wrapf(err, "failed to write lock file for %s", s.path)
	}
	s.lockPath = lockPath
	return nil
}

// Path returns the store directory.
func (s *Store) Path() string { return s.path }

// Name returns the store directory name without its extension.
func (s *Store) Name() string {
	return strings.TrimSuffix(filepath.Base(s.path), Extension)
}

// ReadOnly reports whether the store was opened read-only.
func (s *Store) ReadOnly() bool { return s.readOnly }

// Close releases the connection and this writer's lock file.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lockPath != "" {
		if rmErr := os.Remove(s.lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Join(err, errors.Wrap(rmErr, "failed to release lock"))
		}
		s.lockPath = ""
	}
	if err != nil {
		return errors.Wrapf(err, "failed to close store %s", s.path)
	}
	return nil
}

// IsLockFile reports whether a file name belongs to a lock holder.
func IsLockFile(name string) bool {
	return strings.Contains(name, ".lock")
}

func (s *Store) writable() error {
	if s.readOnly {
		return errors.Wrapf(errors.ErrInvalidRequest, "store %s is open read-only", s.path)
	}
	return nil
}

// tx runs fn inside a transaction.
func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(errors.Wrap(err, "begin transaction"))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return s.classify(err)
	}
	if err := tx.Commit(); err != nil {
		return s.classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// classify marks busy errors with ErrLocked so callers can retry.
func (s *Store) classify(err error) error {
	if err != nil && db.IsBusy(err) && !errors.IsLockedError(err) {
		return errors.WithSecondaryError(errors.Wrapf(errors.ErrLocked, "store %s is busy", s.path), err)
	}
	return err
}
