// Package isolate gives each job a private copy of the shared network store.
package isolate

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/hydronet"
	"github.com/teranos/hydrotrace/internal/util"
)

// Workspace is a job's isolated copy of the network store.
type Workspace struct {
	ID string
	// Dir is <scratch>/<network store base>_<ID>.gdb.
	Dir string
	// Network is the network path relocated into Dir.
	Network string
}

// CleanupReport is the soft outcome of a cleanup. It is never an error.
type CleanupReport struct {
	Removed int
	Kept    []string // lock files left for their holders
	Errors  []error
}

// OK reports whether cleanup removed everything it tried to.
func (r CleanupReport) OK() bool { return len(r.Errors) == 0 }

// Isolator copies network stores under a scratch root.
type Isolator struct {
	root string
	now  func() time.Time
	log  *zap.SugaredLogger
}

// New returns an isolator writing below scratchRoot.
func New(scratchRoot string, logger *zap.SugaredLogger) *Isolator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Isolator{root: filepath.Clean(scratchRoot), now: time.Now, log: logger.Named("isolate")}
}

// Root returns the scratch root.
func (i *Isolator) Root() string { return i.root }

// Isolate deep-copies the store containing network into a new workspace
// tagged with id. Lock files are not copied. The copy and everything in it is
// owner-writable and stamped with the current time. On failure any partial
// copy is removed.
func (i *Isolator) Isolate(ctx context.Context, network, id string) (*Workspace, error) {
	ref, err := hydronet.ParseNetworkPath(network)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = util.NewUniqueID()
	}

	dir := filepath.Join(i.root, ref.StoreBase()+"_"+id+gdb.Extension)
	if _, err := os.Stat(dir); err == nil {
		return nil, errors.Newf("isolated workspace %s already exists", dir)
	}

	start := i.now()
	if err := copyTree(ctx, ref.Store, dir); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			i.log.Warnw("Failed to remove partial workspace", "path", dir, "error", rmErr)
		}
		return nil, errors.Wrapf(err, "failed to isolate %s", ref.Store)
	}
	if err := touchTree(dir, i.now()); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrapf(err, "failed to stamp %s", dir)
	}

	ws := &Workspace{ID: id, Dir: dir, Network: ref.Relocate(dir).Path()}
	i.log.Debugw("Workspace isolated",
		"path", dir,
		"source", ref.Store,
		"duration_ms", i.now().Sub(start).Milliseconds(),
	)
	return ws, nil
}

// copyTree copies src to dst skipping lock files. dst must not exist.
func copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("network store %s does not exist", src)
		}
		return errors.Wrapf(err, "stat %s", src)
	}
	if !info.IsDir() {
		return errors.NewInvalidRequestError("network store %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case gdb.IsLockFile(d.Name()):
			return nil
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// Sockets, devices and links have no place in a store
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	return out.Close()
}

func touchTree(dir string, now time.Time) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, now, now)
	})
}

// Cleanup removes every non-lock file under ws.Dir, then any directories left
// empty, including ws.Dir itself. Failures are collected in the report. Paths
// outside the scratch root are refused without touching anything.
func (i *Isolator) Cleanup(ws *Workspace) CleanupReport {
	var report CleanupReport
	if ws == nil {
		return report
	}
	if err := i.owns(ws.Dir); err != nil {
		report.Errors = append(report.Errors, err)
		return report
	}

	var dirs []string
	walkErr := filepath.WalkDir(ws.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Errors = append(report.Errors, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if gdb.IsLockFile(d.Name()) {
			report.Kept = append(report.Kept, path)
			return nil
		}
		if err := os.Remove(path); err != nil {
			report.Errors = append(report.Errors, err)
			return nil
		}
		report.Removed++
		return nil
	})
	if walkErr != nil {
		report.Errors = append(report.Errors, walkErr)
	}

	// Deepest first; os.Remove leaves non-empty directories alone
	for j := len(dirs) - 1; j >= 0; j-- {
		if err := os.Remove(dirs[j]); err != nil && !isNotEmpty(err) && !os.IsNotExist(err) {
			report.Errors = append(report.Errors, err)
		}
	}
	return report
}

// owns checks that dir is a workspace directly under the scratch root.
func (i *Isolator) owns(dir string) error {
	rel, err := filepath.Rel(i.root, filepath.Clean(dir))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return errors.Wrapf(errors.ErrInvalidRequest, "refusing to clean %s outside scratch root %s", dir, i.root)
	}
	return nil
}

func isNotEmpty(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		msg := pathErr.Err.Error()
		return strings.Contains(msg, "not empty") || strings.Contains(msg, "exists")
	}
	return false
}
