// Package hydronet traces flow paths through a hydrologic network held in a
// feature store.
package hydronet

import (
	"path/filepath"
	"strings"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
)

// NetworkRef names a trace network as <store>/<dataset>/<network>.
type NetworkRef struct {
	Store   string
	Dataset string
	Name    string
}

// ParseNetworkPath splits a network path. The store component must be a
// store directory.
func ParseNetworkPath(p string) (NetworkRef, error) {
	clean := filepath.Clean(p)
	ref := NetworkRef{
		Name:    filepath.Base(clean),
		Dataset: filepath.Base(filepath.Dir(clean)),
		Store:   filepath.Dir(filepath.Dir(clean)),
	}
	if !strings.HasSuffix(strings.ToLower(ref.Store), gdb.Extension) {
		return NetworkRef{}, errors.WithHint(
			errors.NewInvalidRequestError("network path %q does not sit inside a %s store", p, gdb.Extension),
			"expected <store>.gdb/<dataset>/<network>")
	}
	return ref, nil
}

// Path joins the reference back into a network path.
func (r NetworkRef) Path() string {
	return filepath.Join(r.Store, r.Dataset, r.Name)
}

// Relocate returns the same dataset and network inside another store.
func (r NetworkRef) Relocate(store string) NetworkRef {
	r.Store = store
	return r
}

// StoreBase is the store directory name without its extension.
func (r NetworkRef) StoreBase() string {
	base := filepath.Base(r.Store)
	return base[:len(base)-len(gdb.Extension)]
}
