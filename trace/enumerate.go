package trace

import (
	"context"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
	"github.com/teranos/hydrotrace/pulse/async"
)

// Seeds lists the seed collections of the shared workspace: line
// collections matching the seed wildcard, by name.
func Seeds(ctx context.Context, ws *gdb.Store, opts Options) ([]string, error) {
	names, err := ws.ListFeatureClasses(ctx, opts.SeedWildcard, gdb.GeometryLine)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list seed collections in %s", ws.Path())
	}
	return names, nil
}

// Enumerate builds one job per seed collection. No seeds is not an error.
func Enumerate(ctx context.Context, ws *gdb.Store, opts Options) ([]*async.Job, error) {
	seeds, err := Seeds(ctx, ws, opts)
	if err != nil {
		return nil, err
	}
	jobs := make([]*async.Job, 0, len(seeds))
	for _, seed := range seeds {
		job, err := async.NewJob(seed, opts.Network, ws.Path())
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
