package trace

import (
	"context"
	"strings"

	"github.com/teranos/hydrotrace/errors"
	"github.com/teranos/hydrotrace/gdb"
)

// Flatten merges rows into a single field -> value map. Rows are applied in
// order, so the last row wins for every field, nil values included.
func Flatten(rows []gdb.Feature, fields []string) map[string]any {
	m := make(map[string]any, len(fields))
	for _, r := range rows {
		for _, f := range fields {
			m[f] = r.Attributes[f]
		}
	}
	return m
}

// BuildPropagationMap reads fields from every row of a seed collection and
// flattens them.
func BuildPropagationMap(ctx context.Context, s *gdb.Store, seed string, fields []string) (map[string]any, error) {
	rows, err := s.Search(ctx, seed, fields)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read identifiers of %s", seed)
	}
	return Flatten(rows, fields), nil
}

// Propagate overwrites every row of output with m and returns the number of
// rows written.
func Propagate(ctx context.Context, s *gdb.Store, output string, m map[string]any) (int64, error) {
	n, err := s.UpdateAll(ctx, output, m)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to propagate identifiers onto %s", output)
	}
	return n, nil
}

// identifierFields resolves the identifier wildcard on a seed collection and
// picks the join key among them: an exact name match, else the first.
func identifierFields(ctx context.Context, s *gdb.Store, seed, wildcard string) ([]string, string, error) {
	fields, err := s.ListFields(ctx, seed, wildcard)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to list identifier fields of %s", seed)
	}
	if len(fields) == 0 {
		return nil, "", errors.WithHintf(
			errors.NewNotFoundError("no field of %s matches %q", seed, wildcard),
			"set trace.identifier_field to the seed's starting identifier field")
	}
	names := make([]string, len(fields))
	key := ""
	for i, f := range fields {
		names[i] = f.Name
		if strings.EqualFold(f.Name, wildcard) {
			key = f.Name
		}
	}
	if key == "" {
		key = names[0]
	}
	return names, key, nil
}
