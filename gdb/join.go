package gdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/teranos/hydrotrace/errors"
)

// JoinField copies fields from a join collection onto the rows of a target
// collection whose targetKey equals the join row's joinKey. The first join
// row with a given key wins. Fields missing on the target are added with the
// join field's type; unmatched target rows keep their current values. An
// empty fields list joins every non-key field of the join collection.
func (s *Store) JoinField(ctx context.Context, target, targetKey string, join *Store, joinClass, joinKey string, fields []string) error {
	if err := s.writable(); err != nil {
		return err
	}

	jfc, err := join.Describe(ctx, joinClass)
	if err != nil {
		return errors.Wrap(err, "join collection")
	}
	jkey, ok := jfc.Field(joinKey)
	if !ok {
		return errors.NewNotFoundError("join key %s not found on %q", joinKey, joinClass)
	}

	var joined []Field
	if len(fields) == 0 {
		for _, f := range jfc.Fields {
			if !strings.EqualFold(f.Name, jkey.Name) {
				joined = append(joined, f)
			}
		}
	} else {
		for _, name := range fields {
			f, ok := jfc.Field(name)
			if !ok {
				return errors.NewNotFoundError("join field %s not found on %q", name, joinClass)
			}
			joined = append(joined, f)
		}
	}
	if len(joined) == 0 {
		return nil
	}

	names := make([]string, 0, len(joined)+1)
	names = append(names, jkey.Name)
	for _, f := range joined {
		names = append(names, f.Name)
	}
	joinRows, err := search(ctx, join.db, jfc, names, nil)
	if err != nil {
		return join.classify(errors.Wrapf(err, "read join rows from %q", joinClass))
	}
	byKey := make(map[string]map[string]any, len(joinRows))
	for _, r := range joinRows {
		k, ok := KeyString(r.Attributes[jkey.Name])
		if !ok {
			continue
		}
		if _, dup := byKey[k]; !dup {
			byKey[k] = r.Attributes
		}
	}

	err = s.tx(ctx, func(tx *sql.Tx) error {
		tfc, err := describe(ctx, tx, s.path, target)
		if err != nil {
			return err
		}
		tkey, ok := tfc.Field(targetKey)
		if !ok {
			return errors.NewNotFoundError("target key %s not found on %q", targetKey, target)
		}
		for _, f := range joined {
			if _, exists := tfc.Field(f.Name); !exists {
				if err := addField(ctx, tx, s.path, tfc.Name, f); err != nil {
					return err
				}
			}
		}
		if tfc, err = describe(ctx, tx, s.path, tfc.Name); err != nil {
			return err
		}

		rows, err := search(ctx, tx, tfc, []string{tkey.Name}, nil)
		if err != nil {
			return err
		}
		for _, r := range rows {
			k, ok := KeyString(r.Attributes[tkey.Name])
			if !ok {
				continue
			}
			match, ok := byKey[k]
			if !ok {
				continue
			}
			values := make(map[string]any, len(joined))
			for _, f := range joined {
				values[f.Name] = match[f.Name]
			}
			if _, err := updateRows(ctx, tx, tfc, values, sq.Eq{quoteIdent(ObjectIDField): r.ObjectID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "join %q.%s onto %q.%s", joinClass, joinKey, target, targetKey)
	}
	return nil
}

// KeyString renders a key value so that 42, 42.0 and "42" compare equal.
func KeyString(v any) (string, bool) {
	switch k := v.(type) {
	case nil:
		return "", false
	case int64:
		return fmt.Sprintf("%d", k), true
	case int:
		return fmt.Sprintf("%d", k), true
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return fmt.Sprintf("%d", int64(k)), true
		}
		return fmt.Sprintf("%g", k), true
	case string:
		return strings.TrimSpace(k), true
	default:
		return fmt.Sprint(k), true
	}
}
