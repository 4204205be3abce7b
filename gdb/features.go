package gdb

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/teranos/hydrotrace/errors"
)

// Feature is one row of a collection.
type Feature struct {
	ObjectID   int64
	Shape      string
	Attributes map[string]any
}

// Col quotes a field name for use in a squirrel predicate.
func Col(name string) string { return quoteIdent(name) }

// Insert appends features to a collection. ObjectIDs are assigned by the
// store. Attribute keys must name existing fields.
func (s *Store) Insert(ctx context.Context, name string, features []Feature) error {
	if err := s.writable(); err != nil {
		return err
	}
	if len(features) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		fc, err := describe(ctx, tx, s.path, name)
		if err != nil {
			return err
		}
		return insertFeatures(ctx, tx, fc, features)
	})
}

func insertFeatures(ctx context.Context, tx *sql.Tx, fc *FeatureClass, features []Feature) error {
	for _, f := range features {
		cols := []string{quoteIdent(ShapeField)}
		vals := []any{nullIfEmpty(f.Shape)}
		for key, v := range f.Attributes {
			field, ok := fc.Field(key)
			if !ok {
				return errors.NewNotFoundError("field %s not found on %q", key, fc.Name)
			}
			cols = append(cols, quoteIdent(field.Name))
			vals = append(vals, v)
		}
		query, args, err := sq.Insert(quoteIdent(fc.Name)).Columns(cols...).Values(vals...).ToSql()
		if err != nil {
			return errors.Wrap(err, "build insert")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "insert into %q", fc.Name)
		}
	}
	return nil
}

// Search returns every row of a collection in ObjectID order with the given
// fields. nil fields selects all of them.
func (s *Store) Search(ctx context.Context, name string, fields []string) ([]Feature, error) {
	return s.SearchWhere(ctx, name, fields, nil)
}

// SearchWhere is Search restricted by a predicate. Quote field names with Col.
func (s *Store) SearchWhere(ctx context.Context, name string, fields []string, where sq.Sqlizer) ([]Feature, error) {
	fc, err := s.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	return search(ctx, s.db, fc, fields, where)
}

func search(ctx context.Context, q queryer, fc *FeatureClass, fields []string, where sq.Sqlizer) ([]Feature, error) {
	names, err := resolveFields(fc, fields)
	if err != nil {
		return nil, err
	}

	cols := []string{quoteIdent(ObjectIDField), quoteIdent(ShapeField)}
	for _, n := range names {
		cols = append(cols, quoteIdent(n))
	}
	b := sq.Select(cols...).From(quoteIdent(fc.Name)).OrderBy(quoteIdent(ObjectIDField))
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build search")
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "search %q", fc.Name)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var oid int64
		var shape sql.NullString
		values := make([]any, len(names))
		targets := []any{&oid, &shape}
		for i := range values {
			targets = append(targets, &values[i])
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, errors.Wrapf(err, "scan %q", fc.Name)
		}
		f := Feature{ObjectID: oid, Shape: shape.String, Attributes: make(map[string]any, len(names))}
		for i, n := range names {
			f.Attributes[n] = normalize(values[i])
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "search %q", fc.Name)
	}
	return out, nil
}

// UpdateAll sets values on every row of a collection and returns the number
// of rows changed.
func (s *Store) UpdateAll(ctx context.Context, name string, values map[string]any) (int64, error) {
	return s.update(ctx, name, values, nil)
}

// UpdateByID sets values on one row.
func (s *Store) UpdateByID(ctx context.Context, name string, oid int64, values map[string]any) error {
	n, err := s.update(ctx, name, values, sq.Eq{quoteIdent(ObjectIDField): oid})
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFoundError("row %d not found in %q", oid, name)
	}
	return nil
}

func (s *Store) update(ctx context.Context, name string, values map[string]any, where sq.Sqlizer) (int64, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	var affected int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		fc, err := describe(ctx, tx, s.path, name)
		if err != nil {
			return err
		}
		n, err := updateRows(ctx, tx, fc, values, where)
		affected = n
		return err
	})
	return affected, err
}

func updateRows(ctx context.Context, tx *sql.Tx, fc *FeatureClass, values map[string]any, where sq.Sqlizer) (int64, error) {
	set := make(map[string]any, len(values))
	for key, v := range values {
		field, ok := fc.Field(key)
		if !ok {
			return 0, errors.NewNotFoundError("field %s not found on %q", key, fc.Name)
		}
		set[quoteIdent(field.Name)] = v
	}
	b := sq.Update(quoteIdent(fc.Name)).SetMap(set)
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build update")
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "update %q", fc.Name)
	}
	return res.RowsAffected()
}

// Count returns the number of rows in a collection.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	fc, err := s.Describe(ctx, name)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(fc.Name)).Scan(&n); err != nil {
		return 0, s.classify(errors.Wrapf(err, "count %q", name))
	}
	return n, nil
}

// resolveFields maps requested names onto catalog names.
func resolveFields(fc *FeatureClass, fields []string) ([]string, error) {
	if fields == nil {
		return fc.FieldNames(), nil
	}
	out := make([]string, 0, len(fields))
	for _, name := range fields {
		f, ok := fc.Field(name)
		if !ok {
			return nil, errors.NewNotFoundError("field %s not found on %q", name, fc.Name)
		}
		out = append(out, f.Name)
	}
	return out, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
