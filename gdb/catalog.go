package gdb

import (
	"context"
	"database/sql"
	"path"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/teranos/hydrotrace/errors"
)

// GeometryType classifies a feature collection.
type GeometryType string

const (
	GeometryAny     GeometryType = ""
	GeometryPoint   GeometryType = "point"
	GeometryLine    GeometryType = "line"
	GeometryPolygon GeometryType = "polygon"
	GeometryTable   GeometryType = "table"
)

// FieldType is the storage type of an attribute field.
type FieldType string

const (
	FieldInteger FieldType = "integer"
	FieldDouble  FieldType = "double"
	FieldText    FieldType = "text"
)

// Implicit columns present on every collection.
const (
	ObjectIDField = "OBJECTID"
	ShapeField    = "Shape"
)

// Field describes one attribute column.
type Field struct {
	Name string
	Type FieldType
}

// FeatureClass describes a collection.
type FeatureClass struct {
	Name         string
	GeometryType GeometryType
	Fields       []Field
}

// Field returns the named field, matched case-insensitively.
func (fc *FeatureClass) Field(name string) (Field, bool) {
	for _, f := range fc.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the attribute field names in catalog order.
func (fc *FeatureClass) FieldNames() []string {
	names := make([]string, len(fc.Fields))
	for i, f := range fc.Fields {
		names[i] = f.Name
	}
	return names
}

// MatchWildcard matches name against a glob pattern case-insensitively.
// '*' never crosses a '/' so grouped collections only match explicitly.
func MatchWildcard(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

// ListFeatureClasses returns collection names matching wildcard and geometry
// type, sorted by name. GeometryAny matches every type.
func (s *Store) ListFeatureClasses(ctx context.Context, wildcard string, geom GeometryType) ([]string, error) {
	if _, err := path.Match(wildcard, ""); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "bad wildcard %q", wildcard)
	}

	q := sq.Select("name").From("gdb_items").OrderBy("name")
	if geom != GeometryAny {
		q = q.Where(sq.Eq{"geometry_type": string(geom)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build listing query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(errors.Wrapf(err, "failed to list collections in %s", s.path))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan collection name")
		}
		if MatchWildcard(wildcard, name) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(errors.Wrapf(err, "failed to list collections in %s", s.path))
	}
	sort.Strings(names)
	return names, nil
}

// Describe returns the catalog entry of a collection.
func (s *Store) Describe(ctx context.Context, name string) (*FeatureClass, error) {
	return describe(ctx, s.db, s.path, name)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func describe(ctx context.Context, q queryer, storePath, name string) (*FeatureClass, error) {
	fc := &FeatureClass{}
	err := q.QueryRowContext(ctx,
		"SELECT name, geometry_type FROM gdb_items WHERE name = ?", name).
		Scan(&fc.Name, &fc.GeometryType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("collection %q not found in %s", name, storePath)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe %q", name)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT name, field_type FROM gdb_fields WHERE item = ? ORDER BY ordinal", fc.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list fields of %q", name)
	}
	defer rows.Close()
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.Name, &f.Type); err != nil {
			return nil, errors.Wrap(err, "scan field")
		}
		fc.Fields = append(fc.Fields, f)
	}
	return fc, rows.Err()
}

// ListFields returns the fields of a collection whose names match wildcard.
func (s *Store) ListFields(ctx context.Context, name, wildcard string) ([]Field, error) {
	fc, err := s.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []Field
	for _, f := range fc.Fields {
		if MatchWildcard(wildcard, f.Name) {
			out = append(out, f)
		}
	}
	return out, nil
}

// FeatureClassExists reports whether the store holds a collection called name.
func (s *Store) FeatureClassExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM gdb_items WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return false, s.classify(errors.Wrapf(err, "failed to look up %q", name))
	}
	return exists, nil
}

// CreateFeatureClass creates a collection, replacing any existing one of the
// same name.
func (s *Store) CreateFeatureClass(ctx context.Context, name string, geom GeometryType, fields []Field) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := validateCollectionName(name); err != nil {
		return err
	}
	if geom == GeometryAny {
		return errors.NewInvalidRequestError("collection %q needs a geometry type", name)
	}
	if err := validateFields(fields); err != nil {
		return errors.Wrapf(err, "collection %q", name)
	}

	return s.tx(ctx, func(tx *sql.Tx) error {
		return createFeatureClass(ctx, tx, name, geom, fields)
	})
}

func createFeatureClass(ctx context.Context, tx *sql.Tx, name string, geom GeometryType, fields []Field) error {
	if err := dropFeatureClass(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO gdb_items (name, geometry_type) VALUES (?, ?)", name, string(geom)); err != nil {
		return errors.Wrapf(err, "register %q", name)
	}

	cols := []string{
		quoteIdent(ObjectIDField) + " INTEGER PRIMARY KEY AUTOINCREMENT",
		quoteIdent(ShapeField) + " TEXT",
	}
	for i, f := range fields {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gdb_fields (item, name, field_type, ordinal) VALUES (?, ?, ?, ?)",
			name, f.Name, string(f.Type), i); err != nil {
			return errors.Wrapf(err, "register field %s.%s", name, f.Name)
		}
		cols = append(cols, quoteIdent(f.Name)+" "+sqlType(f.Type))
	}

	ddl := "CREATE TABLE " + quoteIdent(name) + " (" + strings.Join(cols, ", ") + ")"
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "create table for %q", name)
	}
	return nil
}

func addField(ctx context.Context, tx *sql.Tx, storePath, name string, field Field) error {
	if err := validateFields([]Field{field}); err != nil {
		return err
	}
	fc, err := describe(ctx, tx, storePath, name)
	if err != nil {
		return err
	}
	if _, ok := fc.Field(field.Name); ok {
		return errors.NewInvalidRequestError("field %s already exists on %q", field.Name, name)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO gdb_fields (item, name, field_type, ordinal) VALUES (?, ?, ?, ?)",
		fc.Name, field.Name, string(field.Type), len(fc.Fields)); err != nil {
		return errors.Wrapf(err, "register field %s.%s", name, field.Name)
	}
	ddl := "ALTER TABLE " + quoteIdent(fc.Name) + " ADD COLUMN " + quoteIdent(field.Name) + " " + sqlType(field.Type)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "add column %s.%s", name, field.Name)
	}
	return nil
}

// DeleteFeatureClass removes a collection. Deleting a missing collection is not an error.
func (s *Store) DeleteFeatureClass(ctx context.Context, name string) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		return dropFeatureClass(ctx, tx, name)
	})
}

func dropFeatureClass(ctx context.Context, tx *sql.Tx, name string) error {
	var stored string
	err := tx.QueryRowContext(ctx, "SELECT name FROM gdb_items WHERE name = ?", name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "look up %q", name)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(stored)); err != nil {
		return errors.Wrapf(err, "drop %q", stored)
	}
	// gdb_fields rows go with the item through ON DELETE CASCADE
	if _, err := tx.ExecContext(ctx, "DELETE FROM gdb_items WHERE name = ?", stored); err != nil {
		return errors.Wrapf(err, "unregister %q", stored)
	}
	return nil
}

func validateCollectionName(name string) error {
	lower := strings.ToLower(name)
	switch {
	case strings.TrimSpace(name) == "":
		return errors.NewInvalidRequestError("collection name cannot be empty")
	case strings.ContainsRune(name, 0):
		return errors.NewInvalidRequestError("collection name %q contains NUL", name)
	case strings.HasPrefix(lower, "gdb_"), strings.HasPrefix(lower, "sqlite_"), lower == "schema_migrations":
		return errors.NewInvalidRequestError("collection name %q is reserved", name)
	}
	return nil
}

func validateFields(fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		lower := strings.ToLower(f.Name)
		switch {
		case strings.TrimSpace(f.Name) == "":
			return errors.NewInvalidRequestError("field name cannot be empty")
		case lower == strings.ToLower(ObjectIDField), lower == strings.ToLower(ShapeField):
			return errors.NewInvalidRequestError("field name %s is reserved", f.Name)
		case seen[lower]:
			return errors.NewInvalidRequestError("duplicate field %s", f.Name)
		}
		seen[lower] = true
		if sqlType(f.Type) == "" {
			return errors.NewInvalidRequestError("field %s has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

func sqlType(t FieldType) string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldDouble:
		return "REAL"
	case FieldText:
		return "TEXT"
	}
	return ""
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
