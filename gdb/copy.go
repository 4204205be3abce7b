package gdb

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/teranos/hydrotrace/errors"
)

// CopyFeatures copies a collection with its schema and rows from src into
// dst, replacing any existing destination collection. src and dst may be the
// same store.
func CopyFeatures(ctx context.Context, src *Store, srcName string, dst *Store, dstName string) error {
	return CopyFeaturesWhere(ctx, src, srcName, dst, dstName, nil)
}

// CopyFeaturesWhere copies only the rows matching where.
func CopyFeaturesWhere(ctx context.Context, src *Store, srcName string, dst *Store, dstName string, where sq.Sqlizer) error {
	if err := dst.writable(); err != nil {
		return err
	}
	if err := validateCollectionName(dstName); err != nil {
		return err
	}
	if src == dst && strings.EqualFold(srcName, dstName) {
		return errors.NewInvalidRequestError("cannot copy %q onto itself", srcName)
	}

	fc, err := src.Describe(ctx, srcName)
	if err != nil {
		return errors.Wrapf(err, "copy source %s", src.path)
	}
	features, err := search(ctx, src.db, fc, nil, where)
	if err != nil {
		return src.classify(errors.Wrapf(err, "read %q from %s", srcName, src.path))
	}

	err = dst.tx(ctx, func(tx *sql.Tx) error {
		if err := createFeatureClass(ctx, tx, dstName, fc.GeometryType, fc.Fields); err != nil {
			return err
		}
		out, err := describe(ctx, tx, dst.path, dstName)
		if err != nil {
			return err
		}
		return insertFeatures(ctx, tx, out, features)
	})
	if err != nil {
		return errors.Wrapf(err, "copy %q into %s as %q", srcName, dst.path, dstName)
	}

	dst.log.Debugw("Copied features", "source", src.path, "from", srcName, "to", dstName, "count", len(features))
	return nil
}
