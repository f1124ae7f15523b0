package store

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// Repo is a typed CRUD repository over a single gorm model T.
type Repo[T any] struct {
	db *gorm.DB
}

func newRepo[T any](db *gorm.DB) *Repo[T] {
	return &Repo[T]{db: db}
}

// Insert persists row and returns the classified error, if any.
func (r *Repo[T]) Insert(ctx context.Context, row *T) error {
	return classify(r.db.WithContext(ctx).Create(row).Error)
}

// Update saves every field of row (full-record save, matching the
// teacher's Save-based update style).
func (r *Repo[T]) Update(ctx context.Context, row *T) error {
	return classify(r.db.WithContext(ctx).Save(row).Error)
}

// Delete removes row by primary key.
func (r *Repo[T]) Delete(ctx context.Context, row *T) error {
	return classify(r.db.WithContext(ctx).Delete(row).Error)
}

// FindByID loads the row with the given primary key. ok is false, err nil
// when no such row exists.
func (r *Repo[T]) FindByID(ctx context.Context, id string) (row T, ok bool, err error) {
	tx := r.db.WithContext(ctx).First(&row, "id = ?", id)
	if tx.Error != nil {
		if tx.Error == gorm.ErrRecordNotFound {
			return row, false, nil
		}
		return row, false, classify(tx.Error)
	}
	return row, true, nil
}

// Find returns every row matching preds, in insertion order unless orderBy
// is given (pass "" to skip ordering).
func (r *Repo[T]) Find(ctx context.Context, orderBy string, preds ...Predicate) ([]T, error) {
	var rows []T
	tx := Apply(r.db.WithContext(ctx), preds...)
	if orderBy != "" {
		tx = tx.Order(orderBy)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// FindOne returns the first row matching preds. ok is false, err nil when
// no row matches.
func (r *Repo[T]) FindOne(ctx context.Context, preds ...Predicate) (row T, ok bool, err error) {
	tx := Apply(r.db.WithContext(ctx), preds...).First(&row)
	if tx.Error != nil {
		if tx.Error == gorm.ErrRecordNotFound {
			return row, false, nil
		}
		return row, false, classify(tx.Error)
	}
	return row, true, nil
}

// Count returns the number of rows matching preds.
func (r *Repo[T]) Count(ctx context.Context, preds ...Predicate) (int64, error) {
	var n int64
	var zero T
	tx := Apply(r.db.WithContext(ctx).Model(&zero), preds...)
	if err := tx.Count(&n).Error; err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// DeleteWhere removes every row matching preds and returns the row count.
func (r *Repo[T]) DeleteWhere(ctx context.Context, preds ...Predicate) (int64, error) {
	var zero T
	tx := Apply(r.db.WithContext(ctx).Model(&zero), preds...).Delete(&zero)
	if tx.Error != nil {
		return 0, classify(tx.Error)
	}
	return tx.RowsAffected, nil
}

// classify wraps a storage error with enough context for callers to tell
// constraint violations and serialization failures apart from opaque
// connection errors, per the persistence layer's contract.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate"):
		return &ConstraintError{Kind: "unique", Err: err}
	case strings.Contains(msg, "foreign key"):
		return &ConstraintError{Kind: "foreign_key", Err: err}
	case strings.Contains(msg, "serialization") || strings.Contains(msg, "deadlock") || strings.Contains(msg, "could not serialize"):
		return &SerializationError{Err: err}
	default:
		return err
	}
}

// ConstraintError surfaces a constraint violation with enough context for
// C5 to translate it to a domain conflict error.
type ConstraintError struct {
	Kind string // "unique" or "foreign_key"
	Err  error
}

func (e *ConstraintError) Error() string { return e.Err.Error() }
func (e *ConstraintError) Unwrap() error { return e.Err }

// SerializationError marks a transaction failure that is safe for the
// caller to retry.
type SerializationError struct{ Err error }

func (e *SerializationError) Error() string { return e.Err.Error() }
func (e *SerializationError) Unwrap() error { return e.Err }
func (e *SerializationError) Temporary() bool { return true }
