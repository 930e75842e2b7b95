package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"gorm.io/gorm"
)

type txKey struct{}

// Transactor runs fn inside a unit of work. Repositories called with the
// context passed to fn join the same transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithinTransaction(ctx, t.db, fn)
}

// WithinTransaction joins the transaction carried by ctx, or opens a new one
// on db and commits it when fn returns nil.
func WithinTransaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// Postgres SQLSTATEs that mean "another writer holds the partition, try again".
var retryablePgCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57014": {}, // query_canceled (lock_timeout)
	"23505": {}, // unique_violation on a racing sequence insert
}

// classifyStorageError maps retryable lock and serialization failures to
// domain.ErrSequenceConflict and leaves every other error untouched.
func classifyStorageError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %s (%s)", domain.ErrSequenceConflict, pgErr.Message, pgErr.Code)
		}
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "unique constraint failed") {
		return fmt.Errorf("%w: %v", domain.ErrSequenceConflict, err)
	}
	return err
}
