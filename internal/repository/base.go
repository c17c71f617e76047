// Package repository implements persistence for swipes, matches,
// conversations and messages on top of GORM.
package repository

import (
	"context"
	"errors"
	"strings"

	"mazl/internal/database"
	"mazl/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type txKey struct{}

// WithTransaction runs fn inside a database transaction carried by the
// context. Repositories called with that context join the transaction.
// Nested calls reuse the outer transaction. A nil db runs fn directly, which
// is what unit tests with stub repositories rely on.
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if db == nil {
		return fn(ctx)
	}
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the primary pool.
func conn(ctx context.Context, primary *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return primary.WithContext(ctx)
}

// readConn prefers the replica outside of transactions.
func readConn(ctx context.Context, primary *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	if db := database.ReadDB; db != nil {
		return db.WithContext(ctx)
	}
	return primary.WithContext(ctx)
}

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolation
	}
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}

func notFoundOr(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}
