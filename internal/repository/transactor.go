package repository

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// GormTransactor implements domain.Transactor on a GORM connection.
// The transaction handle travels through the context so repositories
// called inside the function join it transparently.
type GormTransactor struct {
	db *gorm.DB
}

// NewGormTransactor creates a transactor for db.
func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

// InTransaction runs fn inside a single transaction: commit on nil,
// rollback on error.
func (t *GormTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// dbFrom returns the transaction handle carried by ctx, or fallback
// when the call is not inside a transaction.
func dbFrom(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
