package stores

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "tx"

type BaseStore struct {
	db *gorm.DB
}

func (s *BaseStore) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// WithTransaction runs fn with a transaction bound into the context, so any
// store call made through GetDB inside fn joins the same transaction.
func (s *BaseStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}
