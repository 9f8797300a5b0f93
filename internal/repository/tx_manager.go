package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// ErrStaleWrite is returned by conditional writes whose WHERE clause matched no
// rows, i.e. the row changed (or vanished) since it was read.
var ErrStaleWrite = errors.New("row changed since read")

// TransactionManager manages database transactions via context injection.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	// RunInTxRetry runs fn once, and once more if the first attempt failed with
	// ErrStaleWrite. Check-then-act sequences in the engines use this so a lost
	// optimistic race is retried a single time before surfacing.
	RunInTxRetry(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
}

func (t *transactionManager) RunInTxRetry(ctx context.Context, fn func(txCtx context.Context) error) error {
	err := t.RunInTx(ctx, fn)
	if errors.Is(err, ErrStaleWrite) {
		err = t.RunInTx(ctx, fn)
	}
	return err
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
