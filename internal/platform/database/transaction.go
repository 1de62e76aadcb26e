package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
)

type txKey struct{}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides how many times a deadlocked transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunInTx executes fn inside a database transaction. The context handed to fn carries the
// transaction so Conn resolves to it. Nested calls join the outer transaction.
func RunInTx(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error, opts ...TxOption) error {
	if db == nil {
		return WrapError("transaction", errors.New("database: db is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("database: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var err error
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		err = db.WithContext(txnCtx).Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(txnCtx, txKey{}, tx))
		})
		if err == nil || !IsRetryable(err) {
			break
		}
	}
	return err
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// Conn returns the transaction bound to ctx, or db scoped to ctx when none is open.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// ForUpdate locks selected rows when running inside a transaction on a dialect that
// supports row locks. SQLite serialises writers at the database level instead.
func ForUpdate(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if !InTx(ctx) || tx.Dialector == nil || tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}
