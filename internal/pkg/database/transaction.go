package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	return db.TransactionWithOptions(ctx, &sql.TxOptions{}, fn)
}

// TransactionWithOptions executes a function within a database transaction with custom options
func (db *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ctx, tx); err != nil {
			db.logger.WithContext(ctx).Debug("transaction failed, rolling back",
				zap.Error(err),
			)
			return err
		}
		return nil
	}, opts)
}

// TransactionManager provides transaction management utilities
type TransactionManager struct {
	db *DB
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// Execute executes a function within a transaction with automatic retry
func (tm *TransactionManager) Execute(ctx context.Context, fn TxFunc) error {
	return tm.ExecuteWithRetry(ctx, 3, fn)
}

// ExecuteWithRetry executes a function within a transaction with retry on
// serialization failures and deadlocks
func (tm *TransactionManager) ExecuteWithRetry(ctx context.Context, maxRetries int, fn TxFunc) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			tm.db.logger.WithContext(ctx).Warn("retrying transaction",
				zap.Int("attempt", i+1),
				zap.Int("max_retries", maxRetries),
				zap.Error(lastErr),
			)
		}

		err := tm.db.Transaction(ctx, fn)
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

// ReadCommitted executes a function in READ COMMITTED isolation level
func (tm *TransactionManager) ReadCommitted(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	}, fn)
}

// Serializable executes a function in SERIALIZABLE isolation level
func (tm *TransactionManager) Serializable(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	}, fn)
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// PostgreSQL serialization failure: 40001, deadlock detected: 40P01
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") || strings.Contains(msg, "SQLSTATE 40P01")
}
