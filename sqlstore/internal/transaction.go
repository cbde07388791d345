// Package internal runs database work in transactions.
package internal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff"

	"github.com/olivere/jobconsole/internal/retry"
)

// TxOption configures RunInTx.
type TxOption func(*txConfig)

type txConfig struct {
	b         backoff.BackOff
	retryable func(error) bool
}

// WithRetry repeats the whole transaction, waiting according to b, as
// long as retryable accepts the error. A nil retryable accepts every
// error.
func WithRetry(retryable func(error) bool, b backoff.BackOff) TxOption {
	return func(cfg *txConfig) {
		cfg.b = b
		cfg.retryable = retryable
	}
}

// RunInTx runs fn in a database transaction. fn must use tx for all
// its statements and must neither commit nor roll back; RunInTx commits
// if fn returns nil and rolls back otherwise. A panic in fn rolls back
// and is returned as an error.
//
// With WithRetry, fn may be called several times and must not have
// effects outside of tx.
func RunInTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error, options ...TxOption) error {
	var cfg txConfig
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.b == nil {
		return runTx(ctx, db, fn)
	}
	return retry.Do(ctx, cfg.b, func(ctx context.Context) error {
		return runTx(ctx, db, fn)
	}, cfg.retryable)
}

func runTx(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", r)
		}
	}()
	if err = fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
