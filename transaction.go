package rowbatch

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sethvargo/go-retry"
)

// Transaction is a native store transaction.
type Transaction interface {
	// Commit finalizes the transaction. A store that detects a conflict rolls back and
	// returns an error matching ErrConflict.
	Commit(ctx context.Context) error
	// Rollback aborts the transaction.
	Rollback(ctx context.Context) error
}

// RunInTransaction runs fn inside a native transaction of store and retries the whole unit of
// work, with a fresh transaction, whenever an attempt fails with ErrConflict. Any other error
// rolls back and is returned as-is.
func RunInTransaction(ctx context.Context, store Store, options TransactionOptions, fn func(ctx context.Context) error) error {
	attempt := 0
	b := retry.WithMaxRetries(options.maxRetries(), retry.NewFibonacci(options.retryBackoff()))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := runAttempt(ctx, store, options, fn)
		if ShouldRetry(err) {
			log.Info("transaction conflict, will retry", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ShouldRetry(err) {
		log.Warn(fmt.Sprintf("transaction gave up after %d attempts, details: %v", attempt, err))
	}
	return err
}

func runAttempt(ctx context.Context, store Store, options TransactionOptions, fn func(ctx context.Context) error) error {
	tx, err := store.Begin(ctx, options)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			log.Warn(fmt.Sprintf("rollback after failed attempt errored, details: %v", rerr))
		}
		return err
	}
	return tx.Commit(ctx)
}
