package autobatch

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/rowbatch"
)

// Transaction is a native store transaction with a batching window open for its duration.
type Transaction struct {
	tables *Tables
	native rowbatch.Transaction
	done   bool
}

var _ rowbatch.Transaction = (*Transaction)(nil)

// Commit flushes the window then commits the native transaction. If the flush fails the native
// transaction is rolled back and the flush error returned.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("autobatch: transaction is already done")
	}
	t.done = true
	if err := t.tables.batcher.Exit(ctx); err != nil {
		if rerr := t.native.Rollback(ctx); rerr != nil {
			log.Warn(fmt.Sprintf("autobatch: rollback after failed flush errored, details: %v", rerr))
		}
		return err
	}
	return t.native.Commit(ctx)
}

// Rollback drops the queued work, closes the window and rolls back the native transaction.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.tables.batcher.Discard()
	if err := t.tables.batcher.Exit(ctx); err != nil {
		log.Warn(fmt.Sprintf("autobatch: closing window on rollback errored, details: %v", err))
	}
	return t.native.Rollback(ctx)
}
