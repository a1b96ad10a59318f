package redis

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/rowbatch"
)

// Begin takes the store's transaction lock. A lock held by another transaction is reported as
// a conflict so that RunInTransaction retries. Relaxed transactions do not lock.
//
// Redis has no multi-call rollback: Rollback releases the lock, writes already made stay.
func (s *Store) Begin(ctx context.Context, options rowbatch.TransactionOptions) (rowbatch.Transaction, error) {
	if options.Relaxed {
		return &transaction{store: s}, nil
	}
	owner := rowbatch.NewUUID()
	ok, err := s.client().SetNX(ctx, s.lockKey(), owner.String(), s.options.LockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		holder, _ := s.client().Get(ctx, s.lockKey()).Result()
		return nil, rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("store is locked by transaction %s", holder), nil)
	}
	return &transaction{store: s, owner: owner, locked: true}, nil
}

type transaction struct {
	store  *Store
	owner  rowbatch.UUID
	locked bool
}

// Commit releases the lock. A lock that expired meanwhile fails the commit with a conflict.
func (t *transaction) Commit(ctx context.Context) error {
	if !t.locked {
		return nil
	}
	t.locked = false
	released, err := unlockScript.Run(ctx, t.store.client(), []string{t.store.lockKey()}, t.owner.String()).Int()
	if err != nil {
		return err
	}
	if released == 0 {
		return rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("transaction %v lost its lock before commit", t.owner), nil)
	}
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if !t.locked {
		return nil
	}
	t.locked = false
	if err := unlockScript.Run(ctx, t.store.client(), []string{t.store.lockKey()}, t.owner.String()).Err(); err != nil {
		log.Warn(fmt.Sprintf("unlock on rollback failed, details: %v", err))
		return err
	}
	return nil
}
