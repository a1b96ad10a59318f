package cassandra

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/gocql/gocql"

	"github.com/sharedcode/rowbatch"
)

const lockName = "txlock"

// Begin takes the keyspace's transaction lock with a lightweight transaction. A lock held by
// another transaction is reported as a conflict so that RunInTransaction retries. Relaxed
// transactions do not lock.
//
// Logged batches are atomic one by one; Rollback releases the lock and does not undo batches
// already applied.
func (s *Store) Begin(ctx context.Context, options rowbatch.TransactionOptions) (rowbatch.Transaction, error) {
	if options.Relaxed {
		return &transaction{store: s}, nil
	}
	owner := rowbatch.NewUUID()
	existing := map[string]any{}
	applied, err := s.query(ctx, gocql.Any,
		fmt.Sprintf("INSERT INTO %s (name, owner) VALUES (?, ?) IF NOT EXISTS USING TTL ?;", s.table("rb_locks")),
		lockName, gocql.UUID(owner), int(s.conn.LockTTL.Seconds())).MapScanCAS(existing)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("keyspace is locked by transaction %v", existing["owner"]), nil)
	}
	return &transaction{store: s, owner: owner, locked: true}, nil
}

type transaction struct {
	store  *Store
	owner  rowbatch.UUID
	locked bool
}

func (t *transaction) unlock(ctx context.Context) (bool, error) {
	s := t.store
	t.locked = false
	return s.query(ctx, gocql.Any,
		fmt.Sprintf("DELETE FROM %s WHERE name = ? IF owner = ?;", s.table("rb_locks")),
		lockName, gocql.UUID(t.owner)).MapScanCAS(map[string]any{})
}

// Commit releases the lock. A lock that expired meanwhile fails the commit with a conflict.
func (t *transaction) Commit(ctx context.Context) error {
	if !t.locked {
		return nil
	}
	released, err := t.unlock(ctx)
	if err != nil {
		return err
	}
	if !released {
		return rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("transaction %v lost its lock before commit", t.owner), nil)
	}
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if !t.locked {
		return nil
	}
	if _, err := t.unlock(ctx); err != nil {
		log.Warn(fmt.Sprintf("unlock on rollback failed, details: %v", err))
		return err
	}
	return nil
}
