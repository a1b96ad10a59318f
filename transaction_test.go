package rowbatch

import (
	"context"
	"errors"
	"testing"
)

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.s.commits++
	if t.s.conflicts > 0 {
		t.s.conflicts--
		return ErrConflict
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.s.rollbacks++
	return nil
}

// fakeStore only supports transactions.
type fakeStore struct {
	Store
	conflicts int
	begins    int
	commits   int
	rollbacks int
	options   TransactionOptions
}

func (s *fakeStore) Begin(ctx context.Context, options TransactionOptions) (Transaction, error) {
	s.begins++
	s.options = options
	return &fakeTx{s}, nil
}

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	tests := []struct {
		name      string
		conflicts int
		options   TransactionOptions
		fnErr     error
		wantErr   error
		begins    int
		rollbacks int
	}{
		{"commits", 0, TransactionOptions{RetryBackoff: 1}, nil, nil, 1, 0},
		{"retries conflicts", 2, TransactionOptions{RetryBackoff: 1}, nil, nil, 3, 0},
		{"gives up", 5, TransactionOptions{MaxRetries: 1, RetryBackoff: 1}, nil, ErrConflict, 2, 0},
		{"no retries", 1, TransactionOptions{MaxRetries: -1, RetryBackoff: 1}, nil, ErrConflict, 1, 0},
		{"unit of work fails", 0, TransactionOptions{RetryBackoff: 1}, boom, boom, 1, 1},
		{"conflict from unit of work", 0, TransactionOptions{MaxRetries: 2, RetryBackoff: 1, Relaxed: true}, ErrConflict, ErrConflict, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStore{conflicts: tt.conflicts}
			err := RunInTransaction(ctx, s, tt.options, func(ctx context.Context) error {
				return tt.fnErr
			})
			if tt.wantErr == nil && err != nil || tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if s.begins != tt.begins || s.rollbacks != tt.rollbacks {
				t.Errorf("got %d begins and %d rollbacks, want %d and %d", s.begins, s.rollbacks, tt.begins, tt.rollbacks)
			}
			if s.options != tt.options {
				t.Errorf("options were not passed to Begin")
			}
		})
	}
}

func TestRunInTransactionCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeStore{conflicts: 10}
	err := RunInTransaction(ctx, s, TransactionOptions{RetryBackoff: 1}, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Error("canceled context still committed")
	}
}

func TestTransactionOptionsDefaults(t *testing.T) {
	var o TransactionOptions
	if o.maxRetries() != DefaultMaxRetries || o.retryBackoff() != DefaultRetryBackoff {
		t.Errorf("zero options got %d, %v", o.maxRetries(), o.retryBackoff())
	}
	o.MaxRetries = -3
	if o.maxRetries() != 0 {
		t.Errorf("negative retries got %d", o.maxRetries())
	}
}
