package rowbatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsByCode(t *testing.T) {
	key := RowKey{Table: NewUUID(), Row: NewUUID()}
	err := NewError(RowDeleted, fmt.Errorf("gone"), key)
	if !errors.Is(err, ErrRowDeleted) {
		t.Error("error of the RowDeleted code does not match ErrRowDeleted")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("error matched another code")
	}
	wrapped := fmt.Errorf("flush: %w", err)
	if !errors.Is(wrapped, ErrRowDeleted) {
		t.Error("wrapped error lost its code")
	}
	var e Error
	if !errors.As(wrapped, &e) || e.UserData != key {
		t.Errorf("got %+v", e)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conflict", ErrConflict, true},
		{"wrapped conflict", fmt.Errorf("commit: %w", NewError(TransactionConflict, errors.New("x"), nil)), true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
		{"other", errors.New("boom"), false},
		{"row deleted", ErrRowDeleted, false},
	}
	for _, tt := range tests {
		if got := ShouldRetry(tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
