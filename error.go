package rowbatch

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the errors raised by this module.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// RowDeleted is raised by any operation on a row proxy after it was deleted through it.
	RowDeleted
	// DuplicateBinding signals an attempt to bind an already persisted row proxy a second time.
	DuplicateBinding
	// UnknownTable is raised when looking up a table name the store does not have.
	UnknownTable
	// TransactionConflict is the store's signal that the transaction attempt should be retried.
	TransactionConflict
	// MultipleRows is raised by Table.Get when more than one row matches.
	MultipleRows
	// RowNotFound is raised when a row handle points at a row the store no longer has.
	RowNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case RowDeleted:
		return "row deleted"
	case DuplicateBinding:
		return "duplicate binding"
	case UnknownTable:
		return "unknown table"
	case TransactionConflict:
		return "transaction conflict"
	case MultipleRows:
		return "multiple rows"
	case RowNotFound:
		return "row not found"
	}
	return "unknown"
}

// Error is the rowbatch custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData == nil {
		return fmt.Sprintf("%v: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%v: %v, user data: %v", e.Code, e.Err, e.UserData)
}

// Unwrap exposes the underlying error.
func (e Error) Unwrap() error {
	return e.Err
}

// Is matches another Error of the same Code so that errors.Is(err, ErrRowDeleted) holds for
// every RowDeleted error regardless of details.
func (e Error) Is(target error) bool {
	var t Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrRowDeleted is returned by operations on a row proxy that has been deleted.
	ErrRowDeleted = Error{Code: RowDeleted, Err: errors.New("this row has been deleted")}
	// ErrDuplicateBinding is returned when a row proxy already bound to a persisted row is bound again.
	ErrDuplicateBinding = Error{Code: DuplicateBinding, Err: errors.New("row is already bound to a persisted row")}
	// ErrUnknownTable is returned when a table name is not present in the store.
	ErrUnknownTable = Error{Code: UnknownTable, Err: errors.New("no table with that name")}
	// ErrConflict is returned by stores when a transaction attempt lost a race and can be retried.
	ErrConflict = Error{Code: TransactionConflict, Err: errors.New("transaction conflict")}
	// ErrMultipleRows is returned by Table.Get when more than one row matched.
	ErrMultipleRows = Error{Code: MultipleRows, Err: errors.New("more than one row matched")}
	// ErrRowNotFound is returned when a row is not (or no longer) in the store.
	ErrRowNotFound = Error{Code: RowNotFound, Err: errors.New("row not found")}
)

// NewError returns an Error of code wrapping err, with userData attached for diagnostics.
func NewError(code ErrorCode, err error, userData any) error {
	return Error{Code: code, Err: err, UserData: userData}
}
