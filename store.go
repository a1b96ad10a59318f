package rowbatch

import (
	"context"
	"fmt"
)

// RowKey identifies a persisted row. The zero Row part means the row is not persisted yet.
type RowKey struct {
	Table UUID `json:"t"`
	Row   UUID `json:"r"`
}

// IsNil reports whether k does not identify a persisted row.
func (k RowKey) IsNil() bool {
	return k.Row.IsNil()
}

func (k RowKey) String() string {
	return fmt.Sprintf("%v/%v", k.Table, k.Row)
}

// TableInfo names a table and carries its stable identifier.
type TableInfo struct {
	Name string `json:"name"`
	ID   UUID   `json:"id"`
}

// Row is a single row of a table. Every method taking a context may be a network round trip.
//
// Implementations must resolve any Row found in arguments or column values by its Key(),
// never by its concrete type, so that rows of decorating layers are accepted as well.
type Row interface {
	// Key returns the row's identity; zero Row part while the row is not persisted.
	Key() RowKey
	// TableID returns the identifier of the row's table.
	TableID() UUID
	// ID returns the row's identifier.
	ID(ctx context.Context) (UUID, error)
	// Get reads one column.
	Get(ctx context.Context, column string) (Value, error)
	// Columns reads all columns.
	Columns(ctx context.Context) (Columns, error)
	// Update writes the given columns, leaving the others untouched.
	Update(ctx context.Context, columns Columns) error
	// Delete removes the row.
	Delete(ctx context.Context) error
}

// SearchResult is a lazily materialized sequence of rows.
type SearchResult interface {
	// Len returns the number of rows.
	Len(ctx context.Context) (int, error)
	// At returns the row at index i.
	At(ctx context.Context, i int) (Row, error)
}

// Table is a handle to one named table.
type Table interface {
	// Info returns the table's name and identifier.
	Info() TableInfo
	// Get returns the single row matching the queries, nil when there is none.
	// It fails with ErrMultipleRows when more than one row matches.
	Get(ctx context.Context, queries ...Query) (Row, error)
	// Search returns the rows matching all the queries, in insertion order.
	Search(ctx context.Context, queries ...Query) (SearchResult, error)
	// GetByID returns the row with the given identifier, nil when there is none.
	GetByID(ctx context.Context, id UUID) (Row, error)
	// AddRow inserts one row.
	AddRow(ctx context.Context, columns Columns) (Row, error)
	// AddRows inserts rows in one call and returns them in the same order.
	AddRows(ctx context.Context, rows []Columns) ([]Row, error)
	// DeleteAllRows removes every row of the table.
	DeleteAllRows(ctx context.Context) error
}

// RowUpdate is one entry of a bulk update.
type RowUpdate struct {
	Row     Row
	Columns Columns
}

// Store is the row-oriented remote datastore.
type Store interface {
	// Tables enumerates the store's tables.
	Tables(ctx context.Context) ([]TableInfo, error)
	// Table returns a handle for the table; no network call is made.
	Table(info TableInfo) Table
	// BatchUpdate applies N row updates in one call.
	BatchUpdate(ctx context.Context, updates []RowUpdate) error
	// BatchDelete deletes N rows in one call.
	BatchDelete(ctx context.Context, rows []Row) error
	// Begin starts a native transaction.
	Begin(ctx context.Context, options TransactionOptions) (Transaction, error)
}
