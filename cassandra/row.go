package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
)

type row struct {
	store *Store
	key   rowbatch.RowKey
}

func (r *row) Key() rowbatch.RowKey {
	return r.key
}

func (r *row) TableID() rowbatch.UUID {
	return r.key.Table
}

func (r *row) ID(ctx context.Context) (rowbatch.UUID, error) {
	return r.key.Row, nil
}

func (r *row) errNotFound() error {
	return rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", r.key), r.key)
}

// read returns the raw columns of the row.
func (r *row) read(ctx context.Context) (map[string]string, error) {
	s := r.store
	var cols map[string]string
	err := s.query(ctx, s.conn.ConsistencyBook.RowGet,
		fmt.Sprintf("SELECT cols FROM %s WHERE tid = ? AND rid = ?;", s.table("rb_rows")),
		gocql.UUID(r.key.Table), gocql.UUID(r.key.Row)).Scan(&cols)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, r.errNotFound()
	}
	return cols, err
}

func (r *row) Get(ctx context.Context, column string) (rowbatch.Value, error) {
	cols, err := r.read(ctx)
	if err != nil {
		return rowbatch.Value{}, err
	}
	raw, ok := cols[column]
	if !ok {
		return rowbatch.Value{}, nil
	}
	return encoding.UnmarshalValue([]byte(raw), r.store.resolver())
}

func (r *row) Columns(ctx context.Context) (rowbatch.Columns, error) {
	cols, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	return r.store.decodeColumns(cols)
}

func (r *row) Update(ctx context.Context, columns rowbatch.Columns) error {
	return r.store.BatchUpdate(ctx, []rowbatch.RowUpdate{{Row: r, Columns: columns}})
}

func (r *row) Delete(ctx context.Context) error {
	s := r.store
	applied, err := s.query(ctx, s.conn.ConsistencyBook.RowRemove,
		fmt.Sprintf("DELETE FROM %s WHERE tid = ? AND rid = ? IF EXISTS;", s.table("rb_rows")),
		gocql.UUID(r.key.Table), gocql.UUID(r.key.Row)).MapScanCAS(map[string]any{})
	if err != nil {
		return err
	}
	if !applied {
		return r.errNotFound()
	}
	return nil
}
