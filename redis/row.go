package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
)

// row is a handle; every call is a round trip.
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

func (r *row) Get(ctx context.Context, column string) (rowbatch.Value, error) {
	vals, err := r.store.client().HMGet(ctx, r.store.rowKey(r.key), idField, column).Result()
	if err != nil {
		return rowbatch.Value{}, err
	}
	if vals[0] == nil {
		return rowbatch.Value{}, r.errNotFound()
	}
	raw, ok := vals[1].(string)
	if !ok {
		return rowbatch.Value{}, nil
	}
	return encoding.UnmarshalValue([]byte(raw), r.store.resolver())
}

func (r *row) Columns(ctx context.Context) (rowbatch.Columns, error) {
	m, err := r.store.client().HGetAll(ctx, r.store.rowKey(r.key)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, r.errNotFound()
	}
	return r.store.decodeColumns(m)
}

func (r *row) Update(ctx context.Context, columns rowbatch.Columns) error {
	return r.store.BatchUpdate(ctx, []rowbatch.RowUpdate{{Row: r, Columns: columns}})
}

func (r *row) Delete(ctx context.Context) error {
	var del *redis.IntCmd
	_, err := r.store.client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.store.rowKey(r.key))
		pipe.ZRem(ctx, r.store.idsKey(r.key.Table), r.key.Row.String())
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return r.errNotFound()
	}
	return nil
}
