package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/query"
)

type table struct {
	store *Store
	info  rowbatch.TableInfo
}

func (t *table) Info() rowbatch.TableInfo {
	return t.info
}

func (t *table) key(id rowbatch.UUID) rowbatch.RowKey {
	return rowbatch.RowKey{Table: t.info.ID, Row: id}
}

func (t *table) Get(ctx context.Context, queries ...rowbatch.Query) (rowbatch.Row, error) {
	keys, err := t.match(ctx, queries)
	if err != nil {
		return nil, err
	}
	switch len(keys) {
	case 0:
		return nil, nil
	case 1:
		return &row{store: t.store, key: keys[0]}, nil
	}
	return nil, rowbatch.NewError(rowbatch.MultipleRows, fmt.Errorf("%d rows matched in table %q", len(keys), t.info.Name), len(keys))
}

func (t *table) Search(ctx context.Context, queries ...rowbatch.Query) (rowbatch.SearchResult, error) {
	keys, err := t.match(ctx, queries)
	if err != nil {
		return nil, err
	}
	return &searchResult{store: t.store, keys: keys}, nil
}

// match lists the table's row ids in insertion order and, when there are criteria, reads every
// row in one pipeline to filter them.
func (t *table) match(ctx context.Context, queries []rowbatch.Query) ([]rowbatch.RowKey, error) {
	s := t.store
	ids, err := s.client().ZRange(ctx, s.idsKey(t.info.ID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]rowbatch.RowKey, len(ids))
	for i, id := range ids {
		rid, err := rowbatch.ParseUUID(id)
		if err != nil {
			return nil, fmt.Errorf("table %q has a malformed row id %q: %w", t.info.Name, id, err)
		}
		keys[i] = t.key(rid)
	}
	if len(queries) == 0 || len(keys) == 0 {
		return keys, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	if _, err := s.client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.rowKey(k))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	matched := keys[:0]
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			// Deleted between the two reads.
			continue
		}
		cols, err := s.decodeColumns(m)
		if err != nil {
			return nil, err
		}
		ok, err := query.Match(cols, queries...)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, keys[i])
		}
	}
	return matched, nil
}

func (t *table) GetByID(ctx context.Context, id rowbatch.UUID) (rowbatch.Row, error) {
	k := t.key(id)
	n, err := t.store.client().Exists(ctx, t.store.rowKey(k)).Result()
	if err != nil || n == 0 {
		return nil, err
	}
	return &row{store: t.store, key: k}, nil
}

func (t *table) AddRow(ctx context.Context, columns rowbatch.Columns) (rowbatch.Row, error) {
	rows, err := t.AddRows(ctx, []rowbatch.Columns{columns})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// AddRows inserts the rows with one script call.
func (t *table) AddRows(ctx context.Context, rows []rowbatch.Columns) ([]rowbatch.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s := t.store
	keys := []string{s.seqKey(t.info.ID), s.idsKey(t.info.ID)}
	args := []any{idField, len(rows)}
	added := make([]rowbatch.Row, len(rows))
	for i, cols := range rows {
		k := t.key(rowbatch.NewUUID())
		fields, err := encodeColumns(cols)
		if err != nil {
			return nil, err
		}
		keys = append(keys, s.rowKey(k))
		args = append(args, k.Row.String(), len(fields)/2)
		args = append(args, fields...)
		added[i] = &row{store: s, key: k}
	}
	if err := addRowsScript.Run(ctx, s.client(), keys, args...).Err(); err != nil {
		return nil, err
	}
	return added, nil
}

func (t *table) DeleteAllRows(ctx context.Context) error {
	s := t.store
	return deleteAllScript.Run(ctx, s.client(), []string{s.idsKey(t.info.ID)}, s.rowKeyPrefix(t.info.ID)).Err()
}

type searchResult struct {
	store *Store
	keys  []rowbatch.RowKey
}

func (r *searchResult) Len(ctx context.Context) (int, error) {
	return len(r.keys), nil
}

func (r *searchResult) At(ctx context.Context, i int) (rowbatch.Row, error) {
	if i < 0 || i >= len(r.keys) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(r.keys))
	}
	return &row{store: r.store, key: r.keys[i]}, nil
}
