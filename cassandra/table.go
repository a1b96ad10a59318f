package cassandra

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/gocql/gocql"

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

// match reads the table's partition, orders it by insertion and filters it client-side.
func (t *table) match(ctx context.Context, queries []rowbatch.Query) ([]rowbatch.RowKey, error) {
	s := t.store
	iter := s.query(ctx, s.conn.ConsistencyBook.RowGet,
		fmt.Sprintf("SELECT rid, seq, cols FROM %s WHERE tid = ?;", s.table("rb_rows")),
		gocql.UUID(t.info.ID)).Iter()
	var stored []storedRow
	var rid gocql.UUID
	var seq int64
	var cols map[string]string
	for iter.Scan(&rid, &seq, &cols) {
		stored = append(stored, storedRow{id: rowbatch.UUID(rid), seq: seq, cols: cols})
		cols = nil
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	slices.SortFunc(stored, compareStored)

	keys := make([]rowbatch.RowKey, 0, len(stored))
	for _, r := range stored {
		if len(queries) > 0 {
			decoded, err := s.decodeColumns(r.cols)
			if err != nil {
				return nil, err
			}
			ok, err := query.Match(decoded, queries...)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		keys = append(keys, t.key(r.id))
	}
	return keys, nil
}

func (t *table) GetByID(ctx context.Context, id rowbatch.UUID) (rowbatch.Row, error) {
	s := t.store
	var rid gocql.UUID
	err := s.query(ctx, s.conn.ConsistencyBook.RowGet,
		fmt.Sprintf("SELECT rid FROM %s WHERE tid = ? AND rid = ?;", s.table("rb_rows")),
		gocql.UUID(t.info.ID), gocql.UUID(id)).Scan(&rid)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row{store: s, key: t.key(id)}, nil
}

func (t *table) AddRow(ctx context.Context, columns rowbatch.Columns) (rowbatch.Row, error) {
	rows, err := t.AddRows(ctx, []rowbatch.Columns{columns})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// AddRows inserts the rows in one logged batch.
func (t *table) AddRows(ctx context.Context, rows []rowbatch.Columns) ([]rowbatch.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s := t.store
	stmt := fmt.Sprintf("INSERT INTO %s (tid, rid, seq, cols) VALUES (?, ?, ?, ?);", s.table("rb_rows"))
	batch := s.batch(ctx, s.conn.ConsistencyBook.RowAdd)
	seq := s.nextSeq(len(rows))
	added := make([]rowbatch.Row, len(rows))
	for i, columns := range rows {
		k := t.key(rowbatch.NewUUID())
		cols, err := encodeColumns(columns)
		if err != nil {
			return nil, err
		}
		batch.Query(stmt, gocql.UUID(k.Table), gocql.UUID(k.Row), seq+int64(i), cols)
		added[i] = &row{store: s, key: k}
	}
	if err := s.conn.Session.ExecuteBatch(batch); err != nil {
		return nil, err
	}
	return added, nil
}

// DeleteAllRows drops the table's partition.
func (t *table) DeleteAllRows(ctx context.Context) error {
	s := t.store
	return s.query(ctx, s.conn.ConsistencyBook.RowRemove,
		fmt.Sprintf("DELETE FROM %s WHERE tid = ?;", s.table("rb_rows")),
		gocql.UUID(t.info.ID)).Exec()
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
