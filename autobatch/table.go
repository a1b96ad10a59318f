package autobatch

import (
	"context"

	"github.com/sharedcode/rowbatch"
)

// Table wraps one table of the store and owns the identity cache of its rows.
type Table struct {
	tables   *Tables
	native   rowbatch.Table
	info     rowbatch.TableInfo
	identity map[rowbatch.UUID]*Row
	// rows holding cached fields in the current window
	touched map[*Row]struct{}
}

// Name returns the table's name.
func (t *Table) Name() string {
	return t.info.Name
}

// Info returns the table's name and identifier.
func (t *Table) Info() rowbatch.TableInfo {
	return t.info
}

// Native returns the store's table handle.
func (t *Table) Native() rowbatch.Table {
	return t.native
}

// Get returns the single row matching the queries, nil when none does. Queued writes are
// flushed first so the read observes them.
func (t *Table) Get(ctx context.Context, queries ...rowbatch.Query) (*Row, error) {
	if err := t.tables.batcher.flushForRead(ctx, TriggerGet); err != nil {
		return nil, err
	}
	nq, err := rowbatch.MapQueries(queries, unwrap)
	if err != nil {
		return nil, err
	}
	native, err := t.native.Get(ctx, nq...)
	if err != nil || native == nil {
		return nil, err
	}
	return t.wrap(native), nil
}

// Search returns the rows matching the queries. Queued writes are flushed first.
func (t *Table) Search(ctx context.Context, queries ...rowbatch.Query) (*SearchResult, error) {
	if err := t.tables.batcher.flushForRead(ctx, TriggerSearch); err != nil {
		return nil, err
	}
	nq, err := rowbatch.MapQueries(queries, unwrap)
	if err != nil {
		return nil, err
	}
	sr, err := t.native.Search(ctx, nq...)
	if err != nil {
		return nil, err
	}
	return &SearchResult{table: t, native: sr}, nil
}

// GetByID returns the row with the given identifier, nil when there is none. A row already
// seen in the window is returned without a store call.
func (t *Table) GetByID(ctx context.Context, id rowbatch.UUID) (*Row, error) {
	if r, ok := t.identity[id]; ok {
		return r, nil
	}
	native, err := t.native.GetByID(ctx, id)
	if err != nil || native == nil {
		return nil, err
	}
	return t.wrap(native), nil
}

// Add inserts a row. Within a window the row is only queued and returned pending.
func (t *Table) Add(ctx context.Context, columns rowbatch.Columns) (*Row, error) {
	cols, err := t.tables.wrapColumns(ctx, columns)
	if err != nil {
		return nil, err
	}
	if !t.tables.batcher.batching {
		native, err := unwrapColumns(cols)
		if err != nil {
			return nil, err
		}
		nr, err := t.native.AddRow(ctx, native)
		if err != nil {
			return nil, err
		}
		return t.wrap(nr), nil
	}
	r := &Row{table: t, cache: cols}
	t.tables.batcher.queueAddition(r)
	return r, nil
}

// AddRows inserts rows, keeping their order. Outside a window it is one store call.
func (t *Table) AddRows(ctx context.Context, rows []rowbatch.Columns) ([]*Row, error) {
	added := make([]*Row, 0, len(rows))
	if t.tables.batcher.batching {
		for _, cols := range rows {
			r, err := t.Add(ctx, cols)
			if err != nil {
				return nil, err
			}
			added = append(added, r)
		}
		return added, nil
	}
	payload := make([]rowbatch.Columns, len(rows))
	for i, cols := range rows {
		w, err := t.tables.wrapColumns(ctx, cols)
		if err != nil {
			return nil, err
		}
		if payload[i], err = unwrapColumns(w); err != nil {
			return nil, err
		}
	}
	natives, err := t.native.AddRows(ctx, payload)
	if err != nil {
		return nil, err
	}
	for _, n := range natives {
		added = append(added, t.wrap(n))
	}
	return added, nil
}

// DeleteAllRows empties the table. It is never batched.
func (t *Table) DeleteAllRows(ctx context.Context) error {
	return t.native.DeleteAllRows(ctx)
}

// wrap returns the table's Row for a store row, through the identity cache while batching.
func (t *Table) wrap(native rowbatch.Row) *Row {
	if p, ok := native.(*Row); ok {
		return p
	}
	key := native.Key()
	if r, ok := t.identity[key.Row]; ok {
		return r
	}
	r := &Row{table: t, native: native, key: key, cache: rowbatch.Columns{}}
	if t.tables.batcher.batching {
		t.register(r)
	}
	return r
}

// touch records that r caches fields for the window, and makes it the table's instance of its
// row when there is none yet.
func (t *Table) touch(r *Row) {
	if _, ok := t.identity[r.key.Row]; !ok {
		t.register(r)
	}
	if t.touched == nil {
		t.touched = make(map[*Row]struct{})
	}
	t.touched[r] = struct{}{}
}

func (t *Table) register(r *Row) {
	if t.identity == nil {
		t.identity = make(map[rowbatch.UUID]*Row)
	}
	t.identity[r.key.Row] = r
}

// clearCache forgets the rows seen and their cached fields. Pending rows keep their values.
func (t *Table) clearCache() {
	for _, r := range t.identity {
		if r.native != nil {
			clear(r.cache)
		}
	}
	for r := range t.touched {
		clear(r.cache)
	}
	t.identity = nil
	t.touched = nil
}
