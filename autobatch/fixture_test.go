package autobatch

import (
	"context"
	"testing"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/count"
	"github.com/sharedcode/rowbatch/inmemory"
)

var ctx = context.Background()

// recorder keeps the payload of every bulk call that reaches the store.
type recorder struct {
	rowbatch.Store
	updates [][]rowbatch.RowUpdate
	deletes [][]rowbatch.Row
}

func (r *recorder) BatchUpdate(ctx context.Context, updates []rowbatch.RowUpdate) error {
	r.updates = append(r.updates, updates)
	return r.Store.BatchUpdate(ctx, updates)
}

func (r *recorder) BatchDelete(ctx context.Context, rows []rowbatch.Row) error {
	r.deletes = append(r.deletes, rows)
	return r.Store.BatchDelete(ctx, rows)
}

type fixture struct {
	store   *inmemory.Store
	counter *count.Counter
	rec     *recorder
	tables  *Tables
	early   []string
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	f := &fixture{store: inmemory.NewStore()}
	for _, n := range names {
		f.store.CreateTable(n)
	}
	counted, c := count.FilterStore(f.store)
	f.counter = c
	f.rec = &recorder{Store: counted}
	opts := DefaultOptions()
	opts.TransactionOptions.RetryBackoff = 1
	opts.OnEarlyFlush = func(reason string) { f.early = append(f.early, reason) }
	tables, err := New(ctx, f.rec, opts)
	if err != nil {
		t.Fatalf("New failed, details: %v", err)
	}
	f.tables = tables
	c.Reset()
	return f
}

func (f *fixture) table(t *testing.T, name string) *Table {
	t.Helper()
	tbl, err := f.tables.Table(name)
	if err != nil {
		t.Fatalf("Table(%q) failed, details: %v", name, err)
	}
	return tbl
}

// seed adds rows outside any window and resets the counters.
func (f *fixture) seed(t *testing.T, name string, rows ...map[string]any) []*Row {
	t.Helper()
	tbl := f.table(t, name)
	added := make([]*Row, len(rows))
	for i, m := range rows {
		r, err := tbl.Add(ctx, rowbatch.ColumnsOf(m))
		if err != nil {
			t.Fatalf("seed failed, details: %v", err)
		}
		added[i] = r
	}
	f.counter.Reset()
	return added
}

func cols(m map[string]any) rowbatch.Columns {
	return rowbatch.ColumnsOf(m)
}

func mustGet(t *testing.T, r *Row, column string) any {
	t.Helper()
	v, err := r.Get(ctx, column)
	if err != nil {
		t.Fatalf("Get(%q) failed, details: %v", column, err)
	}
	return v.Interface()
}

func mustExit(t *testing.T, b *Batcher) {
	t.Helper()
	if err := b.Exit(ctx); err != nil {
		t.Fatalf("Exit failed, details: %v", err)
	}
}
