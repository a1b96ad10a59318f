package autobatch

import (
	"context"
	"fmt"
	"iter"
	log "log/slog"

	"github.com/sharedcode/rowbatch"
)

// Tables is the registry of a store's tables. It owns the Batcher shared by all of them.
type Tables struct {
	store   rowbatch.Store
	opts    Options
	batcher *Batcher
	infos   []rowbatch.TableInfo
	byName  map[string]*Table
	byID    map[rowbatch.UUID]*Table
}

// New enumerates the store's tables. Table handles are created on first use.
func New(ctx context.Context, store rowbatch.Store, opts Options) (*Tables, error) {
	ts := &Tables{
		store:  store,
		opts:   opts,
		byName: make(map[string]*Table),
		byID:   make(map[rowbatch.UUID]*Table),
	}
	ts.batcher = newBatcher(ts, opts)
	if err := ts.Refresh(ctx); err != nil {
		return nil, err
	}
	return ts, nil
}

// Refresh re-reads the store's table list. Tables already in use keep their handles.
func (ts *Tables) Refresh(ctx context.Context) error {
	infos, err := ts.store.Tables(ctx)
	if err != nil {
		return err
	}
	ts.infos = infos
	return nil
}

// Store returns the underlying store.
func (ts *Tables) Store() rowbatch.Store {
	return ts.store
}

// Batcher returns the batching coordinator.
func (ts *Tables) Batcher() *Batcher {
	return ts.batcher
}

// Names lists the table names in the store's order.
func (ts *Tables) Names() []string {
	names := make([]string, len(ts.infos))
	for i, info := range ts.infos {
		names[i] = info.Name
	}
	return names
}

// Table returns the named table.
func (ts *Tables) Table(name string) (*Table, error) {
	if t, ok := ts.byName[name]; ok {
		return t, nil
	}
	for _, info := range ts.infos {
		if info.Name == name {
			return ts.open(info), nil
		}
	}
	return nil, rowbatch.NewError(rowbatch.UnknownTable, fmt.Errorf("no table named %q", name), name)
}

// TableByID returns the table with the given identifier. An identifier not seen yet refreshes
// the table list once.
func (ts *Tables) TableByID(ctx context.Context, id rowbatch.UUID) (*Table, error) {
	if t, ok := ts.byID[id]; ok {
		return t, nil
	}
	if info, ok := ts.lookup(id); ok {
		return ts.open(info), nil
	}
	if err := ts.Refresh(ctx); err != nil {
		return nil, err
	}
	if info, ok := ts.lookup(id); ok {
		return ts.open(info), nil
	}
	return nil, rowbatch.NewError(rowbatch.UnknownTable, fmt.Errorf("no table with id %v", id), id)
}

// All iterates the tables in the store's order.
func (ts *Tables) All() iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for _, info := range ts.infos {
			if !yield(ts.open(info)) {
				return
			}
		}
	}
}

// ClearCaches empties the identity cache of every table.
func (ts *Tables) ClearCaches() {
	for _, t := range ts.byID {
		t.clearCache()
	}
}

func (ts *Tables) lookup(id rowbatch.UUID) (rowbatch.TableInfo, bool) {
	for _, info := range ts.infos {
		if info.ID == id {
			return info, true
		}
	}
	return rowbatch.TableInfo{}, false
}

func (ts *Tables) open(info rowbatch.TableInfo) *Table {
	if t, ok := ts.byID[info.ID]; ok {
		return t
	}
	t := &Table{tables: ts, native: ts.store.Table(info), info: info}
	ts.byName[info.Name] = t
	ts.byID[info.ID] = t
	return t
}

// wrapValue maps the store rows of v to their Rows.
func (ts *Tables) wrapValue(ctx context.Context, v rowbatch.Value) (rowbatch.Value, error) {
	return v.MapRows(func(r rowbatch.Row) (rowbatch.Row, error) {
		return ts.wrap(ctx, r)
	})
}

// wrapColumns maps the store rows found in columns to their Rows.
func (ts *Tables) wrapColumns(ctx context.Context, columns rowbatch.Columns) (rowbatch.Columns, error) {
	return columns.MapRows(func(r rowbatch.Row) (rowbatch.Row, error) {
		return ts.wrap(ctx, r)
	})
}

func (ts *Tables) wrap(ctx context.Context, r rowbatch.Row) (rowbatch.Row, error) {
	if p, ok := r.(*Row); ok {
		return p, nil
	}
	t, err := ts.TableByID(ctx, r.TableID())
	if err != nil {
		return nil, err
	}
	return t.wrap(r), nil
}

// Batch runs fn within a batching window. The window is flushed even when fn fails; fn's error
// takes precedence over the flush's.
func (ts *Tables) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	ts.batcher.Enter()
	err := fn(ctx)
	if ferr := ts.batcher.Exit(ctx); ferr != nil {
		if err != nil {
			log.Warn(fmt.Sprintf("autobatch: flush after failed unit of work errored, details: %v", ferr))
			return err
		}
		return ferr
	}
	return err
}

// Begin starts a native transaction and opens a window; see Transaction.
func (ts *Tables) Begin(ctx context.Context, options rowbatch.TransactionOptions) (*Transaction, error) {
	tx, err := ts.store.Begin(ctx, options)
	if err != nil {
		return nil, err
	}
	ts.batcher.Enter()
	return &Transaction{tables: ts, native: tx}, nil
}

// InTransaction runs fn in a native transaction, retried on conflicts, with a fresh batching
// window per attempt. The zero options mean the Options.TransactionOptions of the registry.
func (ts *Tables) InTransaction(ctx context.Context, options rowbatch.TransactionOptions, fn func(ctx context.Context) error) error {
	if options == (rowbatch.TransactionOptions{}) {
		options = ts.opts.TransactionOptions
	}
	return rowbatch.RunInTransaction(ctx, ts.store, options, func(ctx context.Context) error {
		return ts.Batch(ctx, fn)
	})
}
