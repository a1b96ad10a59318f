package autobatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/sharedcode/rowbatch"
)

// Row stands for one remote row, or for a pending row queued for addition. Within a window
// there is a single Row per remote row; field reads are cached and writes are queued.
type Row struct {
	table   *Table
	native  rowbatch.Row
	key     rowbatch.RowKey
	cache   rowbatch.Columns
	deleted bool
}

var _ rowbatch.Row = (*Row)(nil)

// Key returns the row's identity. It is zero while the row is pending.
func (r *Row) Key() rowbatch.RowKey {
	return r.key
}

// TableID returns the identifier of the row's table.
func (r *Row) TableID() rowbatch.UUID {
	return r.table.info.ID
}

// Table returns the row's table.
func (r *Row) Table() *Table {
	return r.table
}

// IsPending reports whether the row is still queued for addition.
func (r *Row) IsPending() bool {
	return r.native == nil
}

// IsDeleted reports whether Delete was called on the row.
func (r *Row) IsDeleted() bool {
	return r.deleted
}

// Native returns the store's row, nil while pending.
func (r *Row) Native() rowbatch.Row {
	return r.native
}

func (r *Row) errDeleted() error {
	return rowbatch.NewError(rowbatch.RowDeleted, fmt.Errorf("%v has been deleted", r), r.key)
}

func (r *Row) errNotQueued() error {
	return fmt.Errorf("%v is neither persisted nor queued for addition", r)
}

// ID returns the row's identifier. A pending row forces the queued additions to be flushed.
func (r *Row) ID(ctx context.Context) (rowbatch.UUID, error) {
	if r.deleted {
		return rowbatch.NilUUID, r.errDeleted()
	}
	if r.native == nil {
		if err := r.table.tables.batcher.flushAdditionsEarly(ctx, TriggerGetID); err != nil {
			return rowbatch.NilUUID, err
		}
		if r.native == nil {
			return rowbatch.NilUUID, r.errNotQueued()
		}
	}
	return r.key.Row, nil
}

// Get reads one column. Within a window the value is served from, or kept in, the row's cache.
func (r *Row) Get(ctx context.Context, column string) (rowbatch.Value, error) {
	if r.deleted {
		return rowbatch.Value{}, r.errDeleted()
	}
	if v, ok := r.cache[column]; ok {
		return v, nil
	}
	if r.native == nil {
		if err := r.table.tables.batcher.flushAdditionsEarly(ctx, TriggerRowGet); err != nil {
			return rowbatch.Value{}, err
		}
		if r.native == nil {
			return rowbatch.Value{}, r.errNotQueued()
		}
	}
	v, err := r.native.Get(ctx, column)
	if err != nil {
		return rowbatch.Value{}, err
	}
	w, err := r.table.tables.wrapValue(ctx, v)
	if err != nil {
		return rowbatch.Value{}, err
	}
	if r.table.tables.batcher.batching {
		r.cache[column] = w
		r.table.touch(r)
	}
	return w, nil
}

// Columns reads every column: the store's values overlaid with the window's writes.
func (r *Row) Columns(ctx context.Context) (rowbatch.Columns, error) {
	if r.deleted {
		return nil, r.errDeleted()
	}
	if r.native == nil {
		return r.cache.Clone(), nil
	}
	remote, err := r.native.Columns(ctx)
	if err != nil {
		return nil, err
	}
	batching := r.table.tables.batcher.batching
	cols := make(rowbatch.Columns, len(remote))
	for k, v := range remote {
		if c, ok := r.cache[k]; ok {
			cols[k] = c
			continue
		}
		w, err := r.table.tables.wrapValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		cols[k] = w
		if batching {
			r.cache[k] = w
		}
	}
	if batching {
		r.table.touch(r)
	}
	for k, v := range r.cache {
		cols[k] = v
	}
	return cols, nil
}

// Set writes one column, see Update.
func (r *Row) Set(ctx context.Context, column string, value any) error {
	return r.Update(ctx, rowbatch.Columns{column: rowbatch.ValueOf(value)})
}

// Update writes the given columns. Outside a window the write goes straight to the store.
// Within a window it is cached for reads and queued: merged into the addition of a pending row,
// merged into the row's queued update otherwise.
//
// Update with no columns flushes every queue and empties the row's cache.
func (r *Row) Update(ctx context.Context, columns rowbatch.Columns) error {
	if r.deleted {
		return r.errDeleted()
	}
	b := r.table.tables.batcher
	if len(columns) == 0 {
		if err := b.Flush(ctx); err != nil {
			return err
		}
		if r.native != nil {
			clear(r.cache)
		}
		return nil
	}
	cols, err := r.table.tables.wrapColumns(ctx, columns)
	if err != nil {
		return err
	}
	if r.native == nil {
		// Still queued for addition, window or not.
		r.cache.Merge(cols)
		return nil
	}
	if !b.batching {
		native, err := unwrapColumns(cols)
		if err != nil {
			return err
		}
		return r.native.Update(ctx, native)
	}
	r.cache.Merge(cols)
	r.table.touch(r)
	b.queueUpdate(r, cols)
	return nil
}

// Delete removes the row. Within a window a pending row just leaves the addition queue and a
// persisted one is queued for deletion; either way the row is unusable from now on.
func (r *Row) Delete(ctx context.Context) error {
	if r.deleted {
		return r.errDeleted()
	}
	b := r.table.tables.batcher
	switch {
	case r.native == nil:
		b.dropAddition(r)
	case b.batching:
		b.queueDeletion(r)
	default:
		if err := r.native.Delete(ctx); err != nil {
			return err
		}
	}
	r.markDeleted()
	return nil
}

// Equal reports whether other stands for the same row. Pending rows are only equal to themselves.
func (r *Row) Equal(other rowbatch.Row) bool {
	if other == nil {
		return false
	}
	if o, ok := other.(*Row); ok && o == r {
		return true
	}
	return r.native != nil && r.key == other.Key()
}

func (r *Row) String() string {
	if r.native == nil {
		parts := make([]string, 0, len(r.cache))
		for _, k := range r.cache.Names() {
			parts = append(parts, fmt.Sprintf("%s=%v", k, r.cache[k]))
		}
		return fmt.Sprintf("pending row of %q {%s}", r.table.info.Name, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("row %v of %q", r.key.Row, r.table.info.Name)
}

func (r *Row) bind(native rowbatch.Row) error {
	if r.native != nil {
		return rowbatch.NewError(rowbatch.DuplicateBinding, fmt.Errorf("%v is already bound", r), r.key)
	}
	r.native = native
	r.key = native.Key()
	if r.table.tables.batcher.batching {
		r.table.register(r)
	}
	return nil
}

func (r *Row) markDeleted() {
	r.deleted = true
	clear(r.cache)
}
