package count

import (
	"context"

	"github.com/sharedcode/rowbatch"
)

type store struct {
	c     *Counter
	store rowbatch.Store
}

var _ rowbatch.Store = (*store)(nil)

// FilterStore wraps s so that every call made through it, and through the tables, rows and
// search results it returns, is counted.
func FilterStore(s rowbatch.Store) (rowbatch.Store, *Counter) {
	c := &Counter{}
	return &store{c, s}, c
}

func (s *store) Tables(ctx context.Context) ([]rowbatch.TableInfo, error) {
	ret, err := s.store.Tables(ctx)
	return ret, s.c.Tables.up(err)
}

func (s *store) Table(info rowbatch.TableInfo) rowbatch.Table {
	return &table{s.c, s.store.Table(info)}
}

func (s *store) BatchUpdate(ctx context.Context, updates []rowbatch.RowUpdate) error {
	return s.c.BatchUpdate.up(s.store.BatchUpdate(ctx, updates))
}

func (s *store) BatchDelete(ctx context.Context, rows []rowbatch.Row) error {
	return s.c.BatchDelete.up(s.store.BatchDelete(ctx, rows))
}

func (s *store) Begin(ctx context.Context, options rowbatch.TransactionOptions) (rowbatch.Transaction, error) {
	tx, err := s.store.Begin(ctx, options)
	if s.c.Begin.up(err) != nil {
		return nil, err
	}
	return &transaction{s.c, tx}, nil
}

type transaction struct {
	c  *Counter
	tx rowbatch.Transaction
}

func (t *transaction) Commit(ctx context.Context) error {
	return t.c.Commit.up(t.tx.Commit(ctx))
}

func (t *transaction) Rollback(ctx context.Context) error {
	return t.c.Rollback.up(t.tx.Rollback(ctx))
}

type table struct {
	c     *Counter
	table rowbatch.Table
}

func (t *table) Info() rowbatch.TableInfo {
	return t.table.Info()
}

func (t *table) Get(ctx context.Context, queries ...rowbatch.Query) (rowbatch.Row, error) {
	r, err := t.table.Get(ctx, queries...)
	if t.c.Get.up(err) != nil || r == nil {
		return nil, err
	}
	return &row{t.c, r}, nil
}

func (t *table) Search(ctx context.Context, queries ...rowbatch.Query) (rowbatch.SearchResult, error) {
	sr, err := t.table.Search(ctx, queries...)
	if t.c.Search.up(err) != nil {
		return nil, err
	}
	return &searchResult{t.c, sr}, nil
}

func (t *table) GetByID(ctx context.Context, id rowbatch.UUID) (rowbatch.Row, error) {
	r, err := t.table.GetByID(ctx, id)
	if t.c.GetByID.up(err) != nil || r == nil {
		return nil, err
	}
	return &row{t.c, r}, nil
}

func (t *table) AddRow(ctx context.Context, columns rowbatch.Columns) (rowbatch.Row, error) {
	r, err := t.table.AddRow(ctx, columns)
	if t.c.AddRow.up(err) != nil {
		return nil, err
	}
	return &row{t.c, r}, nil
}

func (t *table) AddRows(ctx context.Context, columns []rowbatch.Columns) ([]rowbatch.Row, error) {
	rows, err := t.table.AddRows(ctx, columns)
	if t.c.AddRows.up(err) != nil {
		return nil, err
	}
	for i := range rows {
		rows[i] = &row{t.c, rows[i]}
	}
	return rows, nil
}

func (t *table) DeleteAllRows(ctx context.Context) error {
	return t.c.DeleteAllRows.up(t.table.DeleteAllRows(ctx))
}

type searchResult struct {
	c  *Counter
	sr rowbatch.SearchResult
}

func (s *searchResult) Len(ctx context.Context) (int, error) {
	n, err := s.sr.Len(ctx)
	return n, s.c.SearchLen.up(err)
}

func (s *searchResult) At(ctx context.Context, i int) (rowbatch.Row, error) {
	r, err := s.sr.At(ctx, i)
	if s.c.SearchAt.up(err) != nil {
		return nil, err
	}
	return &row{s.c, r}, nil
}

type row struct {
	c   *Counter
	row rowbatch.Row
}

func (r *row) Key() rowbatch.RowKey {
	return r.row.Key()
}

func (r *row) TableID() rowbatch.UUID {
	return r.row.TableID()
}

func (r *row) ID(ctx context.Context) (rowbatch.UUID, error) {
	id, err := r.row.ID(ctx)
	return id, r.c.RowID.up(err)
}

func (r *row) Get(ctx context.Context, column string) (rowbatch.Value, error) {
	v, err := r.row.Get(ctx, column)
	if r.c.RowGet.up(err) != nil {
		return v, err
	}
	return r.wrap(v), nil
}

func (r *row) Columns(ctx context.Context) (rowbatch.Columns, error) {
	cols, err := r.row.Columns(ctx)
	if r.c.RowColumns.up(err) != nil {
		return nil, err
	}
	for k, v := range cols {
		cols[k] = r.wrap(v)
	}
	return cols, nil
}

// wrap makes rows read out of column values counted as well.
func (r *row) wrap(v rowbatch.Value) rowbatch.Value {
	w, _ := v.MapRows(func(x rowbatch.Row) (rowbatch.Row, error) {
		return &row{r.c, x}, nil
	})
	return w
}

func (r *row) Update(ctx context.Context, columns rowbatch.Columns) error {
	return r.c.RowUpdate.up(r.row.Update(ctx, columns))
}

func (r *row) Delete(ctx context.Context) error {
	return r.c.RowDelete.up(r.row.Delete(ctx))
}
