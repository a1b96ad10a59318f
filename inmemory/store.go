// Package inmemory contains an in-process implementation of the rowbatch store contract.
// Tests use it as the remote store; it also serves embedded, single process use.
package inmemory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/query"
)

// Op names a store API for failure injection.
type Op string

const (
	OpTables        Op = "tables"
	OpGet           Op = "get"
	OpSearch        Op = "search"
	OpGetByID       Op = "get_by_id"
	OpAddRow        Op = "add_row"
	OpAddRows       Op = "add_rows"
	OpDeleteAllRows Op = "delete_all_rows"
	OpBatchUpdate   Op = "batch_update"
	OpBatchDelete   Op = "batch_delete"
	OpRowGet        Op = "row_get"
	OpRowUpdate     Op = "row_update"
	OpRowDelete     Op = "row_delete"
	OpBegin         Op = "begin"
	OpCommit        Op = "commit"
)

type tableData struct {
	info  rowbatch.TableInfo
	rows  map[rowbatch.UUID]rowbatch.Columns
	order []rowbatch.UUID
}

func (t *tableData) clone() *tableData {
	c := &tableData{
		info:  t.info,
		rows:  make(map[rowbatch.UUID]rowbatch.Columns, len(t.rows)),
		order: slices.Clone(t.order),
	}
	for id, cols := range t.rows {
		c.rows[id] = cols.Clone()
	}
	return c
}

// Store is a mutex protected map of tables. Transactions are serialized and roll back by
// restoring the snapshot taken at Begin.
type Store struct {
	mu        sync.Mutex
	tables    map[rowbatch.UUID]*tableData
	failures  map[Op][]error
	conflicts int
	// one slot: a single native transaction at a time.
	txSlot chan struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tables:   make(map[rowbatch.UUID]*tableData),
		failures: make(map[Op][]error),
		txSlot:   make(chan struct{}, 1),
	}
}

// CreateTable adds a table, or returns the existing one of that name.
func (s *Store) CreateTable(name string) rowbatch.TableInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t.info.Name == name {
			return t.info
		}
	}
	info := rowbatch.TableInfo{Name: name, ID: rowbatch.NewUUID()}
	s.tables[info.ID] = &tableData{info: info, rows: make(map[rowbatch.UUID]rowbatch.Columns)}
	return info
}

// InjectError makes the next call of op fail with err. Calls queue up, one error per call.
func (s *Store) InjectError(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// InjectConflicts makes the next n commits roll back and fail with rowbatch.ErrConflict.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// RowCount returns the number of rows a table holds, -1 for an unknown table.
func (s *Store) RowCount(tableID rowbatch.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	if !ok {
		return -1
	}
	return len(t.order)
}

// fail pops the injected error of op. Caller holds mu.
func (s *Store) fail(op Op) error {
	errs := s.failures[op]
	if len(errs) == 0 {
		return nil
	}
	s.failures[op] = errs[1:]
	return errs[0]
}

// Tables lists the tables sorted by name.
func (s *Store) Tables(ctx context.Context) ([]rowbatch.TableInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpTables); err != nil {
		return nil, err
	}
	infos := make([]rowbatch.TableInfo, 0, len(s.tables))
	for _, t := range s.tables {
		infos = append(infos, t.info)
	}
	slices.SortFunc(infos, func(a, b rowbatch.TableInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

// Table returns a handle for the table.
func (s *Store) Table(info rowbatch.TableInfo) rowbatch.Table {
	return &table{store: s, info: info}
}

// BatchUpdate applies all updates or none.
func (s *Store) BatchUpdate(ctx context.Context, updates []rowbatch.RowUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpBatchUpdate); err != nil {
		return err
	}
	resolved := make([]rowbatch.Columns, len(updates))
	for i, u := range updates {
		if _, err := s.lookup(u.Row.Key()); err != nil {
			return err
		}
		cols, err := s.resolve(u.Columns)
		if err != nil {
			return err
		}
		resolved[i] = cols
	}
	for i, u := range updates {
		cols, _ := s.lookup(u.Row.Key())
		cols.Merge(resolved[i])
	}
	return nil
}

// BatchDelete deletes all rows or none.
func (s *Store) BatchDelete(ctx context.Context, rows []rowbatch.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpBatchDelete); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := s.lookup(r.Key()); err != nil {
			return err
		}
	}
	for _, r := range rows {
		s.remove(r.Key())
	}
	return nil
}

// Begin waits for the transaction slot and snapshots every table.
func (s *Store) Begin(ctx context.Context, options rowbatch.TransactionOptions) (rowbatch.Transaction, error) {
	select {
	case s.txSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpBegin); err != nil {
		<-s.txSlot
		return nil, err
	}
	return &transaction{store: s, snapshot: s.snapshot(), options: options}, nil
}

func (s *Store) snapshot() map[rowbatch.UUID]*tableData {
	snap := make(map[rowbatch.UUID]*tableData, len(s.tables))
	for id, t := range s.tables {
		snap[id] = t.clone()
	}
	return snap
}

// lookup returns the stored columns of the row. Caller holds mu.
func (s *Store) lookup(key rowbatch.RowKey) (rowbatch.Columns, error) {
	if key.IsNil() {
		return nil, fmt.Errorf("row is not persisted")
	}
	t, ok := s.tables[key.Table]
	if !ok {
		return nil, rowbatch.NewError(rowbatch.UnknownTable, fmt.Errorf("table %v not found", key.Table), key.Table)
	}
	cols, ok := t.rows[key.Row]
	if !ok {
		return nil, rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", key), key)
	}
	return cols, nil
}

// remove deletes the row. Caller holds mu.
func (s *Store) remove(key rowbatch.RowKey) {
	t := s.tables[key.Table]
	delete(t.rows, key.Row)
	t.order = slices.DeleteFunc(t.order, func(id rowbatch.UUID) bool { return id == key.Row })
}

// resolve replaces every referenced row by this store's handle of the same key.
func (s *Store) resolve(columns rowbatch.Columns) (rowbatch.Columns, error) {
	return columns.MapRows(func(r rowbatch.Row) (rowbatch.Row, error) {
		k := r.Key()
		if k.IsNil() {
			return nil, fmt.Errorf("referenced row is not persisted")
		}
		return &row{store: s, key: k}, nil
	})
}

type transaction struct {
	store    *Store
	snapshot map[rowbatch.UUID]*tableData
	options  rowbatch.TransactionOptions
	done     bool
}

// Commit keeps the changes, unless a conflict was injected in which case it rolls back.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction is already done")
	}
	t.done = true
	s := t.store
	defer func() { <-s.txSlot }()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(OpCommit); err != nil {
		s.tables = t.snapshot
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		s.tables = t.snapshot
		return rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("commit lost a race"), nil)
	}
	return nil
}

// Rollback restores the snapshot taken at Begin.
func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	s := t.store
	defer func() { <-s.txSlot }()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = t.snapshot
	return nil
}

type table struct {
	store *Store
	info  rowbatch.TableInfo
}

func (t *table) Info() rowbatch.TableInfo {
	return t.info
}

func (t *table) data() (*tableData, error) {
	d, ok := t.store.tables[t.info.ID]
	if !ok {
		return nil, rowbatch.NewError(rowbatch.UnknownTable, fmt.Errorf("table %q not found", t.info.Name), t.info.Name)
	}
	return d, nil
}

func (t *table) Get(ctx context.Context, queries ...rowbatch.Query) (rowbatch.Row, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.fail(OpGet); err != nil {
		return nil, err
	}
	keys, err := t.match(queries)
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

// Search snapshots the keys of the matching rows; row contents are read on access.
func (t *table) Search(ctx context.Context, queries ...rowbatch.Query) (rowbatch.SearchResult, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.fail(OpSearch); err != nil {
		return nil, err
	}
	keys, err := t.match(queries)
	if err != nil {
		return nil, err
	}
	return &searchResult{store: t.store, keys: keys}, nil
}

// match returns the keys of the matching rows in insertion order. Caller holds mu.
func (t *table) match(queries []rowbatch.Query) ([]rowbatch.RowKey, error) {
	d, err := t.data()
	if err != nil {
		return nil, err
	}
	var keys []rowbatch.RowKey
	for _, id := range d.order {
		ok, err := query.Match(d.rows[id], queries...)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, rowbatch.RowKey{Table: t.info.ID, Row: id})
		}
	}
	return keys, nil
}

func (t *table) GetByID(ctx context.Context, id rowbatch.UUID) (rowbatch.Row, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.fail(OpGetByID); err != nil {
		return nil, err
	}
	d, err := t.data()
	if err != nil {
		return nil, err
	}
	if _, ok := d.rows[id]; !ok {
		return nil, nil
	}
	return &row{store: t.store, key: rowbatch.RowKey{Table: t.info.ID, Row: id}}, nil
}

func (t *table) AddRow(ctx context.Context, columns rowbatch.Columns) (rowbatch.Row, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.fail(OpAddRow); err != nil {
		return nil, err
	}
	rows, err := t.add([]rowbatch.Columns{columns})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (t *table) AddRows(ctx context.Context, rows []rowbatch.Columns) ([]rowbatch.Row, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.fail(OpAddRows); err != nil {
		return nil, err
	}
	return t.add(rows)
}

// add inserts all rows or none. Caller holds mu.
func (t *table) add(rows []rowbatch.Columns) ([]rowbatch.Row, error) {
	d, err := t.data()
	if err != nil {
		return nil, err
	}
	resolved := make([]rowbatch.Columns, len(rows))
	for i, cols := range rows {
		if resolved[i], err = t.store.resolve(cols); err != nil {
			return nil, err
		}
	}
	r := make([]rowbatch.Row, len(rows))
	for i, cols := range resolved {
		id := rowbatch.NewUUID()
		d.rows[id] = cols
		d.order = append(d.order, id)
		r[i] = &row{store: t.store, key: rowbatch.RowKey{Table: t.info.ID, Row: id}}
	}
	return r, nil
}

func (t *table) DeleteAllRows(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.fail(OpDeleteAllRows); err != nil {
		return err
	}
	d, err := t.data()
	if err != nil {
		return err
	}
	d.rows = make(map[rowbatch.UUID]rowbatch.Columns)
	d.order = nil
	return nil
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

// row is a handle; every call reads or writes the store.
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

func (r *row) Get(ctx context.Context, column string) (rowbatch.Value, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail(OpRowGet); err != nil {
		return rowbatch.Value{}, err
	}
	cols, err := r.store.lookup(r.key)
	if err != nil {
		return rowbatch.Value{}, err
	}
	return cols[column], nil
}

func (r *row) Columns(ctx context.Context) (rowbatch.Columns, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail(OpRowGet); err != nil {
		return nil, err
	}
	cols, err := r.store.lookup(r.key)
	if err != nil {
		return nil, err
	}
	return cols.Clone(), nil
}

func (r *row) Update(ctx context.Context, columns rowbatch.Columns) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail(OpRowUpdate); err != nil {
		return err
	}
	cols, err := r.store.lookup(r.key)
	if err != nil {
		return err
	}
	resolved, err := r.store.resolve(columns)
	if err != nil {
		return err
	}
	cols.Merge(resolved)
	return nil
}

func (r *row) Delete(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail(OpRowDelete); err != nil {
		return err
	}
	if _, err := r.store.lookup(r.key); err != nil {
		return err
	}
	r.store.remove(r.key)
	return nil
}
