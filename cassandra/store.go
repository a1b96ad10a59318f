package cassandra

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
)

// Store is a rowbatch.Store over the rowbatch keyspace.
type Store struct {
	conn    *Connection
	lastSeq atomic.Int64
}

var errClosed = errors.New("Cassandra connection is closed, 'call OpenConnection(config) to open it")

// NewStore returns a Store using conn, or the global connection when conn is nil.
func NewStore(conn *Connection) (*Store, error) {
	if conn == nil {
		conn = connection
	}
	if conn == nil {
		return nil, errClosed
	}
	return &Store{conn: conn}, nil
}

func (s *Store) table(name string) string {
	return s.conn.Keyspace + "." + name
}

func (s *Store) query(ctx context.Context, consistency gocql.Consistency, stmt string, values ...any) *gocql.Query {
	qry := s.conn.Session.Query(stmt, values...).WithContext(ctx)
	if consistency > gocql.Any {
		qry.Consistency(consistency)
	}
	return qry
}

func (s *Store) batch(ctx context.Context, consistency gocql.Consistency) *gocql.Batch {
	batch := s.conn.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	if consistency > gocql.Any {
		batch.SetConsistency(consistency)
	}
	return batch
}

// nextSeq reserves n consecutive insertion sequence numbers, increasing within this process.
func (s *Store) nextSeq(n int) int64 {
	for {
		last := s.lastSeq.Load()
		start := max(time.Now().UnixNano(), last+1)
		if s.lastSeq.CompareAndSwap(last, start+int64(n)-1) {
			return start
		}
	}
}

// CreateTable adds a table, or returns the existing one of that name.
func (s *Store) CreateTable(ctx context.Context, name string) (rowbatch.TableInfo, error) {
	id := rowbatch.NewUUID()
	existing := map[string]any{}
	applied, err := s.query(ctx, s.conn.ConsistencyBook.RowAdd,
		fmt.Sprintf("INSERT INTO %s (name, id) VALUES (?, ?) IF NOT EXISTS;", s.table("rb_tables")),
		name, gocql.UUID(id)).MapScanCAS(existing)
	if err != nil {
		return rowbatch.TableInfo{}, err
	}
	if !applied {
		current, ok := existing["id"].(gocql.UUID)
		if !ok {
			return rowbatch.TableInfo{}, fmt.Errorf("table %q has a malformed id %v", name, existing["id"])
		}
		id = rowbatch.UUID(current)
	}
	return rowbatch.TableInfo{Name: name, ID: id}, nil
}

// Tables lists the tables sorted by name.
func (s *Store) Tables(ctx context.Context) ([]rowbatch.TableInfo, error) {
	iter := s.query(ctx, s.conn.ConsistencyBook.RowGet, fmt.Sprintf("SELECT name, id FROM %s;", s.table("rb_tables"))).Iter()
	var infos []rowbatch.TableInfo
	var name string
	var id gocql.UUID
	for iter.Scan(&name, &id) {
		infos = append(infos, rowbatch.TableInfo{Name: name, ID: rowbatch.UUID(id)})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b rowbatch.TableInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

// Table returns a handle for the table.
func (s *Store) Table(info rowbatch.TableInfo) rowbatch.Table {
	return &table{store: s, info: info}
}

// BatchUpdate merges the columns of every update. Updates of a single table are one partition
// and go out as one conditional batch, so a row deleted concurrently fails the whole batch
// instead of being brought back by the merge. Updates spanning tables check existence per
// table first and then write one logged batch; a row deleted between the two is recreated
// with the merged columns only.
func (s *Store) BatchUpdate(ctx context.Context, updates []rowbatch.RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	byTable := map[rowbatch.UUID][]rowbatch.UUID{}
	for _, u := range updates {
		k := u.Row.Key()
		if k.IsNil() {
			return fmt.Errorf("can't update a row that is not persisted")
		}
		byTable[k.Table] = append(byTable[k.Table], k.Row)
	}
	if len(byTable) == 1 {
		return s.updatePartition(ctx, updates[0].Row.Key().Table, byTable, updates)
	}
	found, err := s.existingKeys(ctx, byTable)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("UPDATE %s SET cols = cols + ? WHERE tid = ? AND rid = ?;", s.table("rb_rows"))
	batch := s.batch(ctx, s.conn.ConsistencyBook.RowUpdate)
	for _, u := range updates {
		k := u.Row.Key()
		if !found[k] {
			return rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", k), k)
		}
		cols, err := encodeColumns(u.Columns)
		if err != nil {
			return err
		}
		if len(cols) > 0 {
			batch.Query(stmt, cols, gocql.UUID(k.Table), gocql.UUID(k.Row))
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	return s.conn.Session.ExecuteBatch(batch)
}

// updatePartition writes the updates of table tid as one batch of IF EXISTS updates.
func (s *Store) updatePartition(ctx context.Context, tid rowbatch.UUID, byTable map[rowbatch.UUID][]rowbatch.UUID, updates []rowbatch.RowUpdate) error {
	stmt := fmt.Sprintf("UPDATE %s SET cols = cols + ? WHERE tid = ? AND rid = ? IF EXISTS;", s.table("rb_rows"))
	batch := s.batch(ctx, s.conn.ConsistencyBook.RowUpdate)
	for _, u := range updates {
		cols, err := encodeColumns(u.Columns)
		if err != nil {
			return err
		}
		batch.Query(stmt, cols, gocql.UUID(tid), gocql.UUID(u.Row.Key().Row))
	}
	applied, iter, err := s.conn.Session.ExecuteBatchCAS(batch)
	if err != nil {
		return err
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if applied {
		return nil
	}
	// Nothing was written. Name the missing row.
	found, err := s.existingKeys(ctx, byTable)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if k := u.Row.Key(); !found[k] {
			return rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", k), k)
		}
	}
	k := updates[0].Row.Key()
	return rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("a row of table %v was removed during the update", tid), k)
}

// existingKeys returns the keys of byTable that are rows of their table.
func (s *Store) existingKeys(ctx context.Context, byTable map[rowbatch.UUID][]rowbatch.UUID) (map[rowbatch.RowKey]bool, error) {
	found := map[rowbatch.RowKey]bool{}
	for tid, ids := range byTable {
		existing, err := s.existing(ctx, tid, ids)
		if err != nil {
			return nil, err
		}
		for _, rid := range existing {
			found[rowbatch.RowKey{Table: tid, Row: rid}] = true
		}
	}
	return found, nil
}

// existing returns which of ids are rows of the table.
func (s *Store) existing(ctx context.Context, tid rowbatch.UUID, ids []rowbatch.UUID) ([]rowbatch.UUID, error) {
	params := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, gocql.UUID(tid))
	for i, id := range ids {
		params[i] = "?"
		args = append(args, gocql.UUID(id))
	}
	iter := s.query(ctx, s.conn.ConsistencyBook.RowGet,
		fmt.Sprintf("SELECT rid FROM %s WHERE tid = ? AND rid IN (%s);", s.table("rb_rows"), strings.Join(params, ", ")),
		args...).Iter()
	var found []rowbatch.UUID
	var rid gocql.UUID
	for iter.Scan(&rid) {
		found = append(found, rowbatch.UUID(rid))
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return found, nil
}

// BatchDelete deletes the rows in one logged batch. Rows already gone are ignored.
func (s *Store) BatchDelete(ctx context.Context, rows []rowbatch.Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE tid = ? AND rid = ?;", s.table("rb_rows"))
	batch := s.batch(ctx, s.conn.ConsistencyBook.RowRemove)
	for _, r := range rows {
		k := r.Key()
		batch.Query(stmt, gocql.UUID(k.Table), gocql.UUID(k.Row))
	}
	return s.conn.Session.ExecuteBatch(batch)
}

func (s *Store) resolver() encoding.Resolver {
	return func(k rowbatch.RowKey) rowbatch.Row {
		return &row{store: s, key: k}
	}
}

func encodeColumns(columns rowbatch.Columns) (map[string]string, error) {
	cols := make(map[string]string, len(columns))
	for name, v := range columns {
		ba, err := encoding.MarshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		cols[name] = string(ba)
	}
	return cols, nil
}

func (s *Store) decodeColumns(m map[string]string) (rowbatch.Columns, error) {
	cols := make(rowbatch.Columns, len(m))
	for k, raw := range m {
		v, err := encoding.UnmarshalValue([]byte(raw), s.resolver())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		cols[k] = v
	}
	return cols, nil
}

// storedRow is one rb_rows record.
type storedRow struct {
	id   rowbatch.UUID
	seq  int64
	cols map[string]string
}

func compareStored(a, b storedRow) int {
	if c := cmp.Compare(a.seq, b.seq); c != 0 {
		return c
	}
	return a.id.Compare(b.id)
}
