// Package redis contains a rowbatch store over Redis.
//
// A table is a Redis hash per row, field per column, plus a sorted set of its row ids ordered by
// insertion. Column values are JSON, row references included (see the encoding package). Bulk
// adds, bulk updates and table wipes are Lua scripts; bulk deletes are one MULTI/EXEC pipeline.
// Every store call is thus one round trip, searches with criteria excepted: they read the
// table's rows in one pipeline and filter client-side.
package redis

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
)

// idField is the hash field holding the row id. It marks the row as existing, even without columns.
const idField = "\x00id"

// StoreOptions configures the key layout and transaction locking of a Store.
type StoreOptions struct {
	// KeyPrefix namespaces every key of the store.
	KeyPrefix string `json:"key_prefix"`
	// LockTTL is the lifetime of the transaction lock; a transaction running longer loses it
	// and fails to commit.
	LockTTL time.Duration `json:"lock_ttl"`
}

// DefaultStoreOptions returns the default store options.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		KeyPrefix: "rowbatch",
		LockTTL:   30 * time.Second,
	}
}

// Store implements rowbatch.Store over a Redis connection.
type Store struct {
	conn    *Connection
	options StoreOptions
}

var _ rowbatch.Store = (*Store)(nil)

// NewStore returns a store using conn, the singleton connection when conn is nil.
func NewStore(conn *Connection, options StoreOptions) (*Store, error) {
	if conn == nil {
		conn = connection
	}
	if conn == nil || conn.Client == nil {
		return nil, fmt.Errorf("Redis connection is not open, 'can't create new store")
	}
	if options.KeyPrefix == "" {
		options.KeyPrefix = DefaultStoreOptions().KeyPrefix
	}
	if options.LockTTL <= 0 {
		options.LockTTL = DefaultStoreOptions().LockTTL
	}
	return &Store{conn: conn, options: options}, nil
}

func (s *Store) client() *redis.Client {
	return s.conn.Client
}

func (s *Store) tablesKey() string {
	return s.options.KeyPrefix + ":tables"
}

func (s *Store) lockKey() string {
	return s.options.KeyPrefix + ":txlock"
}

// Keys of a table share the {table id} hash tag, so they live in one cluster slot.
func (s *Store) tableKey(tableID rowbatch.UUID) string {
	return fmt.Sprintf("%s:{%s}", s.options.KeyPrefix, tableID)
}

func (s *Store) seqKey(tableID rowbatch.UUID) string {
	return s.tableKey(tableID) + ":seq"
}

func (s *Store) idsKey(tableID rowbatch.UUID) string {
	return s.tableKey(tableID) + ":ids"
}

func (s *Store) rowKeyPrefix(tableID rowbatch.UUID) string {
	return s.tableKey(tableID) + ":row:"
}

func (s *Store) rowKey(key rowbatch.RowKey) string {
	return s.rowKeyPrefix(key.Table) + key.Row.String()
}

// CreateTable adds a table, or returns the existing one of that name.
func (s *Store) CreateTable(ctx context.Context, name string) (rowbatch.TableInfo, error) {
	if err := s.client().HSetNX(ctx, s.tablesKey(), name, rowbatch.NewUUID().String()).Err(); err != nil {
		return rowbatch.TableInfo{}, err
	}
	id, err := s.client().HGet(ctx, s.tablesKey(), name).Result()
	if err != nil {
		return rowbatch.TableInfo{}, err
	}
	tid, err := rowbatch.ParseUUID(id)
	if err != nil {
		return rowbatch.TableInfo{}, fmt.Errorf("table %q has a malformed id %q: %w", name, id, err)
	}
	return rowbatch.TableInfo{Name: name, ID: tid}, nil
}

// Tables lists the tables sorted by name.
func (s *Store) Tables(ctx context.Context) ([]rowbatch.TableInfo, error) {
	m, err := s.client().HGetAll(ctx, s.tablesKey()).Result()
	if err != nil {
		return nil, err
	}
	infos := make([]rowbatch.TableInfo, 0, len(m))
	for name, id := range m {
		tid, err := rowbatch.ParseUUID(id)
		if err != nil {
			return nil, fmt.Errorf("table %q has a malformed id %q: %w", name, id, err)
		}
		infos = append(infos, rowbatch.TableInfo{Name: name, ID: tid})
	}
	slices.SortFunc(infos, func(a, b rowbatch.TableInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

// Table returns a handle for the table.
func (s *Store) Table(info rowbatch.TableInfo) rowbatch.Table {
	return &table{store: s, info: info}
}

// BatchUpdate merges the columns of every update in one script call, all or none.
func (s *Store) BatchUpdate(ctx context.Context, updates []rowbatch.RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	keys := make([]string, len(updates))
	var args []any
	for i, u := range updates {
		k := u.Row.Key()
		if k.IsNil() {
			return fmt.Errorf("can't update a row that is not persisted")
		}
		keys[i] = s.rowKey(k)
		fields, err := encodeColumns(u.Columns)
		if err != nil {
			return err
		}
		args = append(args, len(fields)/2)
		args = append(args, fields...)
	}
	missing, err := updateRowsScript.Run(ctx, s.client(), keys, args...).Int()
	if err != nil {
		return err
	}
	if missing > 0 {
		k := updates[missing-1].Row.Key()
		return rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", k), k)
	}
	return nil
}

// BatchDelete deletes the rows in one MULTI/EXEC. Rows already gone are ignored.
func (s *Store) BatchDelete(ctx context.Context, rows []rowbatch.Row) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range rows {
			k := r.Key()
			pipe.Del(ctx, s.rowKey(k))
			pipe.ZRem(ctx, s.idsKey(k.Table), k.Row.String())
		}
		return nil
	})
	return err
}

func (s *Store) resolver() encoding.Resolver {
	return func(k rowbatch.RowKey) rowbatch.Row {
		return &row{store: s, key: k}
	}
}

// encodeColumns returns the field/value pairs of columns, values JSON encoded.
func encodeColumns(columns rowbatch.Columns) ([]any, error) {
	fields := make([]any, 0, 2*len(columns))
	for _, name := range columns.Names() {
		if name == idField {
			return nil, fmt.Errorf("column name %q is reserved", name)
		}
		ba, err := encoding.MarshalValue(columns[name])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields = append(fields, name, string(ba))
	}
	return fields, nil
}

func (s *Store) decodeColumns(m map[string]string) (rowbatch.Columns, error) {
	cols := make(rowbatch.Columns, len(m))
	for k, raw := range m {
		if k == idField {
			continue
		}
		v, err := encoding.UnmarshalValue([]byte(raw), s.resolver())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		cols[k] = v
	}
	return cols, nil
}
