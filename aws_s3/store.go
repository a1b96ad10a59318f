package aws_s3

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
)

const (
	largeObjectMinSize = 10 * 1024 * 1024
	// S3 DeleteObjects takes up to this many keys per call.
	maxDeleteKeys = 1000
	tablesPrefix  = "tables/"
	rowsPrefix    = "rows/"
	lockKey       = "locks/txlock"
)

// Store is a rowbatch.Store over one bucket.
type Store struct {
	client      *s3.Client
	bucket      string
	concurrency int
	lockTTL     time.Duration
	lastSeq     atomic.Int64
}

// NewStore returns a Store over config.Bucket using client, or a client built by Connect(config)
// when client is nil.
func NewStore(client *s3.Client, config Config) (*Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name can't be empty")
	}
	if client == nil {
		client = Connect(config)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	return &Store{
		client:      client,
		bucket:      config.Bucket,
		concurrency: config.Concurrency,
		lockTTL:     30 * time.Second,
	}, nil
}

// rowObject is the stored form of a row.
type rowObject struct {
	Seq     int64           `json:"seq"`
	Columns json.RawMessage `json:"cols"`
}

func tableKey(name string) string {
	return tablesPrefix + name
}

func tableRowsPrefix(tid rowbatch.UUID) string {
	return rowsPrefix + tid.String() + "/"
}

func objectKey(k rowbatch.RowKey) string {
	return tableRowsPrefix(k.Table) + k.Row.String()
}

// parseObjectKey is the inverse of objectKey.
func parseObjectKey(key string) (rowbatch.RowKey, error) {
	parts := strings.Split(strings.TrimPrefix(key, rowsPrefix), "/")
	if len(parts) != 2 {
		return rowbatch.RowKey{}, fmt.Errorf("%q is not a row object key", key)
	}
	tid, err := rowbatch.ParseUUID(parts[0])
	if err != nil {
		return rowbatch.RowKey{}, fmt.Errorf("%q is not a row object key: %w", key, err)
	}
	rid, err := rowbatch.ParseUUID(parts[1])
	if err != nil {
		return rowbatch.RowKey{}, fmt.Errorf("%q is not a row object key: %w", key, err)
	}
	return rowbatch.RowKey{Table: tid, Row: rid}, nil
}

func (s *Store) nextSeq(n int) int64 {
	for {
		last := s.lastSeq.Load()
		start := max(time.Now().UnixNano(), last+1)
		if s.lastSeq.CompareAndSwap(last, start+int64(n)-1) {
			return start
		}
	}
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func isPreconditionFailed(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

// CreateTable adds a table, or returns the existing one of that name. Table ids derive from the
// name so that every client agrees on them without coordination.
func (s *Store) CreateTable(ctx context.Context, name string) (rowbatch.TableInfo, error) {
	if name == "" || strings.Contains(name, "/") {
		return rowbatch.TableInfo{}, fmt.Errorf("invalid table name %q", name)
	}
	info := rowbatch.TableInfo{Name: name, ID: rowbatch.NameUUID(name)}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(tableKey(name)),
		Body:   strings.NewReader(info.ID.String()),
	})
	if err != nil {
		return rowbatch.TableInfo{}, err
	}
	return info, nil
}

// Tables lists the tables sorted by name.
func (s *Store) Tables(ctx context.Context) ([]rowbatch.TableInfo, error) {
	keys, err := s.list(ctx, tablesPrefix)
	if err != nil {
		return nil, err
	}
	infos := make([]rowbatch.TableInfo, len(keys))
	for i, k := range keys {
		name := strings.TrimPrefix(k, tablesPrefix)
		infos[i] = rowbatch.TableInfo{Name: name, ID: rowbatch.NameUUID(name)}
	}
	return infos, nil
}

// list returns the keys under prefix in lexical order.
func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, o := range page.Contents {
			keys = append(keys, aws.ToString(o.Key))
		}
	}
	return keys, nil
}

// Table returns a handle for the table.
func (s *Store) Table(info rowbatch.TableInfo) rowbatch.Table {
	return &table{store: s, info: info}
}

// fetch reads a row object. A missing object is a RowNotFound error.
func (s *Store) fetch(ctx context.Context, k rowbatch.RowKey) (rowObject, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(k)),
	})
	if isNotFound(err) {
		return rowObject{}, rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", k), k)
	}
	if err != nil {
		return rowObject{}, err
	}
	defer result.Body.Close()
	body, err := io.ReadAll(result.Body)
	if err != nil {
		return rowObject{}, err
	}
	var o rowObject
	if err := encoding.DefaultMarshaler.Unmarshal(body, &o); err != nil {
		return rowObject{}, fmt.Errorf("row %v: %w", k, err)
	}
	return o, nil
}

// put writes a row object, through the multipart uploader when it is large.
func (s *Store) put(ctx context.Context, k rowbatch.RowKey, o rowObject) error {
	ba, err := encoding.DefaultMarshaler.Marshal(o)
	if err != nil {
		return err
	}
	if len(ba) > largeObjectMinSize {
		uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
			u.PartSize = largeObjectMinSize
		})
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey(k)),
			Body:   bytes.NewReader(ba),
		})
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(k)),
		Body:   bytes.NewReader(ba),
	})
	return err
}

func (s *Store) decode(o rowObject) (rowbatch.Columns, error) {
	if len(o.Columns) == 0 {
		return rowbatch.Columns{}, nil
	}
	return encoding.UnmarshalColumns(o.Columns, s.resolver())
}

func (s *Store) resolver() encoding.Resolver {
	return func(k rowbatch.RowKey) rowbatch.Row {
		return &row{store: s, key: k}
	}
}

// BatchUpdate reads every row, then writes the merged rows back. No row is written when one of
// them is missing.
func (s *Store) BatchUpdate(ctx context.Context, updates []rowbatch.RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for _, u := range updates {
		if u.Row.Key().IsNil() {
			return fmt.Errorf("can't update a row that is not persisted")
		}
	}
	objects := make([]rowObject, len(updates))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, u := range updates {
		eg.Go(func() error {
			o, err := s.fetch(ectx, u.Row.Key())
			objects[i] = o
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// Several updates of one row merge in order into a single write.
	merged := map[rowbatch.RowKey]rowbatch.Columns{}
	seqs := map[rowbatch.RowKey]int64{}
	for i, u := range updates {
		k := u.Row.Key()
		cols, ok := merged[k]
		if !ok {
			var err error
			if cols, err = s.decode(objects[i]); err != nil {
				return err
			}
			merged[k] = cols
			seqs[k] = objects[i].Seq
		}
		cols.Merge(u.Columns)
	}
	eg, ectx = errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for k, cols := range merged {
		eg.Go(func() error {
			ba, err := encoding.MarshalColumns(cols)
			if err != nil {
				return err
			}
			return s.put(ectx, k, rowObject{Seq: seqs[k], Columns: ba})
		})
	}
	return eg.Wait()
}

// BatchDelete deletes the rows with DeleteObjects, a thousand keys per call.
func (s *Store) BatchDelete(ctx context.Context, rows []rowbatch.Row) error {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = objectKey(r.Key())
	}
	return s.deleteObjects(ctx, keys)
}

func (s *Store) deleteObjects(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), maxDeleteKeys)
		ids := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(output.Errors) > 0 {
			e := output.Errors[0]
			return fmt.Errorf("failed to delete %d object(s), first %s: %s", len(output.Errors), aws.ToString(e.Key), aws.ToString(e.Message))
		}
		keys = keys[n:]
	}
	return nil
}

// storedRow is a row object with its key.
type storedRow struct {
	key rowbatch.RowKey
	rowObject
}

func compareStored(a, b storedRow) int {
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return a.key.Row.Compare(b.key.Row)
}
