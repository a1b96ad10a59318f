package aws_s3

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
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

// match reads every row object of the table, orders them by insertion and filters them.
func (t *table) match(ctx context.Context, queries []rowbatch.Query) ([]rowbatch.RowKey, error) {
	s := t.store
	names, err := s.list(ctx, tableRowsPrefix(t.info.ID))
	if err != nil {
		return nil, err
	}
	stored := make([]storedRow, len(names))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, name := range names {
		eg.Go(func() error {
			k, err := parseObjectKey(name)
			if err != nil {
				return err
			}
			o, err := s.fetch(ectx, k)
			if err != nil {
				return err
			}
			stored[i] = storedRow{key: k, rowObject: o}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(stored, compareStored)

	keys := make([]rowbatch.RowKey, 0, len(stored))
	for _, r := range stored {
		if len(queries) > 0 {
			cols, err := s.decode(r.rowObject)
			if err != nil {
				return nil, err
			}
			ok, err := query.Match(cols, queries...)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		keys = append(keys, r.key)
	}
	return keys, nil
}

func (t *table) GetByID(ctx context.Context, id rowbatch.UUID) (rowbatch.Row, error) {
	s := t.store
	k := t.key(id)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(k)),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row{store: s, key: k}, nil
}

func (t *table) AddRow(ctx context.Context, columns rowbatch.Columns) (rowbatch.Row, error) {
	rows, err := t.AddRows(ctx, []rowbatch.Columns{columns})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// AddRows writes one object per row, concurrently.
func (t *table) AddRows(ctx context.Context, rows []rowbatch.Columns) ([]rowbatch.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s := t.store
	seq := s.nextSeq(len(rows))
	added := make([]rowbatch.Row, len(rows))
	objects := make([]rowObject, len(rows))
	for i, cols := range rows {
		ba, err := encoding.MarshalColumns(cols)
		if err != nil {
			return nil, err
		}
		objects[i] = rowObject{Seq: seq + int64(i), Columns: ba}
		added[i] = &row{store: s, key: t.key(rowbatch.NewUUID())}
	}
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, r := range added {
		eg.Go(func() error {
			return s.put(ectx, r.Key(), objects[i])
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return added, nil
}

func (t *table) DeleteAllRows(ctx context.Context) error {
	s := t.store
	keys, err := s.list(ctx, tableRowsPrefix(t.info.ID))
	if err != nil {
		return err
	}
	return s.deleteObjects(ctx, keys)
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
