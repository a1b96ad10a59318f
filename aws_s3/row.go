package aws_s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharedcode/rowbatch"
)

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
	cols, err := r.Columns(ctx)
	if err != nil {
		return rowbatch.Value{}, err
	}
	return cols[column], nil
}

func (r *row) Columns(ctx context.Context) (rowbatch.Columns, error) {
	o, err := r.store.fetch(ctx, r.key)
	if err != nil {
		return nil, err
	}
	return r.store.decode(o)
}

func (r *row) Update(ctx context.Context, columns rowbatch.Columns) error {
	return r.store.BatchUpdate(ctx, []rowbatch.RowUpdate{{Row: r, Columns: columns}})
}

// Delete removes the row's object. S3 deletes of missing keys succeed, so the row is checked first.
func (r *row) Delete(ctx context.Context) error {
	s := r.store
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(r.key)),
	})
	if isNotFound(err) {
		return rowbatch.NewError(rowbatch.RowNotFound, fmt.Errorf("row %v not found", r.key), r.key)
	}
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(r.key)),
	})
	return err
}
