//go:build integration
// +build integration

package aws_s3

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/autobatch"
	"github.com/sharedcode/rowbatch/count"
	"github.com/sharedcode/rowbatch/query"
)

// Set S3_ENDPOINT (and S3_USERNAME, S3_PASSWORD, S3_BUCKET) to run these against minio or S3.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_ENDPOINT not set")
	}
	config := DefaultConfig()
	config.HostEndpointUrl = endpoint
	config.Username = os.Getenv("S3_USERNAME")
	config.Password = os.Getenv("S3_PASSWORD")
	if b := os.Getenv("S3_BUCKET"); b != "" {
		config.Bucket = b
	}
	s, err := NewStore(nil, config)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newIntegrationTable(t *testing.T, s *Store, name string) rowbatch.Table {
	t.Helper()
	ctx := context.Background()
	info, err := s.CreateTable(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	tbl := s.Table(info)
	if err := tbl.DeleteAllRows(ctx); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestRowsIntegration(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)
	tbl := newIntegrationTable(t, s, "it_rows")

	rows, err := tbl.AddRows(ctx, []rowbatch.Columns{
		rowbatch.ColumnsOf(map[string]any{"n": 1}),
		rowbatch.ColumnsOf(map[string]any{"n": 2}),
		rowbatch.ColumnsOf(map[string]any{"n": 3}),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.BatchUpdate(ctx, []rowbatch.RowUpdate{
		{Row: rows[0], Columns: rowbatch.Columns{"next": rowbatch.RowValue(rows[1])}},
		{Row: rows[0], Columns: rowbatch.ColumnsOf(map[string]any{"m": "x"})},
	})
	if err != nil {
		t.Fatal(err)
	}
	cols, err := rows[0].Columns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cols["n"].Interface() != int64(1) || cols["m"].Interface() != "x" || cols["next"].Row().Key() != rows[1].Key() {
		t.Errorf("got %v", cols)
	}

	sr, err := tbl.Search(ctx, query.Expr("row.n >= 2"))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := sr.Len(ctx); n != 2 {
		t.Errorf("got %d rows, want 2", n)
	}

	if err := s.BatchDelete(ctx, []rowbatch.Row{rows[2]}); err != nil {
		t.Fatal(err)
	}
	err = s.BatchUpdate(ctx, []rowbatch.RowUpdate{{Row: rows[2], Columns: rowbatch.ColumnsOf(map[string]any{"n": 30})}})
	if !errors.Is(err, rowbatch.ErrRowNotFound) {
		t.Errorf("got %v, want ErrRowNotFound", err)
	}
	if err := rows[2].Delete(ctx); !errors.Is(err, rowbatch.ErrRowNotFound) {
		t.Errorf("got %v, want ErrRowNotFound", err)
	}
	if r, _ := tbl.GetByID(ctx, rows[2].Key().Row); r != nil {
		t.Error("deleted row found by id")
	}
}

func TestTransactionIntegration(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)
	tx, err := s.Begin(ctx, rowbatch.TransactionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin(ctx, rowbatch.TransactionOptions{}); !errors.Is(err, rowbatch.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestAutoBatchIntegration(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)
	newIntegrationTable(t, s, "it_parents")
	newIntegrationTable(t, s, "it_children")
	counted, c := count.FilterStore(s)
	tables, err := autobatch.New(ctx, counted, autobatch.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	parents, _ := tables.Table("it_parents")
	children, _ := tables.Table("it_children")
	c.Reset()

	err = tables.Batch(ctx, func(ctx context.Context) error {
		p, err := parents.Add(ctx, rowbatch.ColumnsOf(map[string]any{"name": "p"}))
		if err != nil {
			return err
		}
		for i := range 5 {
			if _, err := children.Add(ctx, rowbatch.ColumnsOf(map[string]any{"n": i, "parent": p})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.AddRows.Total() != 2 || c.BatchUpdate.Total() != 1 {
		t.Errorf("got adds %v, updates %v", c.AddRows.String(), c.BatchUpdate.String())
	}
}
