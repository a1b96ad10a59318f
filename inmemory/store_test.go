package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/query"
)

var ctx = context.Background()

func newTable(t *testing.T, s *Store, name string) rowbatch.Table {
	t.Helper()
	return s.Table(s.CreateTable(name))
}

func TestTableBasics(t *testing.T) {
	s := NewStore()
	tbl := newTable(t, s, "T")
	if again := s.CreateTable("T"); again != tbl.Info() {
		t.Error("CreateTable of an existing name made a new table")
	}
	rows, err := tbl.AddRows(ctx, []rowbatch.Columns{
		rowbatch.ColumnsOf(map[string]any{"text": "a"}),
		rowbatch.ColumnsOf(map[string]any{"text": "b"}),
	})
	if err != nil || len(rows) != 2 {
		t.Fatalf("AddRows got %v, %v", rows, err)
	}
	r, err := tbl.Get(ctx, query.Eq("text", "b"))
	if err != nil || r.Key() != rows[1].Key() {
		t.Errorf("Get got %v, %v", r, err)
	}
	sr, err := tbl.Search(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := sr.Len(ctx); n != 2 {
		t.Errorf("got %d rows, want 2", n)
	}
	if _, err := sr.At(ctx, 2); err == nil {
		t.Error("At out of range succeeded")
	}
	if err := rows[0].Update(ctx, rowbatch.ColumnsOf(map[string]any{"next": rows[1]})); err != nil {
		t.Fatal(err)
	}
	v, err := rows[0].Get(ctx, "next")
	if err != nil || v.Row().Key() != rows[1].Key() {
		t.Errorf("reference got %v, %v", v, err)
	}
	if err := rows[1].Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := rows[1].Get(ctx, "text"); !errors.Is(err, rowbatch.ErrRowNotFound) {
		t.Errorf("got %v, want ErrRowNotFound", err)
	}
	if got, _ := tbl.GetByID(ctx, rows[1].Key().Row); got != nil {
		t.Error("deleted row still found by id")
	}
	if err := tbl.DeleteAllRows(ctx); err != nil || s.RowCount(tbl.Info().ID) != 0 {
		t.Errorf("DeleteAllRows got %v, %d rows left", err, s.RowCount(tbl.Info().ID))
	}
}

// Bulk calls apply everything or nothing.
func TestBulkAtomicity(t *testing.T) {
	s := NewStore()
	tbl := newTable(t, s, "T")
	rows, _ := tbl.AddRows(ctx, []rowbatch.Columns{{}, {}})
	gone, _ := tbl.AddRow(ctx, rowbatch.Columns{})
	gone.Delete(ctx)

	err := s.BatchUpdate(ctx, []rowbatch.RowUpdate{
		{Row: rows[0], Columns: rowbatch.ColumnsOf(map[string]any{"n": 1})},
		{Row: gone, Columns: rowbatch.ColumnsOf(map[string]any{"n": 1})},
	})
	if !errors.Is(err, rowbatch.ErrRowNotFound) {
		t.Errorf("got %v, want ErrRowNotFound", err)
	}
	if v, _ := rows[0].Get(ctx, "n"); !v.IsNull() {
		t.Error("failed bulk update was partially applied")
	}
	if err := s.BatchDelete(ctx, []rowbatch.Row{rows[0], gone}); err == nil {
		t.Error("bulk delete of a missing row succeeded")
	}
	if s.RowCount(tbl.Info().ID) != 2 {
		t.Error("failed bulk delete was partially applied")
	}
	if err := s.BatchDelete(ctx, rows); err != nil || s.RowCount(tbl.Info().ID) != 0 {
		t.Errorf("BatchDelete got %v", err)
	}
}

func TestTransactions(t *testing.T) {
	s := NewStore()
	tbl := newTable(t, s, "T")

	tx, err := s.Begin(ctx, rowbatch.DefaultTransactionOptions())
	if err != nil {
		t.Fatal(err)
	}
	tbl.AddRow(ctx, rowbatch.Columns{})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if s.RowCount(tbl.Info().ID) != 0 {
		t.Error("rollback kept the row")
	}

	s.InjectConflicts(1)
	tx, _ = s.Begin(ctx, rowbatch.DefaultTransactionOptions())
	tbl.AddRow(ctx, rowbatch.Columns{})
	if err := tx.Commit(ctx); !errors.Is(err, rowbatch.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
	if s.RowCount(tbl.Info().ID) != 0 {
		t.Error("conflicting commit kept the row")
	}

	tx, _ = s.Begin(ctx, rowbatch.DefaultTransactionOptions())
	tbl.AddRow(ctx, rowbatch.Columns{})
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if s.RowCount(tbl.Info().ID) != 1 {
		t.Error("commit lost the row")
	}
}

// A second transaction waits for the first one, or for its context.
func TestBeginWaits(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx, rowbatch.TransactionOptions{})
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Begin(canceled, rowbatch.TransactionOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	tx.Commit(ctx)
	tx2, err := s.Begin(ctx, rowbatch.TransactionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tx2.Rollback(ctx)
}

func TestInjectError(t *testing.T) {
	s := NewStore()
	tbl := newTable(t, s, "T")
	boom := errors.New("boom")
	s.InjectError(OpSearch, boom)
	if _, err := tbl.Search(ctx); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if _, err := tbl.Search(ctx); err != nil {
		t.Errorf("injected error was not one-shot, got %v", err)
	}
}

func TestUnknownTable(t *testing.T) {
	s := NewStore()
	tbl := s.Table(rowbatch.TableInfo{Name: "ghost", ID: rowbatch.NewUUID()})
	if _, err := tbl.Search(ctx); !errors.Is(err, rowbatch.ErrUnknownTable) {
		t.Errorf("got %v, want ErrUnknownTable", err)
	}
}
