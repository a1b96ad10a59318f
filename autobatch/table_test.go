package autobatch

import (
	"errors"
	"testing"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/query"
)

// Every path to a row yields the same instance within a window.
func TestIdentityAcrossLookups(t *testing.T) {
	f := newFixture(t, "T")
	f.seed(t, "T", map[string]any{"text": "a"}, map[string]any{"text": "b"})
	tbl := f.table(t, "T")
	b := f.tables.Batcher()
	b.Enter()
	a, err := tbl.Get(ctx, query.Eq("text", "a"))
	if err != nil || a == nil {
		t.Fatalf("Get failed, row: %v, details: %v", a, err)
	}
	id, err := a.ID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byID, err := tbl.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	sr, err := tbl.Search(ctx, query.AnyOf(query.Eq("text", "a"), query.Eq("text", "z")))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := sr.Rows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if a != byID || a != rows[0] {
		t.Error("lookups of the same row returned different instances")
	}
	if !a.Equal(byID) {
		t.Error("a != b")
	}
	mustExit(t, b)

	outside, _ := tbl.Get(ctx, query.Eq("text", "a"))
	if outside == a {
		t.Error("identity cache survived the window")
	}
}

func TestGetNoneAndMany(t *testing.T) {
	f := newFixture(t, "T")
	f.seed(t, "T", map[string]any{"text": "a"}, map[string]any{"text": "a"})
	tbl := f.table(t, "T")
	r, err := tbl.Get(ctx, query.Eq("text", "none"))
	if err != nil || r != nil {
		t.Errorf("got %v, %v, want nil, nil", r, err)
	}
	if _, err := tbl.Get(ctx, query.Eq("text", "a")); !errors.Is(err, rowbatch.ErrMultipleRows) {
		t.Errorf("got %v, want ErrMultipleRows", err)
	}
	missing, err := tbl.GetByID(ctx, rowbatch.NewUUID())
	if err != nil || missing != nil {
		t.Errorf("got %v, %v, want nil, nil", missing, err)
	}
}

// Rows used as criteria are unwrapped before they reach the store.
func TestQueriesWithRows(t *testing.T) {
	f := newFixture(t, "authors", "books")
	ann := f.seed(t, "authors", map[string]any{"name": "ann"})[0]
	bob := f.seed(t, "authors", map[string]any{"name": "bob"})[0]
	f.seed(t, "books",
		map[string]any{"title": "one", "author": ann},
		map[string]any{"title": "two", "author": bob},
		map[string]any{"title": "three", "author": ann})
	books := f.table(t, "books")
	b := f.tables.Batcher()
	b.Enter()
	defer mustExit(t, b)

	tests := []struct {
		name  string
		query rowbatch.Query
		want  []string
	}{
		{"eq", query.Eq("author", ann), []string{"one", "three"}},
		{"any of", query.AnyOf(query.Eq("author", bob), query.Eq("title", "one")), []string{"one", "two"}},
		{"none of", query.NoneOf(query.Eq("author", ann)), []string{"two"}},
		{"not", query.Not(query.Eq("author", bob)), []string{"one", "three"}},
		{"columns", query.Columns(map[string]any{"author": ann, "title": "three"}), []string{"three"}},
		{"expr", query.Expr(`row.title.startsWith("t")`), []string{"two", "three"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, err := books.Search(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for r, err := range sr.All(ctx) {
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, mustGet(t, r, "title").(string))
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// A pending row used as a criterion is persisted by the read's flush.
func TestQueryWithPendingRow(t *testing.T) {
	f := newFixture(t, "authors", "books")
	authors, books := f.table(t, "authors"), f.table(t, "books")
	b := f.tables.Batcher()
	b.Enter()
	a, _ := authors.Add(ctx, cols(map[string]any{"name": "ann"}))
	books.Add(ctx, cols(map[string]any{"title": "one", "author": a}))
	r, err := books.Get(ctx, query.Eq("author", a))
	if err != nil || r == nil {
		t.Fatalf("Get failed, row: %v, details: %v", r, err)
	}
	if got := mustGet(t, r, "title"); got != "one" {
		t.Errorf("got %v, want one", got)
	}
	mustExit(t, b)
}

func TestAddRowsOutsideWindow(t *testing.T) {
	f := newFixture(t, "T")
	tbl := f.table(t, "T")
	rows, err := tbl.AddRows(ctx, []rowbatch.Columns{
		cols(map[string]any{"n": 1}),
		cols(map[string]any{"n": 2}),
		cols(map[string]any{"n": 3}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.counter.AddRows.Total() != 1 || len(rows) != 3 {
		t.Fatalf("got %d calls and %d rows, want 1 and 3", f.counter.AddRows.Total(), len(rows))
	}
	if got := mustGet(t, rows[2], "n"); got != 3 {
		t.Errorf("got %v, want 3", got)
	}
}

// Rows added in one window keep their order once persisted.
func TestAddRowsOrder(t *testing.T) {
	f := newFixture(t, "T")
	tbl := f.table(t, "T")
	b := f.tables.Batcher()
	b.Enter()
	var payload []rowbatch.Columns
	for i := range 5 {
		payload = append(payload, cols(map[string]any{"n": i}))
	}
	added, err := tbl.AddRows(ctx, payload)
	if err != nil {
		t.Fatal(err)
	}
	mustExit(t, b)
	sr, _ := tbl.Search(ctx)
	rows, err := sr.Rows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		if !r.Equal(added[i]) || mustGet(t, r, "n") != i {
			t.Errorf("row %d out of order", i)
		}
	}
}

func TestDeleteAllRowsPassesThrough(t *testing.T) {
	f := newFixture(t, "T")
	f.seed(t, "T", map[string]any{"n": 1}, map[string]any{"n": 2})
	tbl := f.table(t, "T")
	b := f.tables.Batcher()
	b.Enter()
	if err := tbl.DeleteAllRows(ctx); err != nil {
		t.Fatal(err)
	}
	if f.counter.DeleteAllRows.Total() != 1 || f.store.RowCount(tbl.Info().ID) != 0 {
		t.Error("DeleteAllRows was not sent immediately")
	}
	mustExit(t, b)
}

func TestTables(t *testing.T) {
	f := newFixture(t, "b", "a")
	names := f.tables.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("got %v", names)
	}
	if _, err := f.tables.Table("nope"); !errors.Is(err, rowbatch.ErrUnknownTable) {
		t.Errorf("got %v, want ErrUnknownTable", err)
	}
	a := f.table(t, "a")
	if again := f.table(t, "a"); again != a {
		t.Error("table handles are not reused")
	}
	byID, err := f.tables.TableByID(ctx, a.Info().ID)
	if err != nil || byID != a {
		t.Errorf("TableByID got %v, %v", byID, err)
	}

	// Tables created after New are found through a refresh.
	info := f.store.CreateTable("c")
	c, err := f.tables.TableByID(ctx, info.ID)
	if err != nil || c.Name() != "c" {
		t.Errorf("TableByID after create got %v, %v", c, err)
	}
	if _, err := f.tables.TableByID(ctx, rowbatch.NewUUID()); !errors.Is(err, rowbatch.ErrUnknownTable) {
		t.Errorf("got %v, want ErrUnknownTable", err)
	}
}
