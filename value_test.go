package rowbatch

import (
	"context"
	"errors"
	"testing"
)

// stubRow is a Row with a fixed key and no storage.
type stubRow struct {
	key RowKey
}

func (r *stubRow) Key() RowKey { return r.key }
func (r *stubRow) TableID() UUID { return r.key.Table }
func (r *stubRow) ID(ctx context.Context) (UUID, error) { return r.key.Row, nil }
func (r *stubRow) Get(ctx context.Context, c string) (Value, error) { return Value{}, nil }
func (r *stubRow) Columns(ctx context.Context) (Columns, error) { return Columns{}, nil }
func (r *stubRow) Update(ctx context.Context, c Columns) error { return nil }
func (r *stubRow) Delete(ctx context.Context) error { return nil }

func newStubRow() *stubRow {
	return &stubRow{key: RowKey{Table: NameUUID("t"), Row: NewUUID()}}
}

func TestValueOf(t *testing.T) {
	r1, r2 := newStubRow(), newStubRow()
	tests := []struct {
		name  string
		in    any
		kind  Kind
		null  bool
		nrows int
	}{
		{"nil", nil, ScalarKind, true, 0},
		{"string", "x", ScalarKind, false, 0},
		{"int", 5, ScalarKind, false, 0},
		{"row", r1, RowKind, false, 1},
		{"row interface slice", []Row{r1, r2}, RowListKind, false, 2},
		{"typed row slice", []*stubRow{r1, r2}, RowListKind, false, 2},
		{"empty typed row slice", []*stubRow{}, RowListKind, false, 0},
		{"other slice", []int{1, 2}, ScalarKind, false, 0},
		{"value", Scalar("v"), ScalarKind, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValueOf(tt.in)
			if v.Kind() != tt.kind {
				t.Errorf("got kind %v, want %v", v.Kind(), tt.kind)
			}
			if v.IsNull() != tt.null {
				t.Errorf("got IsNull %v, want %v", v.IsNull(), tt.null)
			}
			if len(v.Rows()) != tt.nrows && tt.kind == RowListKind {
				t.Errorf("got %d rows, want %d", len(v.Rows()), tt.nrows)
			}
		})
	}
	if ValueOf(r1).Row() != r1 {
		t.Error("row reference lost its row")
	}
	if RowValue(nil).Kind() != ScalarKind {
		t.Error("nil row must be the nil scalar")
	}
}

func TestValueRowsIsACopy(t *testing.T) {
	r1, r2 := newStubRow(), newStubRow()
	src := []Row{r1}
	v := RowListValue(src)
	src[0] = r2
	got := v.Rows()
	got[0] = r2
	if v.Rows()[0] != r1 {
		t.Error("row list shares its backing array")
	}
}

func TestMapRows(t *testing.T) {
	r1, r2 := newStubRow(), newStubRow()
	swap := func(r Row) (Row, error) {
		if r == r1 {
			return r2, nil
		}
		return r, nil
	}
	cols := Columns{
		"s":    Scalar(1),
		"r":    RowValue(r1),
		"list": RowListValue([]Row{r2, r1}),
	}
	mapped, err := cols.MapRows(swap)
	if err != nil {
		t.Fatal(err)
	}
	if mapped["r"].Row() != r2 || mapped["list"].Rows()[1] != r2 || mapped["s"].Interface() != 1 {
		t.Errorf("got %v", mapped)
	}
	if cols["r"].Row() != r1 {
		t.Error("MapRows changed its receiver")
	}

	boom := errors.New("boom")
	_, err = cols.MapRows(func(Row) (Row, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestColumnsMerge(t *testing.T) {
	c := ColumnsOf(map[string]any{"a": 1, "b": 2})
	c.Merge(ColumnsOf(map[string]any{"b": 3, "c": 4}))
	names := c.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("got %v", names)
	}
	if c["b"].Interface() != 3 {
		t.Errorf("got %v, want 3", c["b"])
	}
	clone := c.Clone()
	clone["a"] = Scalar(9)
	if c["a"].Interface() != 1 {
		t.Error("Clone shares its map")
	}
	var nilCols Columns
	if nilCols.Clone() == nil {
		t.Error("Clone of nil must be usable")
	}
}

func TestQueryMapRows(t *testing.T) {
	r1, r2 := newStubRow(), newStubRow()
	q := Query{Op: OpAnyOf, Terms: []Query{
		{Op: OpEq, Column: "a", Value: RowValue(r1)},
		{Op: OpNot, Terms: []Query{{Op: OpEq, Column: "b", Value: RowValue(r1)}}},
	}}
	mapped, err := MapQueries([]Query{q}, func(Row) (Row, error) { return r2, nil })
	if err != nil {
		t.Fatal(err)
	}
	if mapped[0].Terms[0].Value.Row() != r2 || mapped[0].Terms[1].Terms[0].Value.Row() != r2 {
		t.Error("nested values were not mapped")
	}
	if q.Terms[0].Value.Row() != r1 {
		t.Error("MapRows changed the original query")
	}
}
