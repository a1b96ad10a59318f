package encoding

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sharedcode/rowbatch"
)

type keyRow struct {
	rowbatch.Row
	key rowbatch.RowKey
}

func (r keyRow) Key() rowbatch.RowKey { return r.key }

func resolve(k rowbatch.RowKey) rowbatch.Row {
	return keyRow{key: k}
}

func TestColumnsRoundTrip(t *testing.T) {
	a := keyRow{key: rowbatch.RowKey{Table: rowbatch.NewUUID(), Row: rowbatch.NewUUID()}}
	b := keyRow{key: rowbatch.RowKey{Table: a.key.Table, Row: rowbatch.NewUUID()}}
	cols := rowbatch.Columns{
		"text":  rowbatch.Scalar("5"),
		"int":   rowbatch.Scalar(42),
		"big":   rowbatch.Scalar(int64(1) << 60),
		"float": rowbatch.Scalar(2.5),
		"null":  rowbatch.Scalar(nil),
		"bool":  rowbatch.Scalar(true),
		"map":   rowbatch.Scalar(map[string]any{"n": 1}),
		"ref":   rowbatch.RowValue(a),
		"refs":  rowbatch.RowListValue([]rowbatch.Row{b, a}),
		"none":  rowbatch.RowListValue(nil),
	}
	ba, err := MarshalColumns(cols)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalColumns(ba, resolve)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(cols) {
		t.Fatalf("got %v, want %v", back.Names(), cols.Names())
	}
	scalars := map[string]any{
		"text":  "5",
		"int":   int64(42),
		"big":   int64(1) << 60,
		"float": 2.5,
		"null":  nil,
		"bool":  true,
		"map":   map[string]any{"n": int64(1)},
	}
	for k, want := range scalars {
		if got := back[k].Interface(); !reflect.DeepEqual(got, want) {
			t.Errorf("column %s: got %#v, want %#v", k, got, want)
		}
	}
	if back["ref"].Kind() != rowbatch.RowKind || back["ref"].Row().Key() != a.key {
		t.Errorf("ref: got %v", back["ref"])
	}
	refs := back["refs"].Rows()
	if back["refs"].Kind() != rowbatch.RowListKind || len(refs) != 2 || refs[0].Key() != b.key || refs[1].Key() != a.key {
		t.Errorf("refs: got %v", back["refs"])
	}
	if back["none"].Kind() != rowbatch.RowListKind || len(back["none"].Rows()) != 0 {
		t.Errorf("empty row list: got %v", back["none"])
	}
}

func TestValueRoundTrip(t *testing.T) {
	for _, v := range []rowbatch.Value{
		rowbatch.Scalar("x"),
		rowbatch.Scalar(nil),
		rowbatch.Scalar(int64(-7)),
	} {
		ba, err := MarshalValue(v)
		if err != nil {
			t.Fatal(err)
		}
		back, err := UnmarshalValue(ba, resolve)
		if err != nil {
			t.Fatal(err)
		}
		if back.Interface() != v.Interface() {
			t.Errorf("got %v, want %v", back, v)
		}
	}
}

func TestMarshalPendingReference(t *testing.T) {
	pending := keyRow{}
	_, err := MarshalColumns(rowbatch.Columns{"ref": rowbatch.RowValue(pending)})
	if err == nil || !strings.Contains(err.Error(), `"ref"`) {
		t.Errorf("got %v, want an error naming the column", err)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	for _, data := range []string{
		`{`,
		`{"k":7}`,
		`{"k":1,"r":[]}`,
	} {
		if _, err := UnmarshalValue([]byte(data), resolve); err == nil {
			t.Errorf("%s: expected an error", data)
		}
	}
}
