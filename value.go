package rowbatch

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Kind enumerates the closed set of column value variants.
type Kind int

const (
	// ScalarKind is any non-row value, nil included.
	ScalarKind Kind = iota
	// RowKind is a reference to a single row.
	RowKind
	// RowListKind is an ordered list of row references.
	RowListKind
)

// Value is a column value: a scalar, a row reference or a list of row references.
// The zero Value is the nil scalar.
type Value struct {
	kind   Kind
	scalar any
	rows   []Row
}

// Scalar returns a scalar Value. Passing a Row or a Value is a programming error; use ValueOf
// when the dynamic type is not known.
func Scalar(v any) Value {
	return Value{kind: ScalarKind, scalar: v}
}

// RowValue returns a Value referencing r. A nil r yields the nil scalar.
func RowValue(r Row) Value {
	if r == nil {
		return Value{}
	}
	return Value{kind: RowKind, rows: []Row{r}}
}

// RowListValue returns a Value referencing rows, in order.
func RowListValue(rows []Row) Value {
	return Value{kind: RowListKind, rows: slices.Clone(rows)}
}

// ValueOf converts a Go value into a Value: Value passes through, Row becomes a row reference,
// []Row (or any slice whose elements are all rows) becomes a row list, anything else is a scalar.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case Row:
		return RowValue(t)
	case []Row:
		return RowListValue(t)
	case nil:
		return Value{}
	}
	if rows, ok := rowSlice(v); ok {
		return Value{kind: RowListKind, rows: rows}
	}
	return Scalar(v)
}

// rowSlice handles typed slices of Row implementations, e.g. []*autobatch.Row.
func rowSlice(v any) ([]Row, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || !rv.Type().Elem().Implements(rowType) {
		return nil, false
	}
	rows := make([]Row, rv.Len())
	for i := range rows {
		rows[i] = rv.Index(i).Interface().(Row)
	}
	return rows, true
}

var rowType = reflect.TypeOf((*Row)(nil)).Elem()

// Kind returns the variant of v.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is the nil scalar.
func (v Value) IsNull() bool {
	return v.kind == ScalarKind && v.scalar == nil
}

// Interface returns the scalar, the Row or the []Row held by v.
func (v Value) Interface() any {
	switch v.kind {
	case RowKind:
		return v.rows[0]
	case RowListKind:
		return slices.Clone(v.rows)
	}
	return v.scalar
}

// Row returns the referenced row, nil when v is not a row reference.
func (v Value) Row() Row {
	if v.kind != RowKind {
		return nil
	}
	return v.rows[0]
}

// Rows returns the referenced rows, nil when v is not a row list.
func (v Value) Rows() []Row {
	if v.kind != RowListKind {
		return nil
	}
	return slices.Clone(v.rows)
}

// String returns the scalar as a string when it is one.
func (v Value) String() string {
	switch v.kind {
	case RowKind:
		return fmt.Sprintf("<row %v>", v.rows[0].Key())
	case RowListKind:
		parts := make([]string, len(v.rows))
		for i, r := range v.rows {
			parts[i] = r.Key().String()
		}
		return "<rows [" + strings.Join(parts, " ") + "]>"
	}
	if s, ok := v.scalar.(string); ok {
		return s
	}
	return fmt.Sprint(v.scalar)
}

// MapRows returns a copy of v where every referenced row was replaced by fn(row). Scalars pass
// through untouched. This is the single normalization pass applied at store boundaries.
func (v Value) MapRows(fn func(Row) (Row, error)) (Value, error) {
	if v.kind == ScalarKind {
		return v, nil
	}
	mapped := make([]Row, len(v.rows))
	for i, r := range v.rows {
		m, err := fn(r)
		if err != nil {
			return Value{}, err
		}
		mapped[i] = m
	}
	return Value{kind: v.kind, rows: mapped}, nil
}

// HasRow reports whether any referenced row satisfies pred.
func (v Value) HasRow(pred func(Row) bool) bool {
	return slices.ContainsFunc(v.rows, pred)
}

// Columns maps column names to values.
type Columns map[string]Value

// ColumnsOf converts a plain map into Columns using ValueOf on every entry.
func ColumnsOf(m map[string]any) Columns {
	cols := make(Columns, len(m))
	for k, v := range m {
		cols[k] = ValueOf(v)
	}
	return cols
}

// Clone returns a shallow copy of c.
func (c Columns) Clone() Columns {
	if c == nil {
		return Columns{}
	}
	return maps.Clone(c)
}

// Merge copies every entry of other into c, last write wins per column.
func (c Columns) Merge(other Columns) {
	maps.Copy(c, other)
}

// Names returns the column names sorted.
func (c Columns) Names() []string {
	return slices.Sorted(maps.Keys(c))
}

// MapRows applies Value.MapRows to every column.
func (c Columns) MapRows(fn func(Row) (Row, error)) (Columns, error) {
	out := make(Columns, len(c))
	for k, v := range c {
		m, err := v.MapRows(fn)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		out[k] = m
	}
	return out, nil
}
