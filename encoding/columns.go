package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sharedcode/rowbatch"
)

// Resolver turns a stored row reference back into a row handle of the decoding store.
type Resolver func(key rowbatch.RowKey) rowbatch.Row

type wireValue struct {
	Kind   rowbatch.Kind     `json:"k,omitempty"`
	Scalar any               `json:"s"`
	Rows   []rowbatch.RowKey `json:"r,omitempty"`
}

func toWire(v rowbatch.Value) (wireValue, error) {
	w := wireValue{Kind: v.Kind()}
	switch v.Kind() {
	case rowbatch.RowKind, rowbatch.RowListKind:
		rows := v.Rows()
		if v.Kind() == rowbatch.RowKind {
			rows = []rowbatch.Row{v.Row()}
		}
		w.Rows = make([]rowbatch.RowKey, len(rows))
		for i, r := range rows {
			k := r.Key()
			if k.IsNil() {
				return wireValue{}, fmt.Errorf("can't encode a reference to a row that is not persisted")
			}
			w.Rows[i] = k
		}
	default:
		w.Scalar = v.Interface()
	}
	return w, nil
}

func fromWire(w wireValue, resolve Resolver) (rowbatch.Value, error) {
	switch w.Kind {
	case rowbatch.RowKind:
		if len(w.Rows) != 1 {
			return rowbatch.Value{}, fmt.Errorf("row reference carries %d keys", len(w.Rows))
		}
		return rowbatch.RowValue(resolve(w.Rows[0])), nil
	case rowbatch.RowListKind:
		rows := make([]rowbatch.Row, len(w.Rows))
		for i, k := range w.Rows {
			rows[i] = resolve(k)
		}
		return rowbatch.RowListValue(rows), nil
	case rowbatch.ScalarKind:
		return rowbatch.Scalar(normalize(w.Scalar)), nil
	}
	return rowbatch.Value{}, fmt.Errorf("unknown value kind %d", w.Kind)
}

// MarshalValue encodes one column value. Row references are stored as their keys.
func MarshalValue(v rowbatch.Value) ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return DefaultMarshaler.Marshal(w)
}

// UnmarshalValue decodes one column value produced by MarshalValue.
func UnmarshalValue(data []byte, resolve Resolver) (rowbatch.Value, error) {
	var w wireValue
	if err := unmarshalNumbers(data, &w); err != nil {
		return rowbatch.Value{}, err
	}
	return fromWire(w, resolve)
}

// MarshalColumns encodes a whole row.
func MarshalColumns(columns rowbatch.Columns) ([]byte, error) {
	m := make(map[string]wireValue, len(columns))
	for k, v := range columns {
		w, err := toWire(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		m[k] = w
	}
	return DefaultMarshaler.Marshal(m)
}

// UnmarshalColumns decodes a row produced by MarshalColumns.
func UnmarshalColumns(data []byte, resolve Resolver) (rowbatch.Columns, error) {
	var m map[string]wireValue
	if err := unmarshalNumbers(data, &m); err != nil {
		return nil, err
	}
	cols := make(rowbatch.Columns, len(m))
	for k, w := range m {
		v, err := fromWire(w, resolve)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		cols[k] = v
	}
	return cols, nil
}

func unmarshalNumbers(data []byte, target any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	return d.Decode(target)
}

// normalize turns json.Number into int64 when integral, float64 otherwise, recursively.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}
		return t
	}
	return v
}
