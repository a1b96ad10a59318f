package query

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/cel"
)

var predicates sync.Map

// Match reports whether a row with the given columns satisfies all the queries.
// A column missing from columns compares as the nil scalar.
func Match(columns rowbatch.Columns, queries ...rowbatch.Query) (bool, error) {
	for _, q := range queries {
		ok, err := match(q, columns)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(q rowbatch.Query, columns rowbatch.Columns) (bool, error) {
	switch q.Op {
	case rowbatch.OpEq:
		return Equal(columns[q.Column], q.Value), nil
	case rowbatch.OpAllOf:
		return Match(columns, q.Terms...)
	case rowbatch.OpAnyOf:
		for _, t := range q.Terms {
			ok, err := match(t, columns)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case rowbatch.OpNoneOf:
		for _, t := range q.Terms {
			ok, err := match(t, columns)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	case rowbatch.OpNot:
		if len(q.Terms) != 1 {
			return false, fmt.Errorf("not expects exactly one term, got %d", len(q.Terms))
		}
		ok, err := match(q.Terms[0], columns)
		return !ok, err
	case rowbatch.OpExpr:
		p, err := predicate(q.Expression)
		if err != nil {
			return false, err
		}
		return p.Evaluate(Native(columns))
	}
	return false, fmt.Errorf("unsupported query op %d", q.Op)
}

func predicate(expression string) (*cel.Predicate, error) {
	if p, ok := predicates.Load(expression); ok {
		return p.(*cel.Predicate), nil
	}
	p, err := cel.NewPredicate(expression)
	if err != nil {
		return nil, err
	}
	predicates.Store(expression, p)
	return p, nil
}

// Native converts columns into plain Go values for expression evaluation. Row references become
// their row identifier string, row lists a []any of those.
func Native(columns rowbatch.Columns) map[string]any {
	m := make(map[string]any, len(columns))
	for k, v := range columns {
		switch v.Kind() {
		case rowbatch.RowKind:
			m[k] = v.Row().Key().Row.String()
		case rowbatch.RowListKind:
			rows := v.Rows()
			ids := make([]any, len(rows))
			for i, r := range rows {
				ids[i] = r.Key().Row.String()
			}
			m[k] = ids
		default:
			m[k] = v.Interface()
		}
	}
	return m
}

// Equal compares two values. Rows compare by key, numbers by numeric value regardless of their
// Go type, other scalars by deep equality.
func Equal(a, b rowbatch.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case rowbatch.RowKind:
		return a.Row().Key() == b.Row().Key()
	case rowbatch.RowListKind:
		ar, br := a.Rows(), b.Rows()
		if len(ar) != len(br) {
			return false
		}
		for i := range ar {
			if ar[i].Key() != br[i].Key() {
				return false
			}
		}
		return true
	}
	x, y := a.Interface(), b.Interface()
	if fx, ok := number(x); ok {
		fy, ok := number(y)
		return ok && fx == fy
	}
	return reflect.DeepEqual(x, y)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
