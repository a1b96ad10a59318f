package rowbatch

import "fmt"

// QueryOp enumerates query node kinds.
type QueryOp int

const (
	// OpEq matches rows whose Column equals Value.
	OpEq QueryOp = iota
	// OpAllOf matches rows matching every term.
	OpAllOf
	// OpAnyOf matches rows matching at least one term.
	OpAnyOf
	// OpNoneOf matches rows matching no term.
	OpNoneOf
	// OpNot negates its single term.
	OpNot
	// OpExpr matches rows for which the CEL Expression evaluates to true.
	OpExpr
)

// Query is a search criterion tree. Build it with the constructors of the query package.
type Query struct {
	Op         QueryOp
	Column     string
	Value      Value
	Terms      []Query
	Expression string
}

// MapRows applies Value.MapRows to every value in the tree.
func (q Query) MapRows(fn func(Row) (Row, error)) (Query, error) {
	out := q
	if q.Op == OpEq {
		v, err := q.Value.MapRows(fn)
		if err != nil {
			return Query{}, fmt.Errorf("query column %q: %w", q.Column, err)
		}
		out.Value = v
	}
	if len(q.Terms) > 0 {
		out.Terms = make([]Query, len(q.Terms))
		for i, t := range q.Terms {
			m, err := t.MapRows(fn)
			if err != nil {
				return Query{}, err
			}
			out.Terms[i] = m
		}
	}
	return out, nil
}

// MapQueries applies Query.MapRows to every query.
func MapQueries(queries []Query, fn func(Row) (Row, error)) ([]Query, error) {
	out := make([]Query, len(queries))
	for i, q := range queries {
		m, err := q.MapRows(fn)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}
