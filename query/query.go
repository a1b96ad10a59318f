// Package query builds search criteria for Table.Get and Table.Search and evaluates them
// client-side for stores that cannot filter on the server.
//
// Values may hold rows of any layer, autobatch proxies included: the autobatch engine unwraps
// them to store rows before the query reaches the store.
package query

import (
	"sort"

	"github.com/sharedcode/rowbatch"
)

// Eq matches rows whose column equals value. value goes through rowbatch.ValueOf.
func Eq(column string, value any) rowbatch.Query {
	return rowbatch.Query{Op: rowbatch.OpEq, Column: column, Value: rowbatch.ValueOf(value)}
}

// Columns matches rows where every listed column equals its value; the keyword form of a search.
func Columns(columns map[string]any) rowbatch.Query {
	names := make([]string, 0, len(columns))
	for k := range columns {
		names = append(names, k)
	}
	sort.Strings(names)
	terms := make([]rowbatch.Query, len(names))
	for i, n := range names {
		terms[i] = Eq(n, columns[n])
	}
	return AllOf(terms...)
}

// AllOf matches rows matching every term. An empty AllOf matches everything.
func AllOf(terms ...rowbatch.Query) rowbatch.Query {
	return rowbatch.Query{Op: rowbatch.OpAllOf, Terms: terms}
}

// AnyOf matches rows matching at least one term.
func AnyOf(terms ...rowbatch.Query) rowbatch.Query {
	return rowbatch.Query{Op: rowbatch.OpAnyOf, Terms: terms}
}

// NoneOf matches rows matching none of the terms.
func NoneOf(terms ...rowbatch.Query) rowbatch.Query {
	return rowbatch.Query{Op: rowbatch.OpNoneOf, Terms: terms}
}

// Not negates term.
func Not(term rowbatch.Query) rowbatch.Query {
	return rowbatch.Query{Op: rowbatch.OpNot, Terms: []rowbatch.Query{term}}
}

// Expr matches rows for which the CEL expression is true. The row's columns are the map variable
// `row`; row references appear as their row identifier string.
func Expr(expression string) rowbatch.Query {
	return rowbatch.Query{Op: rowbatch.OpExpr, Expression: expression}
}
