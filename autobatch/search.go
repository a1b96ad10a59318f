package autobatch

import (
	"context"
	"iter"

	"github.com/sharedcode/rowbatch"
)

// SearchResult is a lazy sequence of rows. Rows are wrapped on access, through the table's
// identity cache.
type SearchResult struct {
	table  *Table
	native rowbatch.SearchResult
}

// Len returns the number of rows.
func (s *SearchResult) Len(ctx context.Context) (int, error) {
	return s.native.Len(ctx)
}

// At returns the row at index i.
func (s *SearchResult) At(ctx context.Context, i int) (*Row, error) {
	native, err := s.native.At(ctx, i)
	if err != nil {
		return nil, err
	}
	return s.table.wrap(native), nil
}

// All iterates the rows in order. Iteration stops after the first error.
func (s *SearchResult) All(ctx context.Context) iter.Seq2[*Row, error] {
	return func(yield func(*Row, error) bool) {
		n, err := s.Len(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for i := range n {
			r, err := s.At(ctx, i)
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

// Rows materializes every row.
func (s *SearchResult) Rows(ctx context.Context) ([]*Row, error) {
	var rows []*Row
	for r, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}
