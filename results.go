package trino

import (
	"context"
	"io"
)

// Rows is a forward-only, pull-based stream over a query's results. Rows
// are fetched from the coordinator one page at a time as the consumer
// drains the current page; the stream cannot be rewound.
type Rows struct {
	query    *Query
	buffered [][]any
	done     bool
}

// Next returns the next row, fetching the next page when the current one
// is exhausted. It returns io.EOF once the query has produced all rows.
func (r *Rows) Next(ctx context.Context) ([]any, error) {
	for len(r.buffered) == 0 {
		if r.done {
			return nil, io.EOF
		}
		page, err := r.query.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			r.done = true
			return nil, io.EOF
		}
		r.buffered = page
	}
	row := r.buffered[0]
	r.buffered = r.buffered[1:]
	return row, nil
}

// Columns returns the result schema.
func (r *Rows) Columns() []Column {
	return r.query.Columns()
}

// Close cancels the underlying query if it is still running.
func (r *Rows) Close(ctx context.Context) error {
	r.done = true
	r.buffered = nil
	if r.query.Finished() || r.query.Cancelled() {
		return nil
	}
	return r.query.Cancel(ctx)
}
