package trino

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// Query tracks one statement through its lifecycle: submitted with POST,
// advanced with GETs against the continuation URI, cancelled with DELETE.
// The absence of a continuation URI in a response marks the terminal
// state. All methods are safe for use from a single goroutine; results
// are consumed through Fetch or a Rows stream.
type Query struct {
	session *Session

	mu          sync.Mutex
	id          string
	infoURI     string
	nextURI     string
	columns     []Column
	mapper      *RowMapper
	stats       StatementStats
	warnings    []Warning
	updateType  string
	updateCount *int64
	pending     []json.RawMessage
	finished    bool
	cancelled   bool
	started     bool
}

// Query submits a statement and advances it until the result schema is
// known or the query reaches a terminal state. Data pages that arrive
// before the schema are buffered and surfaced by the first Fetch.
func (s *Session) Query(ctx context.Context, statement string, extraHeaders http.Header) (*Query, error) {
	q := &Query{session: s}
	st, err := s.roundTrip(ctx, http.MethodPost, s.client.StatementURL(), []byte(statement), extraHeaders)
	if st != nil {
		if applyErr := q.apply(st); applyErr != nil && err == nil {
			err = applyErr
		}
	}
	if err != nil {
		return nil, err
	}
	log.Debug().Str("queryId", q.id).Msg("query submitted")

	for q.columnsUnknown() {
		if err := q.advance(ctx); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// columnsUnknown reports whether the result schema is still pending.
func (q *Query) columnsUnknown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mapper == nil && !q.finished && !q.cancelled
}

// apply folds one protocol response into the query state.
func (q *Query) apply(st *queryStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.started = true
	if st.ID != "" {
		q.id = st.ID
	}
	if st.InfoURI != "" {
		q.infoURI = st.InfoURI
	}
	q.nextURI = st.NextURI
	q.stats = st.Stats
	q.warnings = append(q.warnings, st.Warnings...)
	if st.UpdateType != "" {
		q.updateType = st.UpdateType
	}
	if st.UpdateCount != nil {
		q.updateCount = st.UpdateCount
	}
	if st.Columns != nil && q.mapper == nil {
		q.columns = st.Columns
		mapper, err := newRowMapper(st.Columns)
		if err != nil {
			return err
		}
		q.mapper = mapper
	}
	q.pending = append(q.pending, st.Data...)
	if st.NextURI == "" {
		q.finished = true
	}
	return nil
}

// advance issues one continuation GET and folds the response in.
func (q *Query) advance(ctx context.Context) error {
	q.mu.Lock()
	next := q.nextURI
	q.mu.Unlock()
	if next == "" {
		return nil
	}
	rawURL, err := q.session.client.resolve(next)
	if err != nil {
		return err
	}
	st, rtErr := q.session.roundTrip(ctx, http.MethodGet, rawURL, nil, nil)
	if st != nil {
		if err := q.apply(st); err != nil {
			return err
		}
	}
	return rtErr
}

// Fetch returns the next page of decoded rows, advancing the query when
// the local buffer is empty. A nil page with a nil error means the query
// has produced all of its results.
func (q *Query) Fetch(ctx context.Context) ([][]any, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 && q.mapper != nil {
			raw := q.pending
			q.pending = nil
			mapper := q.mapper
			q.mu.Unlock()
			return mapper.MapRows(raw)
		}
		done := q.finished || q.cancelled
		q.mu.Unlock()
		if done {
			return nil, nil
		}
		if err := q.advance(ctx); err != nil {
			return nil, err
		}
	}
}

// Cancel stops the query on the coordinator. Cancelling a query that was
// never submitted is an error; cancelling one that already finished is a
// no-op.
func (q *Query) Cancel(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return ErrNoRunningQuery
	}
	if q.finished || q.cancelled || q.nextURI == "" {
		q.cancelled = true
		q.mu.Unlock()
		return nil
	}
	target := q.nextURI
	q.cancelled = true
	q.mu.Unlock()

	rawURL, err := q.session.client.resolve(target)
	if err != nil {
		return err
	}
	req, err := q.session.newRequest(ctx, http.MethodDelete, rawURL, nil, nil)
	if err != nil {
		return err
	}
	resp, err := q.session.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return NewHTTPError(resp, q.id)
	}
	log.Debug().Str("queryId", q.id).Msg("query cancelled")
	return nil
}

// Rows returns a forward-only stream over this query's result rows.
func (q *Query) Rows() *Rows {
	return &Rows{query: q}
}

// ID returns the coordinator-assigned query identifier.
func (q *Query) ID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.id
}

// InfoURI returns the human-facing query info page URI.
func (q *Query) InfoURI() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.infoURI
}

// Columns returns the result schema, or nil if it is not yet known.
func (q *Query) Columns() []Column {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.columns
}

// Stats returns the most recent statement statistics.
func (q *Query) Stats() StatementStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// State parses the lifecycle state from the latest statistics.
func (q *Query) State() (QueryState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ParseQueryState(q.stats.State)
}

// Warnings returns the warnings accumulated so far.
func (q *Query) Warnings() []Warning {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.warnings
}

// UpdateType reports the DDL/DML operation kind, if any.
func (q *Query) UpdateType() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updateType
}

// UpdateCount reports the affected row count for update statements.
func (q *Query) UpdateCount() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.updateCount == nil {
		return 0, false
	}
	return *q.updateCount, true
}

// Finished reports whether the coordinator has no more results to serve.
func (q *Query) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

// Cancelled reports whether Cancel was called.
func (q *Query) Cancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}
