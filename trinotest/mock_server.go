// Package trinotest provides a mock Trino coordinator for integration
// testing. The mock speaks the statement protocol: POST to submit, GET to
// poll the continuation URI, DELETE to cancel.
package trinotest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	trino "github.com/ethanyzhang/trino-go"
)

// Query life-cycle states as reported in statement statistics.
const (
	StateQueued    = "QUEUED"
	StateRunning   = "RUNNING"
	StateCancelled = "CANCELED"
	StateFinished  = "FINISHED"
	StateFailed    = "FAILED"
)

// generateMockSlug creates a random string to simulate the security slug
// embedded in continuation URIs.
func generateMockSlug() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Col builds a column descriptor with a simple (non-parameterized) type.
func Col(name, rawType string) trino.Column {
	return trino.Column{
		Name:          name,
		Type:          rawType,
		TypeSignature: trino.TypeSignature{RawType: rawType},
	}
}

// QueryTemplate defines the result set and life-cycle shape for one SQL
// string. It is an immutable blueprint from which live query instances
// are created.
//
// The full Data slice is divided into DataBatches sequential windows and
// served one window per continuation poll. QueueBatches controls how many
// polls the query spends in the QUEUED state before the schema appears.
type QueryTemplate struct {
	SQL          string
	DataBatches  int // number of data pages, capped by row count
	QueueBatches int // polls spent queued before columns appear, at least 1
	Columns      []trino.Column
	Data         [][]any
	Error        *trino.QueryError // simulates a query failure
	UpdateType   string
	UpdateCount  *int64
	Warnings     []trino.Warning

	// ResponseHeaders are attached to every response for this query,
	// exercising the session-mutation side effects.
	ResponseHeaders http.Header

	// FailFirst makes the first N requests for this query answer 503,
	// exercising the transport retry path.
	FailFirst int

	Latency time.Duration
}

// activeQuery is a live execution instance of a template.
type activeQuery struct {
	ID        string
	Template  *QueryTemplate
	State     string
	QueuedFor int // polls spent in the QUEUED state
	Failures  int // 503s served so far
}

// wireResults mirrors the statement protocol response body.
type wireResults struct {
	ID          string                `json:"id"`
	InfoURI     string                `json:"infoUri,omitempty"`
	NextURI     string                `json:"nextUri,omitempty"`
	Columns     []trino.Column        `json:"columns,omitempty"`
	Data        []json.RawMessage     `json:"data,omitempty"`
	Stats       trino.StatementStats  `json:"stats"`
	Error       *trino.QueryError     `json:"error,omitempty"`
	Warnings    []trino.Warning       `json:"warnings,omitempty"`
	UpdateType  string                `json:"updateType,omitempty"`
	UpdateCount *int64                `json:"updateCount,omitempty"`
}

// Server simulates a Trino coordinator for integration testing.
type Server struct {
	server *httptest.Server

	mu            sync.RWMutex
	templates     map[string]*QueryTemplate
	activeQueries map[string]*activeQuery
	cancelled     map[string]bool

	defaultLatency time.Duration
	queryIDCounter atomic.Int64
	today          string

	oauthToken string // when set, statement requests must carry it
	tokenPolls atomic.Int32
}

// NewServer starts a mock coordinator.
func NewServer() *Server {
	mock := &Server{
		templates:     make(map[string]*QueryTemplate),
		activeQueries: make(map[string]*activeQuery),
		cancelled:     make(map[string]bool),
		today:         time.Now().Format("20060102"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/statement", mock.handleNewQuery)
	mux.HandleFunc("GET /v1/statement/{queryId}/{batchId}", mock.handleNextBatch)
	mux.HandleFunc("DELETE /v1/statement/{queryId}/{batchId}", mock.handleCancel)
	mux.HandleFunc("GET /oauth2/token", mock.handleToken)

	mock.server = httptest.NewServer(mux)
	return mock
}

// EnableOAuth2 makes the statement endpoints demand the given bearer
// token. Unauthenticated requests receive a 401 challenge pointing at
// the mock's redirect and token endpoints.
func (m *Server) EnableOAuth2(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oauthToken = token
}

// TokenPolls reports how many times the token endpoint was hit.
func (m *Server) TokenPolls() int {
	return int(m.tokenPolls.Load())
}

// authorized enforces the OAuth2 gate when enabled.
func (m *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	m.mu.RLock()
	token := m.oauthToken
	m.mu.RUnlock()
	if token == "" || r.Header.Get("Authorization") == "Bearer "+token {
		return true
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer x_redirect_server="%s/oauth2/redirect", x_token_server="%s/oauth2/token"`,
		m.server.URL, m.server.URL))
	w.WriteHeader(http.StatusUnauthorized)
	return false
}

func (m *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	m.tokenPolls.Add(1)
	m.mu.RLock()
	token := m.oauthToken
	m.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// AddQuery registers a SQL template, normalizing its batch counts.
func (m *Server) AddQuery(tmpl *QueryTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if totalRows := len(tmpl.Data); tmpl.DataBatches > totalRows {
		tmpl.DataBatches = totalRows
	}
	if tmpl.DataBatches < 1 && len(tmpl.Data) > 0 {
		tmpl.DataBatches = 1
	}
	if tmpl.QueueBatches < 1 {
		tmpl.QueueBatches = 1
	}
	m.templates[tmpl.SQL] = tmpl
}

// SetDefaultLatency configures the fallback per-query latency.
func (m *Server) SetDefaultLatency(latency time.Duration) {
	m.defaultLatency = latency
}

// Cancelled reports whether a DELETE was received for the query.
func (m *Server) Cancelled(queryID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelled[queryID]
}

// --- Request handlers ---

func (m *Server) handleNewQuery(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}
	body, _ := io.ReadAll(r.Body)
	sql := string(body)

	m.mu.RLock()
	template, exists := m.templates[sql]
	m.mu.RUnlock()

	if !exists {
		template = &QueryTemplate{
			SQL:          sql,
			DataBatches:  1,
			QueueBatches: 1,
			Columns:      []trino.Column{Col("result", "varchar")},
			Data:         [][]any{{"Query template not found; default success"}},
		}
	}

	queryID := m.newQueryID()
	m.mu.Lock()
	m.activeQueries[queryID] = &activeQuery{
		ID:       queryID,
		Template: template,
		State:    StateQueued,
	}
	m.mu.Unlock()

	m.sendQueryResponse(w, queryID, 0)
}

func (m *Server) handleNextBatch(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}
	batchID, _ := strconv.Atoi(r.PathValue("batchId"))
	m.sendQueryResponse(w, r.PathValue("queryId"), batchID)
}

func (m *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("queryId")
	m.mu.Lock()
	if q, ok := m.activeQueries[id]; ok {
		q.State = StateCancelled
		delete(m.activeQueries, id)
	}
	m.cancelled[id] = true
	m.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// --- Protocol response logic ---

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// sendQueryResponse prepares one protocol payload, applying latency,
// injected failures, queued-phase polling and sequential data paging.
func (m *Server) sendQueryResponse(w http.ResponseWriter, queryID string, batchID int) {
	m.mu.RLock()
	query, exists := m.activeQueries[queryID]
	if !exists {
		m.mu.RUnlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Query not found"})
		return
	}

	totalLatency := m.defaultLatency
	if query.Template.Latency > 0 {
		totalLatency = query.Template.Latency
	}
	totalRequests := query.Template.DataBatches + query.Template.QueueBatches
	sleepDuration := totalLatency / time.Duration(totalRequests)
	m.mu.RUnlock()

	if sleepDuration > 0 {
		time.Sleep(sleepDuration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	query, exists = m.activeQueries[queryID]
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Query removed during processing"})
		return
	}

	if query.Failures < query.Template.FailFirst {
		query.Failures++
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	for k, vs := range query.Template.ResponseHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	dataBatchCount := query.Template.DataBatches
	queueBatchCount := query.Template.QueueBatches

	if batchID == 0 {
		query.QueuedFor++
	}
	if query.QueuedFor >= queueBatchCount && query.State == StateQueued {
		query.State = StateRunning
	}

	hasMore := query.QueuedFor < queueBatchCount || batchID < dataBatchCount
	if query.Template.Error != nil {
		query.State = StateFailed
		hasMore = false
	} else if !hasMore && query.State == StateRunning {
		query.State = StateFinished
	}

	resp := wireResults{
		ID:       queryID,
		InfoURI:  fmt.Sprintf("%s/ui/query.html?%s", m.server.URL, queryID),
		Error:    query.Template.Error,
		Warnings: query.Template.Warnings,
		Stats: trino.StatementStats{
			State:           query.State,
			Scheduled:       query.State != StateQueued,
			TotalSplits:     dataBatchCount,
			CompletedSplits: batchID,
		},
	}

	// The schema appears once the queued phase ends.
	if query.QueuedFor >= queueBatchCount {
		resp.Columns = query.Template.Columns
		resp.UpdateType = query.Template.UpdateType
		resp.UpdateCount = query.Template.UpdateCount
	}

	if hasMore {
		nextBatch := batchID + 1
		if query.QueuedFor < queueBatchCount {
			nextBatch = 0
		}
		resp.NextURI = fmt.Sprintf("%s/v1/statement/%s/%d?slug=%s",
			m.server.URL, queryID, nextBatch, generateMockSlug())
	}

	// Data is delivered sequentially across batches.
	if batchID > 0 && dataBatchCount > 0 && len(query.Template.Data) > 0 {
		rowsPerBatch := (len(query.Template.Data) + dataBatchCount - 1) / dataBatchCount
		start := (batchID - 1) * rowsPerBatch
		if start < len(query.Template.Data) {
			end := start + rowsPerBatch
			if end > len(query.Template.Data) {
				end = len(query.Template.Data)
			}
			batchRows := query.Template.Data[start:end]
			resp.Data = make([]json.RawMessage, len(batchRows))
			for i, row := range batchRows {
				resp.Data[i], _ = json.Marshal(row)
			}
		}
	}

	if query.State == StateFinished || query.State == StateCancelled || query.State == StateFailed {
		delete(m.activeQueries, queryID)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (m *Server) newQueryID() string {
	return fmt.Sprintf("%s_%05d", m.today, m.queryIDCounter.Add(1))
}

// URL returns the base URL of the mock coordinator.
func (m *Server) URL() string { return m.server.URL }

// Host returns the host:port the mock coordinator listens on.
func (m *Server) Host() string {
	return m.server.Listener.Addr().String()
}

// Close shuts down the mock coordinator.
func (m *Server) Close() { m.server.Close() }
