package trino

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors returned by the query state machine and the OAuth2 flow.
var (
	// ErrNoRunningQuery is returned by Query.Cancel when the query was
	// never submitted to the coordinator.
	ErrNoRunningQuery = errors.New("trino: no running query")

	// ErrTokenAttemptsExceeded is returned when the OAuth2 token endpoint
	// did not issue a token within the poll-attempt budget.
	ErrTokenAttemptsExceeded = errors.New("trino: exceeded max attempts while getting the OAuth2 token")
)

// QueryError represents a structured error object returned by the
// coordinator as part of a query response body. It aborts the query state
// machine and is never retried.
type QueryError struct {
	Message   string         `json:"message"`
	ErrorCode int            `json:"errorCode"`
	ErrorName string         `json:"errorName"`
	ErrorType string         `json:"errorType"`
	Retriable bool           `json:"retriable"`
	Location  *ErrorLocation `json:"errorLocation,omitempty"`
	Failure   *FailureInfo   `json:"failureInfo,omitempty"`

	// QueryID is the id the coordinator assigned to the failing query,
	// when one was assigned before the failure.
	QueryID string `json:"-"`
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.QueryID != "" {
		return fmt.Sprintf("trino: query %s failed: %s: %s", e.QueryID, e.ErrorName, e.Message)
	}
	return fmt.Sprintf("trino: query failed: %s: %s", e.ErrorName, e.Message)
}

// IsUserError reports whether the coordinator classified the failure as
// caused by the submitted statement (bad SQL, bad parameters) rather than
// by the server.
func (e *QueryError) IsUserError() bool {
	return e.ErrorType == "USER_ERROR"
}

// IsExternalError reports whether the failure originated outside the
// coordinator, for example in a connector's backing system.
func (e *QueryError) IsExternalError() bool {
	return e.ErrorType == "EXTERNAL"
}

// ErrorLocation points at the offending position in the SQL text.
type ErrorLocation struct {
	LineNumber   int `json:"lineNumber"`
	ColumnNumber int `json:"columnNumber"`
}

func (l *ErrorLocation) String() string {
	return fmt.Sprintf("line %d:%d", l.LineNumber, l.ColumnNumber)
}

// FailureInfo carries the server-side failure chain.
type FailureInfo struct {
	Type       string         `json:"type"`
	Message    string         `json:"message,omitempty"`
	Cause      *FailureInfo   `json:"cause,omitempty"`
	Suppressed []FailureInfo  `json:"suppressed,omitempty"`
	Stack      []string       `json:"stack,omitempty"`
	Location   *ErrorLocation `json:"errorLocation,omitempty"`
}

// HTTPError represents a non-2xx response that did not carry a structured
// query error. 502, 503 and 504 are transient "upstream unavailable"
// conditions and are retried by the retry policy before surfacing here.
type HTTPError struct {
	StatusCode int
	Body       string
	QueryID    string
}

// NewHTTPError drains the response body into an HTTPError. The body is
// always closed.
func NewHTTPError(resp *http.Response, queryID string) *HTTPError {
	var body string
	if resp.Body != nil {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		body = string(b)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: body, QueryID: queryID}
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	switch e.StatusCode {
	case http.StatusBadGateway:
		return "trino: error 502: bad gateway"
	case http.StatusServiceUnavailable:
		return "trino: error 503: service unavailable"
	case http.StatusGatewayTimeout:
		return "trino: error 504: gateway timeout"
	}
	if e.Body != "" {
		return fmt.Sprintf("trino: error %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("trino: error %d", e.StatusCode)
}

// UpstreamUnavailable reports whether the status code indicates a
// transient coordinator or gateway outage.
func (e *HTTPError) UpstreamUnavailable() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// AuthError represents a failure in credential acquisition: a malformed
// challenge header, a failing token endpoint, or an exhausted poll budget.
// The generic retry policy only retries an AuthError its provider marked
// transient; everything else fails the call immediately.
type AuthError struct {
	Message   string
	Cause     error
	Retriable bool
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("trino: authentication failed: %s: %v", e.Message, e.Cause)
	}
	return "trino: authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Transient reports whether the retry policy may retry the failed call.
func (e *AuthError) Transient() bool { return e.Retriable }

// DataError is raised when a wire value cannot be converted to the native
// type its column declares. It aborts row iteration at the offending row.
type DataError struct {
	Value      any
	TargetType string
	Cause      error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("trino: could not convert %v into the native type for %s: %v", e.Value, e.TargetType, e.Cause)
}

func (e *DataError) Unwrap() error { return e.Cause }
