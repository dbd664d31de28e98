package trino

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryErrorClassification(t *testing.T) {
	user := &QueryError{ErrorType: "USER_ERROR", ErrorName: "SYNTAX_ERROR", Message: "bad sql"}
	assert.True(t, user.IsUserError())
	assert.False(t, user.IsExternalError())

	external := &QueryError{ErrorType: "EXTERNAL", ErrorName: "CONNECTOR_ERROR"}
	assert.True(t, external.IsExternalError())

	internal := &QueryError{ErrorType: "INTERNAL_ERROR"}
	assert.False(t, internal.IsUserError())
	assert.False(t, internal.IsExternalError())
}

func TestQueryErrorMessage(t *testing.T) {
	qe := &QueryError{ErrorName: "SYNTAX_ERROR", Message: "bad sql", QueryID: "q9"}
	assert.Contains(t, qe.Error(), "q9")
	assert.Contains(t, qe.Error(), "SYNTAX_ERROR")

	anonymous := &QueryError{ErrorName: "SYNTAX_ERROR", Message: "bad sql"}
	assert.NotContains(t, anonymous.Error(), "q9")
}

func TestErrorLocationString(t *testing.T) {
	l := &ErrorLocation{LineNumber: 3, ColumnNumber: 14}
	assert.Equal(t, "line 3:14", l.String())
}

func TestNewHTTPErrorDrainsBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTeapot,
		Body:       io.NopCloser(strings.NewReader("short and stout")),
	}
	he := NewHTTPError(resp, "q1")
	assert.Equal(t, http.StatusTeapot, he.StatusCode)
	assert.Equal(t, "short and stout", he.Body)
	assert.Equal(t, "q1", he.QueryID)
	assert.Contains(t, he.Error(), "418")
}

func TestHTTPErrorUpstreamMessages(t *testing.T) {
	for code, want := range map[int]string{
		http.StatusBadGateway:         "bad gateway",
		http.StatusServiceUnavailable: "service unavailable",
		http.StatusGatewayTimeout:     "gateway timeout",
	} {
		he := &HTTPError{StatusCode: code, Body: "ignored"}
		assert.Contains(t, he.Error(), want)
		assert.True(t, he.UpstreamUnavailable())
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	ae := &AuthError{Message: "token poll failed", Cause: cause, Retriable: true}
	assert.ErrorIs(t, ae, cause)
	assert.True(t, ae.Transient())
	assert.Contains(t, ae.Error(), "token poll failed")
}

func TestDataErrorUnwrap(t *testing.T) {
	cause := errors.New("invalid UUID length")
	de := &DataError{Value: "zzz", TargetType: "uuid", Cause: cause}
	require.ErrorIs(t, de, cause)
	assert.Contains(t, de.Error(), "uuid")
	assert.Contains(t, de.Error(), "zzz")
}
