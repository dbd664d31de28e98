package trino

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBearerChallenge(t *testing.T) {
	ch, err := parseBearerChallenge(
		`Bearer x_redirect_server="https://coordinator/oauth2/auth", x_token_server="https://coordinator/oauth2/token"`)
	require.NoError(t, err)
	assert.Equal(t, "https://coordinator/oauth2/auth", ch.redirectURL)
	assert.Equal(t, "https://coordinator/oauth2/token", ch.tokenURL)
}

func TestParseBearerChallengeCaseAndSchemes(t *testing.T) {
	// Scheme names are case-insensitive and other schemes may share the
	// header.
	ch, err := parseBearerChallenge(
		`Basic realm="trino", bearer X_TOKEN_SERVER="https://c/token", x_redirect_server="https://c/auth"`)
	require.NoError(t, err)
	assert.Equal(t, "https://c/auth", ch.redirectURL)
	assert.Equal(t, "https://c/token", ch.tokenURL)
}

func TestParseBearerChallengeFailures(t *testing.T) {
	for _, header := range []string{
		"",
		`Basic realm="trino"`,
		`Bearer x_redirect_server="https://c/auth"`,
		`Bearer x_token_server="https://c/token"`,
	} {
		_, err := parseBearerChallenge(header)
		require.Error(t, err, "header %q", header)
		var ae *AuthError
		require.ErrorAs(t, err, &ae)
		// Malformed challenges are never retried.
		assert.False(t, ae.Transient())
	}
}

func TestOAuth2TokenPollNextURIChain(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/token/1", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprintf(w, `{"nextUri":"%s/token/2"}`, srv.URL)
	})
	mux.HandleFunc("/token/2", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprint(w, `{"token":"tok-xyz"}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	var redirected string
	auth := NewOAuth2Auth(func(url string) { redirected = url })
	challenge := fmt.Sprintf(`Bearer x_redirect_server="%s/auth", x_token_server="%s/token/1"`, srv.URL, srv.URL)
	require.NoError(t, auth.HandleChallenge(context.Background(), "coordinator", challenge))

	assert.Equal(t, srv.URL+"/auth", redirected)
	assert.Equal(t, int32(2), polls.Load())

	token, ok := auth.cache.GetToken("coordinator")
	require.True(t, ok)
	assert.Equal(t, "tok-xyz", token)

	// The cached token now authenticates requests to the same host.
	req, _ := http.NewRequest(http.MethodGet, "http://coordinator:8080/v1/statement", nil)
	require.NoError(t, auth.Authenticate(req))
	assert.Equal(t, "Bearer tok-xyz", req.Header.Get("Authorization"))
}

func TestOAuth2TokenPollBudget(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprintf(w, `{"nextUri":"http://%s%s"}`, r.Host, r.URL.Path)
	}))
	defer srv.Close()

	auth := NewOAuth2Auth(func(string) {})
	challenge := fmt.Sprintf(`Bearer x_redirect_server="%s/auth", x_token_server="%s/token"`, srv.URL, srv.URL)
	err := auth.HandleChallenge(context.Background(), "coordinator", challenge)
	assert.ErrorIs(t, err, ErrTokenAttemptsExceeded)
	assert.Equal(t, int32(MaxOAuth2Attempts), polls.Load())
}

func TestOAuth2TokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"access denied"}`)
	}))
	defer srv.Close()

	auth := NewOAuth2Auth(func(string) {})
	challenge := fmt.Sprintf(`Bearer x_redirect_server="%s/auth", x_token_server="%s/token"`, srv.URL, srv.URL)
	err := auth.HandleChallenge(context.Background(), "coordinator", challenge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestOAuth2ChallengeSingleFlight(t *testing.T) {
	var redirects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the flow open long enough for every goroutine to join it.
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, `{"token":"shared-token"}`)
	}))
	defer srv.Close()

	auth := NewOAuth2Auth(func(string) { redirects.Add(1) })
	challenge := fmt.Sprintf(`Bearer x_redirect_server="%s/auth", x_token_server="%s/token"`, srv.URL, srv.URL)

	const goroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = auth.HandleChallenge(context.Background(), "coordinator", challenge)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	// One flow served all of them.
	assert.Equal(t, int32(1), redirects.Load())
	token, ok := auth.cache.GetToken("coordinator")
	require.True(t, ok)
	assert.Equal(t, "shared-token", token)
}
