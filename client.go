package trino

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSource identifies this client to the coordinator.
	DefaultSource = "trino-go-client"
	// DefaultPort is the coordinator's plain HTTP port.
	DefaultPort = 8080
	// DefaultTLSPort implies HTTPS when no scheme is configured.
	DefaultTLSPort = 443
	// DefaultRequestTimeout bounds each HTTP round trip.
	DefaultRequestTimeout = 30 * time.Second

	statementPath       = "/v1/statement"
	contentEncodingGzip = "gzip"
)

// ClientConfig carries the process-wide transport configuration. It is
// constructed once and passed explicitly to NewClient; there are no
// ambient mutable globals.
type ClientConfig struct {
	Host   string
	Port   int    // 443 implies HTTPS when Scheme is empty
	Scheme string // "http" or "https"; derived from Port when empty
	User   string // required
	Source string // defaults to DefaultSource

	Catalog  string
	Schema   string
	TimeZone string

	Timeout       time.Duration // per-request timeout, defaults to DefaultRequestTimeout
	SkipTLSVerify bool
	ProxyURL      string // optional forward proxy; defaults to the environment settings
	MaxAttempts   int    // retry ceiling per HTTP call, defaults to DefaultMaxAttempts

	Auth Authenticator // optional per-request credential injection
}

// Client issues the statement-protocol HTTP calls: POST to submit, GET to
// continue, DELETE to cancel. Every call attaches session and auth
// headers and runs under the retry policy. The embedded Session is the
// default session; NewSession clones it for isolated contexts.
type Client struct {
	Session

	httpClient *http.Client
	baseURL    *url.URL
	retry      RetryPolicy
	auth       Authenticator
}

// NewClient validates the configuration and builds a client. The
// embedded default session is initialized from the config.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("trino: host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("trino: user is required")
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	scheme := cfg.Scheme
	if scheme == "" {
		if port == DefaultTLSPort {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("trino: unsupported scheme %q", scheme)
	}

	base := &url.URL{Scheme: scheme, Host: cfg.Host + ":" + strconv.Itoa(port)}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("trino: invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}

	c := &Client{
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		baseURL:    base,
		retry:      NewRetryPolicy(cfg.MaxAttempts),
		auth:       cfg.Auth,
		Session: Session{
			user:               cfg.User,
			source:             source,
			catalog:            cfg.Catalog,
			schema:             cfg.Schema,
			timezone:           cfg.TimeZone,
			properties:         make(map[string]string),
			roles:              make(map[string]string),
			preparedStatements: make(map[string]string),
			customHeaders:      make(map[string]string),
		},
	}
	c.Session.client = c
	return c, nil
}

// NewSession creates an isolated session sharing this client's transport.
func (c *Client) NewSession() *Session {
	return c.Session.Clone()
}

// StatementURL returns the absolute statement submission URL.
func (c *Client) StatementURL() string {
	return c.baseURL.String() + statementPath
}

// resolve turns a possibly-relative URI into an absolute request URL.
func (c *Client) resolve(uri string) (string, error) {
	u, err := c.baseURL.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("trino: invalid URI %q: %w", uri, err)
	}
	return u.String(), nil
}

// --- Request construction and execution ---

// newRequest builds an HTTP request carrying the session and auth
// headers. A non-nil body is sent as UTF-8 statement text.
func (s *Session) newRequest(ctx context.Context, method, rawURL string, body []byte, extraHeaders http.Header) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	req.Header.Set("Accept-Encoding", contentEncodingGzip)

	s.applyHeaders(req)
	for k, vs := range extraHeaders {
		if reservedHeaders[http.CanonicalHeaderKey(k)] {
			return nil, fmt.Errorf("trino: cannot override reserved HTTP header %s", k)
		}
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	if s.client.auth != nil {
		if err := s.client.auth.Authenticate(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// do executes the request under the retry policy. A 401 carrying a
// challenge is handed to the authenticator once; on success the request
// is re-issued with the fresh credentials.
func (s *Session) do(req *http.Request) (*http.Response, error) {
	c := s.client
	resp, err := c.retry.Do(req.Context(), func() (*http.Response, error) {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		challenger, ok := c.auth.(ChallengeAuthenticator)
		if !ok {
			return resp, nil
		}
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err := challenger.HandleChallenge(req.Context(), req.URL.Hostname(), challenge); err != nil {
			return nil, err
		}
		if err := challenger.Authenticate(req); err != nil {
			return nil, err
		}
		log.Debug().Str("host", req.URL.Hostname()).Msg("re-issuing request after authentication challenge")
		return c.retry.Do(req.Context(), func() (*http.Response, error) {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}
			return c.httpClient.Do(req)
		})
	}
	return resp, nil
}

// roundTrip issues one protocol call and decodes the response into a
// queryStatus, applying session-mutation headers and translating failures
// into the typed error taxonomy.
func (s *Session) roundTrip(ctx context.Context, method, rawURL string, body []byte, extraHeaders http.Header) (*queryStatus, error) {
	req, err := s.newRequest(ctx, method, rawURL, body, extraHeaders)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	return s.processResponse(resp)
}

// processResponse classifies the response and applies header side
// effects. A body with a structured "error" object is translated into a
// *QueryError; any other non-2xx status becomes an *HTTPError.
func (s *Session) processResponse(resp *http.Response) (*queryStatus, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp, "")
	}

	var st queryStatus
	if err := decodeResponseBody(resp, &st); err != nil {
		return nil, fmt.Errorf("trino: failed to decode query response: %w", err)
	}

	s.applyResponseHeaders(resp.Header)

	if st.Error != nil {
		st.Error.QueryID = st.ID
		return &st, st.Error
	}
	return &st, nil
}

// decodeResponseBody decodes a JSON body, transparently handling gzip.
// The response body is always closed.
func decodeResponseBody(resp *http.Response, v any) (err error) {
	defer func() {
		if closeErr := resp.Body.Close(); err == nil {
			err = closeErr
		}
	}()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == contentEncodingGzip {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return fmt.Errorf("failed to create gzip reader: %w", gzErr)
		}
		defer func() {
			if closeErr := gz.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Msg("failed to close gzip reader")
			}
		}()
		reader = gz
	}

	if err = json.NewDecoder(reader).Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// --- Cluster introspection ---

// ClusterStats reports coordinator-wide statistics from /v1/cluster.
type ClusterStats struct {
	RunningQueries   int     `json:"runningQueries"`
	BlockedQueries   int     `json:"blockedQueries"`
	QueuedQueries    int     `json:"queuedQueries"`
	ActiveWorkers    int     `json:"activeWorkers"`
	RunningDrivers   int     `json:"runningDrivers"`
	ReservedMemory   float64 `json:"reservedMemory"`
	TotalInputRows   int64   `json:"totalInputRows"`
	TotalInputBytes  int64   `json:"totalInputBytes"`
	TotalCPUTimeSecs int64   `json:"totalCpuTimeSecs"`
}

// ClusterInfo retrieves cluster statistics from the /v1/cluster endpoint.
func (s *Session) ClusterInfo(ctx context.Context) (*ClusterStats, error) {
	rawURL, err := s.client.resolve("/v1/cluster")
	if err != nil {
		return nil, err
	}
	req, err := s.newRequest(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp, "")
	}
	stats := new(ClusterStats)
	if err := decodeResponseBody(resp, stats); err != nil {
		return nil, fmt.Errorf("trino: failed to decode cluster stats: %w", err)
	}
	return stats, nil
}
