package trino

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// MaxOAuth2Attempts caps how many times the token endpoint is polled for
// one challenge before the flow fails with ErrTokenAttemptsExceeded.
const MaxOAuth2Attempts = 5

// RedirectHandler receives the authorization URL a challenge points at.
// It is a fire-and-forget side channel: the user completes authentication
// out of band (typically in a browser) while the client polls the token
// endpoint.
type RedirectHandler func(url string)

// TokenCache stores bearer tokens per coordinator host. Tokens are keyed
// by host rather than by challenge so subsequent connections to the same
// host reuse them. Implementations must be safe for concurrent use;
// substituting persistent storage (for example a keyring) is supported.
type TokenCache interface {
	GetToken(host string) (string, bool)
	StoreToken(host, token string)
}

// InMemoryTokenCache is the default TokenCache. Multiple clients may
// share one instance.
type InMemoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewInMemoryTokenCache() *InMemoryTokenCache {
	return &InMemoryTokenCache{tokens: make(map[string]string)}
}

func (c *InMemoryTokenCache) GetToken(host string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[host]
	return t, ok
}

func (c *InMemoryTokenCache) StoreToken(host, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[host] = token
}

// OAuth2Auth implements the coordinator's challenge/response token flow:
// a 401 response supplies a redirect URL for out-of-band user
// authentication and a token URL the client polls until a token is
// issued. Goroutines sharing one instance trigger at most one
// challenge/poll sequence per host; concurrent callers block until the
// first caller's flow completes and then reuse its token.
type OAuth2Auth struct {
	redirect   RedirectHandler
	cache      TokenCache
	httpClient *http.Client
	group      singleflight.Group
}

// OAuth2Option configures an OAuth2Auth.
type OAuth2Option func(*OAuth2Auth)

// WithTokenCache substitutes the token cache, for example to share tokens
// across connections or persist them.
func WithTokenCache(cache TokenCache) OAuth2Option {
	return func(a *OAuth2Auth) { a.cache = cache }
}

// WithOAuth2HTTPClient overrides the HTTP client used to poll the token
// endpoint.
func WithOAuth2HTTPClient(client *http.Client) OAuth2Option {
	return func(a *OAuth2Auth) { a.httpClient = client }
}

// NewOAuth2Auth builds the challenge/response authenticator. The redirect
// handler is required.
func NewOAuth2Auth(redirect RedirectHandler, opts ...OAuth2Option) *OAuth2Auth {
	a := &OAuth2Auth{
		redirect:   redirect,
		cache:      NewInMemoryTokenCache(),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate implements Authenticator. With no cached token for the
// target host the request is sent bare; the server's 401 challenge then
// drives HandleChallenge.
func (a *OAuth2Auth) Authenticate(req *http.Request) error {
	if token, ok := a.cache.GetToken(req.URL.Hostname()); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// HandleChallenge implements ChallengeAuthenticator. The first caller per
// host runs the whole redirect/poll sequence; concurrent callers for the
// same host block on the single-flight gate and reuse its result.
func (a *OAuth2Auth) HandleChallenge(ctx context.Context, host, challenge string) error {
	_, err, _ := a.group.Do(host, func() (any, error) {
		ch, err := parseBearerChallenge(challenge)
		if err != nil {
			return nil, err
		}

		// Side channel for out-of-band user authentication.
		a.redirect(ch.redirectURL)

		token, err := a.pollToken(ctx, ch.tokenURL)
		if err != nil {
			return nil, err
		}
		a.cache.StoreToken(host, token)
		log.Debug().Str("host", host).Msg("stored OAuth2 token")
		return token, nil
	})
	return err
}

// pollToken polls the token endpoint until a token is issued, following
// nextUri continuations, within the fixed attempt budget.
func (a *OAuth2Auth) pollToken(ctx context.Context, tokenURL string) (string, error) {
	for attempt := 0; attempt < MaxOAuth2Attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
		if err != nil {
			return "", &AuthError{Message: "invalid token server URL", Cause: err}
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return "", &AuthError{Message: "token server request failed", Cause: err, Retriable: true}
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", &AuthError{Message: "failed to read token server response", Cause: err}
		}
		if resp.StatusCode != http.StatusOK {
			return "", &AuthError{Message: fmt.Sprintf(
				"error while getting the token response status code: %d, body: %s", resp.StatusCode, body)}
		}

		var tr struct {
			Token   string `json:"token"`
			NextURI string `json:"nextUri"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &tr); err != nil {
			return "", &AuthError{Message: "malformed token server response", Cause: err}
		}
		switch {
		case tr.Token != "":
			return tr.Token, nil
		case tr.Error != "":
			return "", &AuthError{Message: "error while getting the token: " + tr.Error}
		case tr.NextURI != "":
			log.Debug().Str("next_uri", tr.NextURI).Msg("continuing token poll")
			tokenURL = tr.NextURI
		default:
			return "", &AuthError{Message: "token server returned neither token nor nextUri"}
		}
	}
	return "", ErrTokenAttemptsExceeded
}

// bearerChallenge is the (redirect URL, token poll URL) pair a 401
// response advertises.
type bearerChallenge struct {
	redirectURL string
	tokenURL    string
}

// parseBearerChallenge extracts x_redirect_server and x_token_server from
// a WWW-Authenticate header. Scheme names and parameter order are
// case-insensitive and multiple challenge schemes may share the header.
// A missing parameter or a malformed header is a hard failure, never
// retried.
func parseBearerChallenge(header string) (*bearerChallenge, error) {
	if header == "" {
		return nil, &AuthError{Message: "header WWW-Authenticate not available in the response"}
	}
	if !strings.Contains(strings.ToLower(header), "bearer") {
		return nil, &AuthError{Message: fmt.Sprintf("header info didn't match: %s", header)}
	}

	params := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		// Strip a leading scheme token ("Bearer x_token_server=...").
		if space := strings.IndexByte(part, ' '); space > 0 && !strings.Contains(part[:space], "=") {
			part = strings.TrimSpace(part[space+1:])
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}

	redirect, ok := params["x_redirect_server"]
	if !ok {
		return nil, &AuthError{Message: "header info didn't have x_redirect_server"}
	}
	token, ok := params["x_token_server"]
	if !ok {
		return nil, &AuthError{Message: "header info didn't have x_token_server"}
	}
	return &bearerChallenge{redirectURL: redirect, tokenURL: token}, nil
}
