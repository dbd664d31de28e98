package trino

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsConfig configures machine-to-machine OAuth2
// authentication against an external identity provider, for deployments
// where no interactive challenge flow is possible.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func (c *ClientCredentialsConfig) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("trino: oauth2 ClientID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("trino: oauth2 ClientSecret is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("trino: oauth2 TokenURL is required")
	}
	return nil
}

// ClientCredentialsAuth obtains and refreshes bearer tokens via the OAuth2
// client credentials grant. The underlying token source caches tokens and
// is safe for concurrent use.
type ClientCredentialsAuth struct {
	source oauth2.TokenSource
}

// NewClientCredentialsAuth builds the authenticator.
func NewClientCredentialsAuth(cfg ClientCredentialsConfig) (*ClientCredentialsAuth, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &ClientCredentialsAuth{source: cc.TokenSource(context.Background())}, nil
}

// Authenticate implements Authenticator. Token acquisition failures are
// transient from the transport's perspective: the identity provider may
// recover between attempts.
func (a *ClientCredentialsAuth) Authenticate(req *http.Request) error {
	token, err := a.source.Token()
	if err != nil {
		return &AuthError{Message: "failed to obtain client-credentials token", Cause: err, Retriable: true}
	}
	token.SetAuthHeader(req)
	return nil
}
