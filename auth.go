package trino

import (
	"context"
	"net/http"
)

// Authenticator injects credentials into outgoing requests. Implementations
// must be safe for concurrent use by sessions sharing one client.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// ChallengeAuthenticator is implemented by authenticators that can react
// to a 401 response carrying a WWW-Authenticate challenge. HandleChallenge
// must leave the authenticator ready to authenticate follow-up requests
// to the same host.
type ChallengeAuthenticator interface {
	Authenticator
	HandleChallenge(ctx context.Context, host, challenge string) error
}

// BasicAuth authenticates with a username and password.
type BasicAuth struct {
	Username string
	Password string
}

// Authenticate implements Authenticator.
func (a *BasicAuth) Authenticate(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// TokenAuth authenticates every request with a pre-obtained bearer token,
// such as a long-lived JWT.
type TokenAuth struct {
	Token string
}

// Authenticate implements Authenticator.
func (a *TokenAuth) Authenticate(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}
