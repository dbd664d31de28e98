// Package kerberos provides Kerberos/SPNEGO authentication for the
// trino-go client library. It is a separate package to keep the gokrb5
// dependency tree opt-in for consumers that don't need Kerberos.
package kerberos

import (
	"database/sql/driver"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	trino "github.com/ethanyzhang/trino-go"
	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
)

// Config holds Kerberos authentication parameters.
type Config struct {
	KeytabPath string // Path to .keytab file
	Principal  string // e.g. "user@EXAMPLE.COM"
	Realm      string // e.g. "EXAMPLE.COM"
	ConfigPath string // Path to krb5.conf
	ServiceSPN string // Service principal name, defaults to "HTTP/<hostname>"
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.KeytabPath == "" {
		return fmt.Errorf("kerberos: KeytabPath is required")
	}
	if c.Principal == "" {
		return fmt.Errorf("kerberos: Principal is required")
	}
	if c.Realm == "" {
		return fmt.Errorf("kerberos: Realm is required")
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("kerberos: ConfigPath is required")
	}
	return nil
}

// Auth injects an Authorization: Negotiate header on every request. It
// implements trino.Authenticator and io.Closer; Close destroys the
// underlying Kerberos client.
type Auth struct {
	cl  *client.Client
	spn string
}

var _ trino.Authenticator = (*Auth)(nil)
var _ io.Closer = (*Auth)(nil)

// NewAuth logs in with the configured keytab and returns an authenticator
// ready for use.
func NewAuth(cfg Config) (*Auth, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	kt, err := keytab.Load(cfg.KeytabPath)
	if err != nil {
		return nil, fmt.Errorf("kerberos: failed to load keytab %q: %w", cfg.KeytabPath, err)
	}

	krb5Conf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("kerberos: failed to load config %q: %w", cfg.ConfigPath, err)
	}

	// A principal carrying "@" overrides the configured realm.
	username := cfg.Principal
	realm := cfg.Realm
	if idx := strings.LastIndex(cfg.Principal, "@"); idx >= 0 {
		username = cfg.Principal[:idx]
		realm = cfg.Principal[idx+1:]
	}

	cl := client.NewWithKeytab(username, realm, kt, krb5Conf)
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos: login failed: %w", err)
	}

	return &Auth{cl: cl, spn: cfg.ServiceSPN}, nil
}

// Authenticate implements trino.Authenticator.
func (a *Auth) Authenticate(req *http.Request) error {
	spn := a.spn
	if spn == "" {
		spn = "HTTP/" + req.URL.Hostname()
	}
	if err := spnego.SetSPNEGOHeader(a.cl, req, spn); err != nil {
		return fmt.Errorf("kerberos: failed to set SPNEGO header: %w", err)
	}
	return nil
}

// Close destroys the Kerberos client and its session keys.
func (a *Auth) Close() error {
	a.cl.Destroy()
	return nil
}

// DSN parameter names for Kerberos configuration.
const (
	dsnKeytab     = "kerberos_keytab"
	dsnPrincipal  = "kerberos_principal"
	dsnRealm      = "kerberos_realm"
	dsnConfig     = "kerberos_config"
	dsnServiceSPN = "kerberos_service_spn"
)

// kerberosDSNParams is the set of DSN query parameters consumed by this package.
var kerberosDSNParams = []string{
	dsnKeytab, dsnPrincipal, dsnRealm, dsnConfig, dsnServiceSPN,
}

// parseDSN extracts Kerberos parameters from a DSN URL and returns the
// Config and a cleaned DSN with Kerberos params removed.
func parseDSN(dsn string) (*Config, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("kerberos: invalid DSN: %w", err)
	}

	q := u.Query()
	cfg := &Config{
		KeytabPath: q.Get(dsnKeytab),
		Principal:  q.Get(dsnPrincipal),
		Realm:      q.Get(dsnRealm),
		ConfigPath: q.Get(dsnConfig),
		ServiceSPN: q.Get(dsnServiceSPN),
	}

	for _, key := range kerberosDSNParams {
		q.Del(key)
	}
	u.RawQuery = q.Encode()

	return cfg, u.String(), nil
}

// NewConnector creates a driver.Connector with Kerberos/SPNEGO
// authentication. It parses Kerberos parameters from the DSN, strips
// them, and passes the cleaned DSN to trino.NewConnector with the SPNEGO
// authenticator installed on the shared client.
//
// The returned io.Closer must be called to destroy the Kerberos client
// (typically via defer). The connector remains usable until Close is
// called.
func NewConnector(dsn string) (driver.Connector, io.Closer, error) {
	cfg, cleanDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, nil, err
	}

	auth, err := NewAuth(*cfg)
	if err != nil {
		return nil, nil, err
	}

	connector, err := trino.NewConnector(cleanDSN, trino.WithAuth(auth))
	if err != nil {
		auth.Close()
		return nil, nil, err
	}

	return connector, auth, nil
}
