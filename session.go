package trino

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Trino protocol headers. Custom headers may not collide with these names.
const (
	UserHeader               = "X-Trino-User"
	SourceHeader             = "X-Trino-Source"
	CatalogHeader            = "X-Trino-Catalog"
	SchemaHeader             = "X-Trino-Schema"
	TimeZoneHeader           = "X-Trino-Time-Zone"
	ClientInfoHeader         = "X-Trino-Client-Info"
	ClientTagsHeader         = "X-Trino-Client-Tags"
	ClientCapabilitiesHeader = "X-Trino-Client-Capabilities"
	SessionHeader            = "X-Trino-Session"
	SetSessionHeader         = "X-Trino-Set-Session"
	ClearSessionHeader       = "X-Trino-Clear-Session"
	SetCatalogHeader         = "X-Trino-Set-Catalog"
	SetSchemaHeader          = "X-Trino-Set-Schema"
	RoleHeader               = "X-Trino-Role"
	SetRoleHeader            = "X-Trino-Set-Role"
	TransactionHeader        = "X-Trino-Transaction-Id"
	StartedTransactionHeader = "X-Trino-Started-Transaction-Id"
	ClearTransactionHeader   = "X-Trino-Clear-Transaction-Id"
	ExtraCredentialHeader    = "X-Trino-Extra-Credential"
	PreparedStatementHeader  = "X-Trino-Prepared-Statement"
	AddedPrepareHeader       = "X-Trino-Added-Prepare"
	DeallocatedPrepareHeader = "X-Trino-Deallocated-Prepare"
)

// NoTransaction is the transaction-id sentinel sent while no transaction
// is active.
const NoTransaction = "NONE"

// reservedHeaders is the set of headers the session owns. Checked against
// custom headers at construction time.
var reservedHeaders = map[string]bool{
	http.CanonicalHeaderKey(UserHeader):               true,
	http.CanonicalHeaderKey(SourceHeader):             true,
	http.CanonicalHeaderKey(CatalogHeader):            true,
	http.CanonicalHeaderKey(SchemaHeader):             true,
	http.CanonicalHeaderKey(TimeZoneHeader):           true,
	http.CanonicalHeaderKey(ClientInfoHeader):         true,
	http.CanonicalHeaderKey(ClientTagsHeader):         true,
	http.CanonicalHeaderKey(ClientCapabilitiesHeader): true,
	http.CanonicalHeaderKey(SessionHeader):            true,
	http.CanonicalHeaderKey(RoleHeader):               true,
	http.CanonicalHeaderKey(TransactionHeader):        true,
	http.CanonicalHeaderKey(ExtraCredentialHeader):    true,
	http.CanonicalHeaderKey(PreparedStatementHeader):  true,
}

// extraCredentialKeyPattern matches keys with no whitespace and no '='.
var extraCredentialKeyPattern = regexp.MustCompile(`^\S[^\s=]*$`)

// Credential is one extra-credential entry forwarded to connectors.
type Credential struct {
	Key   string
	Value string
}

// Session holds the mutable per-connection state: catalog, schema,
// session properties, per-catalog roles, prepared statements and the
// transaction id. It is created once per logical connection and mutated
// only by applying coordinator response headers.
//
// All fields are guarded by one lock so a header batch is applied
// atomically with respect to concurrent readers. The lock is never held
// across network I/O.
type Session struct {
	client *Client // parent client providing network transport

	mu                 sync.RWMutex
	user               string
	source             string
	catalog            string
	schema             string
	timezone           string
	clientInfo         string
	clientTags         []string
	properties         map[string]string
	extraCredentials   []Credential
	roles              map[string]string
	preparedStatements map[string]string
	customHeaders      map[string]string
	transactionID      string
}

// Clone creates an isolated session copy linked to the same client.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		client:             s.client,
		user:               s.user,
		source:             s.source,
		catalog:            s.catalog,
		schema:             s.schema,
		timezone:           s.timezone,
		clientInfo:         s.clientInfo,
		clientTags:         append([]string(nil), s.clientTags...),
		properties:         make(map[string]string, len(s.properties)),
		extraCredentials:   append([]Credential(nil), s.extraCredentials...),
		roles:              make(map[string]string, len(s.roles)),
		preparedStatements: make(map[string]string, len(s.preparedStatements)),
		customHeaders:      make(map[string]string, len(s.customHeaders)),
		transactionID:      s.transactionID,
	}
	for k, v := range s.properties {
		clone.properties[k] = v
	}
	for k, v := range s.roles {
		clone.roles[k] = v
	}
	for k, v := range s.preparedStatements {
		clone.preparedStatements[k] = v
	}
	for k, v := range s.customHeaders {
		clone.customHeaders[k] = v
	}
	return clone
}

// --- Fluent setters ---

func (s *Session) User(user string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	return s
}

func (s *Session) Source(source string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	return s
}

func (s *Session) Catalog(catalog string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
	return s
}

func (s *Session) Schema(schema string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = schema
	return s
}

func (s *Session) TimeZone(tz string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timezone = tz
	return s
}

func (s *Session) ClientInfo(info string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientInfo = info
	return s
}

func (s *Session) ClientTags(tags ...string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientTags = tags
	return s
}

// Property sets or removes a session property. An empty value removes it.
func (s *Session) Property(name, value string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.properties, name)
	} else {
		s.properties[name] = value
	}
	return s
}

// Role assigns a role for one catalog.
func (s *Session) Role(catalog, role string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[catalog] = role
	return s
}

// ExtraCredential appends one extra credential. The key must be ASCII
// with no whitespace and no '='.
func (s *Session) ExtraCredential(key, value string) error {
	if err := validateExtraCredentialKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraCredentials = append(s.extraCredentials, Credential{Key: key, Value: value})
	return nil
}

// CustomHeader registers an additional request header. Reserved protocol
// headers may not be overridden; attempting to do so fails fast.
func (s *Session) CustomHeader(name, value string) error {
	if reservedHeaders[http.CanonicalHeaderKey(name)] {
		return fmt.Errorf("trino: cannot override reserved HTTP header %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customHeaders[name] = value
	return nil
}

// --- Accessors ---

func (s *Session) GetCatalog() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

func (s *Session) GetSchema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// GetProperty returns the current value of one session property.
func (s *Session) GetProperty(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.properties[name]
	return v, ok
}

// GetRole returns the active role for one catalog.
func (s *Session) GetRole(catalog string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.roles[catalog]
	return v, ok
}

// PreparedStatement returns the original SQL text registered under name.
func (s *Session) PreparedStatement(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.preparedStatements[name]
	return v, ok
}

// registerPreparedStatement records a client-side PREPARE so subsequent
// requests carry it. The coordinator's added/deallocated prepare headers
// keep the registry in sync afterwards.
func (s *Session) registerPreparedStatement(name, statement string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preparedStatements[name] = statement
}

// TransactionID returns the active transaction id, or NoTransaction.
func (s *Session) TransactionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transactionID == "" {
		return NoTransaction
	}
	return s.transactionID
}

// SetTransactionID overrides the active transaction id. Passing
// NoTransaction or "" clears it.
func (s *Session) SetTransactionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == NoTransaction {
		id = ""
	}
	s.transactionID = id
}

// --- Request header construction ---

// applyHeaders writes the session state into an outgoing request. The
// snapshot is taken under the read lock; the request is sent after the
// lock is released.
func (s *Session) applyHeaders(req *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req.Header.Set(UserHeader, s.user)
	if s.source != "" {
		req.Header.Set(SourceHeader, s.source)
	}
	if s.catalog != "" {
		req.Header.Set(CatalogHeader, s.catalog)
	}
	if s.schema != "" {
		req.Header.Set(SchemaHeader, s.schema)
	}
	if s.timezone != "" {
		req.Header.Set(TimeZoneHeader, s.timezone)
	}
	if s.clientInfo != "" {
		req.Header.Set(ClientInfoHeader, s.clientInfo)
	}
	if len(s.clientTags) > 0 {
		req.Header.Set(ClientTagsHeader, strings.Join(s.clientTags, ","))
	}
	if len(s.properties) > 0 {
		req.Header.Set(SessionHeader, encodePairs(s.properties, url.QueryEscape))
	}
	if len(s.roles) > 0 {
		req.Header.Set(RoleHeader, encodePairs(s.roles, url.QueryEscape))
	}
	if len(s.preparedStatements) > 0 {
		req.Header.Set(PreparedStatementHeader, encodePairs(s.preparedStatements, url.QueryEscape))
	}
	if len(s.extraCredentials) > 0 {
		pairs := make([]string, len(s.extraCredentials))
		for i, c := range s.extraCredentials {
			pairs[i] = c.Key + "=" + url.QueryEscape(c.Value)
		}
		req.Header.Set(ExtraCredentialHeader, strings.Join(pairs, ", "))
	}
	if s.transactionID == "" {
		req.Header.Set(TransactionHeader, NoTransaction)
	} else {
		req.Header.Set(TransactionHeader, s.transactionID)
	}
	for k, v := range s.customHeaders {
		req.Header.Set(k, v)
	}
}

// encodePairs renders a map as "k=escape(v)" entries joined by commas,
// sorted by key for deterministic requests.
func encodePairs(m map[string]string, escape func(string) string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + escape(m[k])
	}
	return strings.Join(pairs, ",")
}

// --- Response header side effects ---

// applyResponseHeaders applies the coordinator's session-mutation
// directives. The order is fixed and each step is idempotent: clear
// properties, set properties, set catalog, set schema, merge roles,
// register added prepared statements, remove deallocated ones, capture a
// started transaction id, clear a finished one. The whole batch is
// applied under one lock
// acquisition so readers never observe a partially-applied batch.
func (s *Session) applyResponseHeaders(h http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range headerValues(h, ClearSessionHeader) {
		delete(s.properties, name)
	}
	for k, v := range headerKeyValues(h, SetSessionHeader) {
		s.properties[k] = v
	}
	if catalog := h.Get(SetCatalogHeader); catalog != "" {
		s.catalog = catalog
	}
	if schema := h.Get(SetSchemaHeader); schema != "" {
		s.schema = schema
	}
	for k, v := range headerKeyValues(h, SetRoleHeader) {
		s.roles[k] = v
	}
	for k, v := range headerKeyValues(h, AddedPrepareHeader) {
		s.preparedStatements[k] = v
	}
	for _, name := range headerValues(h, DeallocatedPrepareHeader) {
		delete(s.preparedStatements, name)
	}
	if id := h.Get(StartedTransactionHeader); id != "" && id != NoTransaction {
		s.transactionID = id
		log.Debug().Str("transaction_id", id).Msg("transaction started")
	}
	if h.Get(ClearTransactionHeader) != "" {
		s.transactionID = ""
	}
}

// headerValues splits a comma-separated header into trimmed values,
// combining repeated header fields.
func headerValues(h http.Header, name string) []string {
	var out []string
	for _, raw := range h.Values(name) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// headerKeyValues parses "key=value" entries with percent-decoded values.
// Entries without '=' or with undecodable values are skipped.
func headerKeyValues(h http.Header, name string) map[string]string {
	out := make(map[string]string)
	for _, kv := range headerValues(h, name) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		decoded, err := url.QueryUnescape(strings.TrimSpace(v))
		if err != nil {
			log.Debug().Str("header", name).Str("value", v).Msg("skipping undecodable header value")
			continue
		}
		out[strings.TrimSpace(k)] = decoded
	}
	return out
}

func validateExtraCredentialKey(key string) error {
	if !extraCredentialKeyPattern.MatchString(key) {
		return fmt.Errorf("trino: whitespace or '=' are disallowed in extra credential key %q", key)
	}
	for _, r := range key {
		if r > 127 {
			return fmt.Errorf("trino: only ASCII characters are allowed in extra credential key %q", key)
		}
	}
	return nil
}
