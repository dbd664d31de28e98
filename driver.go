package trino

import (
	"context"
	"crypto/rand"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	str2duration "github.com/xhit/go-str2duration/v2"
)

func init() {
	sql.Register("trino", &sqlDriver{})
}

// --- DSN Parsing ---

// dsnConfig holds the parsed DSN parameters.
type dsnConfig struct {
	host     string
	port     int
	scheme   string
	user     string
	password string
	catalog  string
	schema   string

	timezone      string
	clientTags    []string
	clientInfo    string
	source        string
	timeout       time.Duration
	skipTLSVerify bool

	// Unrecognized query params become session properties.
	sessionProps map[string]string
}

// parseDSN parses a Trino DSN string.
//
// Format: trino://[user[:password]@]host[:port][/catalog[/schema]][?key=value&...]
//
// Query params: scheme, timezone, client_tags, client_info, source,
// timeout, skip_tls_verify. Unrecognized params become session
// properties. The timeout accepts Go duration strings as well as forms
// like "1d12h".
func parseDSN(dsn string) (*dsnConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("trino: invalid DSN: %w", err)
	}
	if u.Scheme != "trino" {
		return nil, fmt.Errorf("trino: unsupported scheme %q: must be trino", u.Scheme)
	}

	cfg := &dsnConfig{
		port:         DefaultPort,
		sessionProps: make(map[string]string),
	}

	if u.User != nil {
		cfg.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			cfg.password = p
		}
	}

	cfg.host = u.Hostname()
	if cfg.host == "" {
		return nil, fmt.Errorf("trino: missing host in DSN")
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("trino: invalid port %q in DSN", p)
		}
		cfg.port = port
	}

	// Path: /catalog/schema
	path := strings.TrimPrefix(u.Path, "/")
	if path != "" {
		parts := strings.SplitN(path, "/", 2)
		cfg.catalog = parts[0]
		if len(parts) > 1 {
			cfg.schema = parts[1]
		}
	}

	for key, values := range u.Query() {
		val := values[0]
		switch key {
		case "scheme":
			cfg.scheme = val
		case "timezone":
			cfg.timezone = val
		case "client_tags":
			cfg.clientTags = strings.Split(val, ",")
		case "client_info":
			cfg.clientInfo = val
		case "source":
			cfg.source = val
		case "timeout":
			d, err := str2duration.ParseDuration(val)
			if err != nil {
				return nil, fmt.Errorf("trino: invalid timeout %q in DSN: %w", val, err)
			}
			cfg.timeout = d
		case "skip_tls_verify":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("trino: invalid skip_tls_verify %q in DSN: %w", val, err)
			}
			cfg.skipTLSVerify = b
		default:
			cfg.sessionProps[key] = val
		}
	}

	return cfg, nil
}

// clientConfig translates the DSN into a transport configuration.
func (cfg *dsnConfig) clientConfig() ClientConfig {
	cc := ClientConfig{
		Host:          cfg.host,
		Port:          cfg.port,
		Scheme:        cfg.scheme,
		User:          cfg.user,
		Source:        cfg.source,
		Catalog:       cfg.catalog,
		Schema:        cfg.schema,
		TimeZone:      cfg.timezone,
		Timeout:       cfg.timeout,
		SkipTLSVerify: cfg.skipTLSVerify,
	}
	if cfg.password != "" {
		cc.Auth = &BasicAuth{Username: cfg.user, Password: cfg.password}
	}
	return cc
}

// --- Parameter Formatting ---

// valueToSQL converts a Go driver value to a SQL literal.
func valueToSQL(v driver.Value) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return quoteLiteral(val), nil
	case []byte:
		return "X'" + hex.EncodeToString(val) + "'", nil
	case time.Time:
		return "TIMESTAMP '" + val.Format("2006-01-02 15:04:05.000") + "'", nil
	case decimal.Decimal:
		return "DECIMAL '" + val.String() + "'", nil
	case uuid.UUID:
		return "UUID '" + val.String() + "'", nil
	default:
		return "", fmt.Errorf("trino: unsupported parameter type %T", v)
	}
}

// quoteLiteral wraps a string in single quotes, doubling embedded quotes.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatParams renders the USING clause argument list.
func formatParams(args []driver.Value) (string, error) {
	literals := make([]string, len(args))
	for i, arg := range args {
		s, err := valueToSQL(arg)
		if err != nil {
			return "", err
		}
		literals[i] = s
	}
	return strings.Join(literals, ", "), nil
}

// --- Type Conversion ---

// normalizeType strips parameterized parts from a Trino type string,
// e.g. "varchar(255)" becomes "varchar".
func normalizeType(t string) string {
	lower := strings.ToLower(strings.TrimSpace(t))
	if idx := strings.IndexByte(lower, '('); idx >= 0 {
		return strings.TrimSpace(lower[:idx])
	}
	return lower
}

// scanTypeForTrinoType returns the reflect.Type Scan should use for a
// given Trino type.
func scanTypeForTrinoType(trinoType string) reflect.Type {
	switch normalizeType(trinoType) {
	case "bigint", "integer", "smallint", "tinyint":
		return reflect.TypeOf(int64(0))
	case "double", "real":
		return reflect.TypeOf(float64(0))
	case "boolean":
		return reflect.TypeOf(false)
	case "varchar", "char", "decimal", "json", "uuid":
		return reflect.TypeOf("")
	case "varbinary":
		return reflect.TypeOf([]byte(nil))
	case "date", "timestamp", "timestamp with time zone", "time", "time with time zone":
		return reflect.TypeOf(time.Time{})
	default:
		// array, map, row, and unknown types scan as JSON strings
		return reflect.TypeOf("")
	}
}

// toDriverValue flattens mapper output into the restricted driver.Value
// set. Exact and structured values that database/sql cannot carry are
// rendered as strings.
func toDriverValue(v any) (driver.Value, error) {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time:
		return val, nil
	case decimal.Decimal:
		return val.String(), nil
	case uuid.UUID:
		return val.String(), nil
	case *Row:
		return val.String(), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// --- Driver Types ---

// sqlDriver implements driver.Driver and driver.DriverContext.
type sqlDriver struct{}

var _ driver.Driver = (*sqlDriver)(nil)
var _ driver.DriverContext = (*sqlDriver)(nil)

func (d *sqlDriver) Open(dsn string) (driver.Conn, error) {
	connector, err := NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

func (d *sqlDriver) OpenConnector(dsn string) (driver.Connector, error) {
	return NewConnector(dsn)
}

// --- Connector ---

// ConnectorOption configures a sqlConnector.
type ConnectorOption func(*sqlConnector)

// WithSessionSetup registers a hook called on every new Session created
// by Connect. External modules can configure sessions without touching
// the core driver.
func WithSessionSetup(fn func(*Session)) ConnectorOption {
	return func(c *sqlConnector) {
		c.sessionSetup = fn
	}
}

// WithAuth sets the authenticator used by the shared client.
func WithAuth(auth Authenticator) ConnectorOption {
	return func(c *sqlConnector) {
		c.auth = auth
	}
}

// sqlConnector implements driver.Connector. It creates one shared Client
// and capability cache, and produces a fresh Session per Connect call.
type sqlConnector struct {
	cfg          *dsnConfig
	auth         Authenticator
	sessionSetup func(*Session)

	once         sync.Once
	client       *Client
	capabilities *CapabilityCache
	err          error
}

var _ driver.Connector = (*sqlConnector)(nil)

// NewConnector creates a driver.Connector from a DSN string. Use it with
// sql.OpenDB for connection pool management.
func NewConnector(dsn string, opts ...ConnectorOption) (driver.Connector, error) {
	cfg, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	c := &sqlConnector{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *sqlConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c.once.Do(func() {
		cc := c.cfg.clientConfig()
		if c.auth != nil {
			cc.Auth = c.auth
		}
		c.client, c.err = NewClient(cc)
		c.capabilities = NewCapabilityCache(DefaultCapabilityCacheSize, DefaultCapabilityCacheTTL)
	})
	if c.err != nil {
		return nil, c.err
	}

	session := c.client.NewSession()
	if c.cfg.clientInfo != "" {
		session.ClientInfo(c.cfg.clientInfo)
	}
	if len(c.cfg.clientTags) > 0 {
		session.ClientTags(c.cfg.clientTags...)
	}
	for k, v := range c.cfg.sessionProps {
		session.Property(k, v)
	}
	if c.sessionSetup != nil {
		c.sessionSetup(session)
	}

	return &sqlConn{session: session, capabilities: c.capabilities, host: c.cfg.host}, nil
}

func (c *sqlConnector) Driver() driver.Driver {
	return &sqlDriver{}
}

// --- Connection ---

// sqlConn implements driver.Conn, driver.QueryerContext,
// driver.ExecerContext, and driver.ConnBeginTx.
type sqlConn struct {
	session      *Session
	capabilities *CapabilityCache
	host         string
	closed       bool
}

var _ driver.Conn = (*sqlConn)(nil)
var _ driver.QueryerContext = (*sqlConn)(nil)
var _ driver.ExecerContext = (*sqlConn)(nil)
var _ driver.ConnBeginTx = (*sqlConn)(nil)

func (c *sqlConn) Prepare(query string) (driver.Stmt, error) {
	return &sqlStmt{conn: c, query: query}, nil
}

func (c *sqlConn) Close() error {
	c.closed = true
	return nil
}

// Begin implements driver.Conn. Use BeginTx instead.
func (c *sqlConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *sqlConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) {
		return nil, fmt.Errorf("trino: isolation level %d is not supported", opts.Isolation)
	}
	if opts.ReadOnly {
		return nil, fmt.Errorf("trino: read-only transactions are not supported")
	}
	if _, err := c.execDirect(ctx, "START TRANSACTION"); err != nil {
		return nil, fmt.Errorf("trino: failed to start transaction: %w", err)
	}
	return &sqlTx{conn: c}, nil
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, err := c.runStatement(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return &sqlRows{stream: q.Rows(), ctx: ctx, columns: q.Columns()}, nil
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	q, err := c.runStatement(ctx, query, args)
	if err != nil {
		return nil, err
	}
	// Drain; update statements report their affected count on the last
	// response.
	for {
		page, err := q.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
	}
	count, ok := q.UpdateCount()
	if !ok {
		return &sqlResult{}, nil
	}
	return &sqlResult{updateCount: &count}, nil
}

// runStatement executes a statement, expanding parameters through
// server-side prepared statements when arguments are present.
func (c *sqlConn) runStatement(ctx context.Context, query string, named []driver.NamedValue) (*Query, error) {
	args := make([]driver.Value, len(named))
	for i, arg := range named {
		args[i] = arg.Value
	}
	if len(args) == 0 {
		return c.session.Query(ctx, query, nil)
	}

	params, err := formatParams(args)
	if err != nil {
		return nil, err
	}

	legacy, err := c.useLegacyPreparedStatements(ctx)
	if err != nil {
		return nil, err
	}
	if !legacy {
		return c.session.Query(ctx, "EXECUTE IMMEDIATE "+quoteLiteral(query)+" USING "+params, nil)
	}

	name, err := generateStatementName()
	if err != nil {
		return nil, err
	}
	// The statement text travels on the prepared-statement request header;
	// the coordinator deallocates it when the session ends.
	c.session.registerPreparedStatement(name, query)
	return c.session.Query(ctx, "EXECUTE "+name+" USING "+params, nil)
}

// useLegacyPreparedStatements reports whether this coordinator needs the
// PREPARE/EXECUTE form instead of EXECUTE IMMEDIATE. The first probe per
// host runs a throwaway EXECUTE IMMEDIATE; a structured user error means
// the syntax is unsupported. The verdict is cached per host.
func (c *sqlConn) useLegacyPreparedStatements(ctx context.Context) (bool, error) {
	if legacy, ok := c.capabilities.Get(c.host); ok {
		return legacy, nil
	}

	legacy := false
	q, err := c.session.Query(ctx, "EXECUTE IMMEDIATE 'SELECT 1'", nil)
	if err != nil {
		var qe *QueryError
		if !errors.As(err, &qe) || !qe.IsUserError() {
			return false, err
		}
		legacy = true
	} else {
		for {
			page, err := q.Fetch(ctx)
			if err != nil || page == nil {
				break
			}
		}
	}

	c.capabilities.Put(c.host, legacy)
	return legacy, nil
}

// generateStatementName produces a collision-resistant prepared statement
// name.
func generateStatementName() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("trino: failed to generate statement name: %w", err)
	}
	return "st_" + hex.EncodeToString(b[:]), nil
}

// execDirect executes a statement with no arguments and drains it.
func (c *sqlConn) execDirect(ctx context.Context, query string) (driver.Result, error) {
	return c.ExecContext(ctx, query, nil)
}

// --- Result ---

// sqlResult implements driver.Result.
type sqlResult struct {
	updateCount *int64
}

var _ driver.Result = (*sqlResult)(nil)

// LastInsertId implements driver.Result. Trino does not support
// auto-increment IDs.
func (r *sqlResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("trino: LastInsertId is not supported")
}

func (r *sqlResult) RowsAffected() (int64, error) {
	if r.updateCount == nil {
		return 0, nil
	}
	return *r.updateCount, nil
}

// --- Rows ---

// sqlRows implements driver.Rows along with the column type interfaces.
type sqlRows struct {
	stream  *Rows
	ctx     context.Context
	columns []Column
	closed  bool
}

var _ driver.Rows = (*sqlRows)(nil)

func (r *sqlRows) Columns() []string {
	names := make([]string, len(r.columns))
	for i, col := range r.columns {
		names[i] = col.Name
	}
	return names
}

func (r *sqlRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.stream.Close(context.Background())
}

func (r *sqlRows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}
	row, err := r.stream.Next(r.ctx)
	if err != nil {
		return err
	}
	for i := range dest {
		if i >= len(row) {
			dest[i] = nil
			continue
		}
		v, err := toDriverValue(row[i])
		if err != nil {
			return err
		}
		dest[i] = v
	}
	return nil
}

// ColumnTypeDatabaseTypeName implements
// driver.RowsColumnTypeDatabaseTypeName.
func (r *sqlRows) ColumnTypeDatabaseTypeName(index int) string {
	if index < 0 || index >= len(r.columns) {
		return ""
	}
	return strings.ToUpper(normalizeType(r.columns[index].Type))
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *sqlRows) ColumnTypeScanType(index int) reflect.Type {
	if index < 0 || index >= len(r.columns) {
		return reflect.TypeOf("")
	}
	return scanTypeForTrinoType(r.columns[index].Type)
}

// --- Statement ---

// sqlStmt implements driver.Stmt with context-aware variants.
type sqlStmt struct {
	conn  *sqlConn
	query string
}

var _ driver.Stmt = (*sqlStmt)(nil)
var _ driver.StmtQueryContext = (*sqlStmt)(nil)
var _ driver.StmtExecContext = (*sqlStmt)(nil)

func (s *sqlStmt) Close() error {
	return nil
}

// NumInput returns -1 to disable driver-side argument count validation.
func (s *sqlStmt) NumInput() int {
	return -1
}

func (s *sqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *sqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

func (s *sqlStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *sqlStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// namedValues converts positional args to a NamedValue slice.
func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Transaction ---

// sqlTx implements driver.Tx.
type sqlTx struct {
	conn *sqlConn
}

var _ driver.Tx = (*sqlTx)(nil)

func (tx *sqlTx) Commit() error {
	if _, err := tx.conn.execDirect(context.Background(), "COMMIT"); err != nil {
		return err
	}
	tx.conn.session.SetTransactionID(NoTransaction)
	return nil
}

func (tx *sqlTx) Rollback() error {
	if _, err := tx.conn.execDirect(context.Background(), "ROLLBACK"); err != nil {
		return err
	}
	tx.conn.session.SetTransactionID(NoTransaction)
	return nil
}
