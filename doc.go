// Package trino provides a Go client library for the Trino SQL query
// engine.
//
// The client speaks the coordinator's statement protocol: a statement is
// submitted with a POST, advanced by polling the continuation URI, and
// cancelled with a DELETE. Session state (catalog, schema, properties,
// roles, prepared statements, transaction id) follows the coordinator's
// response-header directives automatically.
//
// # Getting Started
//
// Create a client and execute a query:
//
//	client, err := trino.NewClient(trino.ClientConfig{
//	    Host: "trino-coordinator",
//	    Port: 8080,
//	    User: "analyst",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session := client.NewSession()
//	session.Catalog("hive").Schema("default")
//
//	query, err := session.Query(ctx, "SELECT * FROM my_table", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Sessions
//
// Sessions provide isolated execution contexts with their own catalog,
// schema, user identity, transaction state, and session properties.
// Sessions are safe for concurrent use and can be cloned for parallel
// workloads:
//
//	s1 := client.NewSession().Catalog("hive").Schema("prod")
//	s2 := s1.Clone().Schema("staging")
//
// # Result Streaming
//
// Results arrive in pages and are decoded to native Go values using the
// column type signatures: exact decimals, time.Time with sub-second
// precision, UUIDs, arrays, maps and rows. Use the pull-based stream for
// memory-efficient iteration:
//
//	rows := query.Rows()
//	for {
//	    row, err := rows.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    // process row
//	}
//
// # database/sql
//
// The package registers a "trino" driver. Open a pooled handle with a
// DSN:
//
//	db, err := sql.Open("trino", "trino://analyst@trino-coordinator:8080/hive/default")
//
// # Authentication
//
// HTTP Basic, static bearer tokens, OAuth2 (both the browser redirect
// flow and client credentials) and Kerberos/SPNEGO (see
// trinoauth/kerberos) are supported through the Authenticator interface.
package trino
