// Package sql implements dialect.Driver on top of database/sql.
//
// # Drivers
//
//	db, _ := sql.Open("sqlite", "file:app.db?_pragma=foreign_keys(1)")
//	drv := dsql.OpenDB(dialect.SQLite, db)
//
// Statements run through Driver.Exec and Driver.Query; args is always a
// []any of bound values and the destination is a *sql.Result or a *Rows.
// Tx runs the same operations inside a transaction.
//
// # Session variables
//
// WithVar attaches variables that are SET on the connection before each
// statement and reset afterwards:
//
//	ctx = dsql.WithVar(ctx, "app.tenant", "acme")
//
// # Wrappers
//
// StatsDriver counts statements and reports slow ones; DebugDriver logs
// every statement with its bound values.
//
// # Errors
//
// ClassifyConstraint and the IsXConstraintError helpers recognise
// constraint violations across PostgreSQL, MySQL and SQLite drivers.
package sql
