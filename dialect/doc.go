// Package dialect defines the contract between the execution engine and a
// database.
//
// # Interfaces
//
// A Dialect describes one SQL flavor and opens drivers for it:
//
//	type Dialect interface {
//	    Name() string
//	    Open(dsn string) (Driver, error)
//	    ParameterPrefix() string
//	    ParameterNameFor(index int) string
//	    WrapIdentifier(name string) string
//	}
//
// The Driver runs statements. It is implemented by dialect/sql on top of
// database/sql, and by Tx for work inside a caller-owned transaction:
//
//	type ExecQuerier interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	}
//
// # Registry
//
// The reference adapters register themselves when imported:
//
//	import (
//	    "github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
//	    _ "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/postgres"
//	)
//
//	d, err := dialect.Get(dialect.Postgres)
//	drv, err := d.Open("postgres://...")
//
// # Sub-packages
//
//   - dialect/sql: database/sql backed driver, statistics and debug drivers,
//     constraint error classification
//   - dialect/postgres: PostgreSQL ($1, $2 placeholders)
//   - dialect/mysql: MySQL and MariaDB (? placeholders, backtick quoting)
//   - dialect/sqlite: SQLite through modernc.org/sqlite
package dialect
