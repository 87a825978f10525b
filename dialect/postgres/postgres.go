// Package postgres registers the PostgreSQL dialect backed by lib/pq.
//
// Bind markers are $1, $2, ... and identifiers are double quoted.
package postgres

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
)

// Dialect is the PostgreSQL dialect.
type Dialect struct{}

func init() {
	dialect.Register(Dialect{})
}

// Name implements dialect.Dialect.
func (Dialect) Name() string { return dialect.Postgres }

// Open implements dialect.Dialect. dsn is a URL or a key=value connection
// string as accepted by lib/pq.
func (Dialect) Open(dsn string) (dialect.Driver, error) {
	return Open(dsn)
}

// Open validates dsn and opens a driver for it.
func Open(dsn string) (*dsql.Driver, error) {
	conn, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/postgres: %w", err)
	}
	return dsql.OpenDB(dialect.Postgres, sql.OpenDB(conn)), nil
}

// ParameterPrefix implements dialect.Dialect.
func (Dialect) ParameterPrefix() string { return "$" }

// ParameterNameFor implements dialect.Dialect. Markers are one based.
func (Dialect) ParameterNameFor(i int) string { return strconv.Itoa(i + 1) }

// WrapIdentifier implements dialect.Dialect.
func (Dialect) WrapIdentifier(name string) string { return pq.QuoteIdentifier(name) }

var _ dialect.Dialect = Dialect{}
