// Package sqlite registers the SQLite dialect backed by modernc.org/sqlite.
//
// Bind markers are ? and identifiers are double quoted.
package sqlite

import (
	"strings"

	_ "modernc.org/sqlite"

	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
)

// Dialect is the SQLite dialect.
type Dialect struct{}

func init() {
	dialect.Register(Dialect{})
}

// Name implements dialect.Dialect.
func (Dialect) Name() string { return dialect.SQLite }

// Open implements dialect.Dialect.
func (Dialect) Open(dsn string) (dialect.Driver, error) {
	return Open(dsn)
}

// Open opens a driver for dsn, for example "file:app.db" or
// "file::memory:?cache=shared".
func Open(dsn string) (*dsql.Driver, error) {
	return dsql.Open("sqlite", dialect.SQLite, dsn)
}

// ParameterPrefix implements dialect.Dialect.
func (Dialect) ParameterPrefix() string { return "?" }

// ParameterNameFor implements dialect.Dialect.
func (Dialect) ParameterNameFor(int) string { return "" }

// WrapIdentifier implements dialect.Dialect.
func (Dialect) WrapIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ dialect.Dialect = Dialect{}
