// Package mysql registers the MySQL dialect backed by go-sql-driver/mysql.
//
// Bind markers are ? and identifiers are quoted with backticks.
package mysql

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
)

// Dialect is the MySQL dialect.
type Dialect struct{}

func init() {
	dialect.Register(Dialect{})
}

// Name implements dialect.Dialect.
func (Dialect) Name() string { return dialect.MySQL }

// Open implements dialect.Dialect.
func (Dialect) Open(dsn string) (dialect.Driver, error) {
	return Open(dsn)
}

// Open parses dsn and opens a driver for it. Temporal columns are always
// scanned into time.Time.
func Open(dsn string) (*dsql.Driver, error) {
	cfg, err := Config(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialect/mysql: %w", err)
	}
	return dsql.OpenDB(dialect.MySQL, sql.OpenDB(conn)), nil
}

// Config parses dsn into the driver configuration used by Open.
func Config(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/mysql: %w", err)
	}
	cfg.ParseTime = true
	return cfg, nil
}

// ParameterPrefix implements dialect.Dialect.
func (Dialect) ParameterPrefix() string { return "?" }

// ParameterNameFor implements dialect.Dialect.
func (Dialect) ParameterNameFor(int) string { return "" }

// WrapIdentifier implements dialect.Dialect.
func (Dialect) WrapIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var _ dialect.Dialect = Dialect{}
