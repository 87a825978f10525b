package dialect

import (
	"context"
	"database/sql/driver"
	"fmt"
	"slices"
	"sync"
)

// Dialect names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// ExecQuerier wraps the two database operations.
type ExecQuerier interface {
	// Exec executes a statement that returns no rows. v is nil or a
	// *sql.Result receiving the driver result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query and stores its rows into v.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface a database connection implements.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in a transaction.
type Tx interface {
	ExecQuerier
	driver.Tx
}

// Dialect adapts the engine to one database. The placeholder of the i-th
// bind value (zero based) is ParameterPrefix() + ParameterNameFor(i).
type Dialect interface {
	// Name returns the dialect name.
	Name() string
	// Open opens a driver for the data source name.
	Open(dsn string) (Driver, error)
	ParameterPrefix() string
	ParameterNameFor(index int) string
	// WrapIdentifier quotes a table or column name.
	WrapIdentifier(name string) string
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

// Register makes a dialect available by name. It panics when called twice
// for the same name or with a nil dialect.
func Register(d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	if d == nil {
		panic("dialect: Register dialect is nil")
	}
	if _, dup := dialects[d.Name()]; dup {
		panic("dialect: Register called twice for dialect " + d.Name())
	}
	dialects[d.Name()] = d
}

// Get returns the registered dialect with the given name.
func Get(name string) (Dialect, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("dialect: unknown dialect %q (forgotten import?)", name)
	}
	return d, nil
}

// Names returns the sorted names of the registered dialects.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
