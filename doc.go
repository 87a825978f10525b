// Package nuvatis maps parameterized, dynamically assembled SQL statements
// to Go values.
//
// Statements are declared per namespace with a template tree (package
// dynsql), optional result maps (package resultmap) and cache settings,
// and registered once through mapping.Builder. An executor.Engine renders a
// statement against a parameter object, binds its values in placeholder
// order, runs it through a dialect driver and materializes the rows:
//
//	reg, err := mapping.NewBuilder().Add(usersNamespace).Build()
//	engine, err := executor.New(reg, executor.WithDriver(drv))
//	users, err := executor.List[User](ctx, engine, "users.search", filter)
//
// This package holds the types shared by every layer: statement kinds,
// errors, the interceptor contract with its per-invocation ExecContext, and
// the second-level Cache contract.
package nuvatis
