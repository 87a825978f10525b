// Package executor runs registered statements.
//
// An Engine combines a mapping.Registry with a dialect driver, an optional
// second-level cache and a chain of interceptors. Selects and mutations
// go through these pipelines:
//
//	select: before-hooks -> render -> cache lookup -> execute
//	    -> materialize -> cache store -> after-hooks
//	mutate: before-hooks -> pre-key -> render -> execute
//	    -> invalidate -> post-key -> after-hooks
//
// Before-hooks run in registration order and after-hooks in reverse order.
// After-hooks run for every interceptor whose before-hook succeeded, and
// see the failure, if any, in ExecContext.Err.
//
//	engine, err := executor.New(registry,
//	    executor.WithDriver(drv),
//	    executor.WithInterceptors(interceptors.Logging(logger)),
//	)
//	users, err := executor.List[*User](ctx, engine, "users.active", filter)
//
// Engines are safe for concurrent use. A Session runs statements through a
// transaction or connection owned by the caller.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
	"github.com/JinHo-von-Choi/nuvatis-sub001/cache"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dynsql"
	"github.com/JinHo-von-Choi/nuvatis-sub001/internal/pool"
	"github.com/JinHo-von-Choi/nuvatis-sub001/mapping"
	"github.com/JinHo-von-Choi/nuvatis-sub001/resultmap"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// ErrNoDriver is returned by Engine calls when no driver was configured.
var ErrNoDriver = errors.New("executor: no driver configured")

// Engine executes the statements of a registry.
type Engine struct {
	registry     *mapping.Registry
	driver       dialect.Driver
	placeholder  dynsql.Placeholder
	cache        nuvatis.Cache
	interceptors []nuvatis.Interceptor
	logger       *slog.Logger
	handlers     *typehandler.Registry
	resolver     *binding.Resolver
	poolSize     int

	renderer *dynsql.Renderer
	binder   *binding.Binder
	mapper   *resultmap.Mapper
	contexts *pool.Pool[*nuvatis.ExecContext]
	args     *pool.Pool[*[]any]
}

// Option configures an Engine.
type Option func(*Engine)

// WithDriver sets the driver used by Engine calls.
func WithDriver(drv dialect.Driver) Option {
	return func(e *Engine) {
		e.driver = drv
	}
}

// WithDialect sets the bind marker style. By default it is taken from the
// registered dialect matching the driver.
func WithDialect(d dialect.Dialect) Option {
	return func(e *Engine) {
		if d != nil {
			e.placeholder = d
		}
	}
}

// WithPlaceholder sets the bind marker style explicitly.
func WithPlaceholder(p dynsql.Placeholder) Option {
	return func(e *Engine) {
		if p != nil {
			e.placeholder = p
		}
	}
}

// WithCache sets the second-level cache. Without one, an in-memory
// cache.Manager is created when a namespace enables caching.
func WithCache(c nuvatis.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithInterceptors appends interceptors to the chain.
func WithInterceptors(ics ...nuvatis.Interceptor) Option {
	return func(e *Engine) {
		e.interceptors = append(e.interceptors, ics...)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTypeHandlers overrides the type handlers of the registry.
func WithTypeHandlers(h *typehandler.Registry) Option {
	return func(e *Engine) {
		e.handlers = h
	}
}

// WithResolver sets the property resolver shared by rendering, binding and
// mapping.
func WithResolver(r *binding.Resolver) Option {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithPoolSize sets how many idle execution contexts, bind slices and
// render buffers are retained.
func WithPoolSize(n int) Option {
	return func(e *Engine) {
		e.poolSize = n
	}
}

// New returns an Engine for reg.
func New(reg *mapping.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("executor: nil registry")
	}
	e := &Engine{
		registry: reg,
		logger:   slog.Default(),
		resolver: binding.DefaultResolver(),
		handlers: reg.TypeHandlers(),
		poolSize: pool.DefaultSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.placeholder == nil {
		e.placeholder = dynsql.DefaultPlaceholder{}
		if e.driver != nil {
			if d, err := dialect.Get(e.driver.Dialect()); err == nil {
				e.placeholder = d
			}
		}
	}
	if e.cache == nil {
		e.cache = e.defaultCache()
	}
	e.renderer = dynsql.NewRenderer(
		dynsql.WithPlaceholder(e.placeholder),
		dynsql.WithResolver(e.resolver),
		dynsql.WithBufferPool(e.poolSize),
	)
	e.binder = binding.NewBinder(e.resolver, e.handlers)
	e.mapper = resultmap.NewMapper(e.handlers, e.resolver)
	e.contexts = pool.New(e.poolSize,
		func() *nuvatis.ExecContext { return new(nuvatis.ExecContext) },
		(*nuvatis.ExecContext).Reset,
	)
	e.args = pool.New(e.poolSize,
		func() *[]any {
			s := make([]any, 0, 8)
			return &s
		},
		func(s *[]any) {
			clear(*s)
			*s = (*s)[:0]
		},
	)
	return e, nil
}

// defaultCache returns a cache.Manager holding the regions of the
// namespaces that enable caching, or nil when none does.
func (e *Engine) defaultCache() nuvatis.Cache {
	var opts []cache.Option
	for _, ns := range e.registry.Namespaces() {
		if cfg := e.registry.Cache(ns); cfg.Enabled {
			opts = append(opts, cache.WithRegion(ns, cfg))
		}
	}
	if len(opts) == 0 {
		return nil
	}
	return cache.NewManager(append(opts, cache.WithLogger(e.logger))...)
}

// Registry returns the statement registry.
func (e *Engine) Registry() *mapping.Registry { return e.registry }

// Cache returns the second-level cache, or nil.
func (e *Engine) Cache() nuvatis.Cache { return e.cache }

// Driver returns the configured driver, or nil.
func (e *Engine) Driver() dialect.Driver { return e.driver }

// Close closes the driver.
func (e *Engine) Close() error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close()
}

// Select runs the select statement id and stores its rows into dst, a
// pointer to a slice.
func (e *Engine) Select(ctx context.Context, id string, param, dst any) error {
	return e.selectInto(ctx, e.conn(), id, param, dst)
}

// SelectOne runs the select statement id and stores its single row into
// dst. It fails with a NotFoundError or NotSingularError when the statement
// does not yield exactly one row.
func (e *Engine) SelectOne(ctx context.Context, id string, param, dst any) error {
	return e.selectOne(ctx, e.conn(), id, param, dst)
}

// Exec runs the insert, update or delete statement id and returns the
// number of affected rows.
func (e *Engine) Exec(ctx context.Context, id string, param any) (int64, error) {
	out, err := e.run(ctx, e.conn(), id, param)
	return out.affected, err
}

// Session returns a Session running statements through eq, typically a
// dialect.Tx started by the caller.
func (e *Engine) Session(eq dialect.ExecQuerier) *Session {
	s := &Session{engine: e, dirty: make(map[string]struct{})}
	if eq != nil {
		s.eq = &sessionConn{ExecQuerier: eq, session: s}
	}
	return s
}

func (e *Engine) conn() dialect.ExecQuerier {
	if e.driver == nil {
		return nil
	}
	return e.driver
}

// Session runs statements through a caller owned connection or
// transaction. It never commits, rolls back or closes it.
//
// A mutation run by the session invalidates its namespace region at once,
// and the session stops reading and filling that region, so rows it has
// not committed are never cached. Other callers may still cache rows read
// before the commit; call Flush once the transaction ends.
type Session struct {
	engine *Engine
	eq     dialect.ExecQuerier

	mu    sync.Mutex
	dirty map[string]struct{}
}

// Flush invalidates the regions of the namespaces the session mutated
// and lets the session use them again. Call it after the caller commits
// or rolls back.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()
	for _, ns := range slices.Sorted(maps.Keys(dirty)) {
		s.engine.invalidate(ctx, ns)
	}
}

func (s *Session) touch(namespace string) {
	s.mu.Lock()
	s.dirty[namespace] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) touched(namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirty[namespace]
	return ok
}

// sessionConn marks statements run by a session.
type sessionConn struct {
	dialect.ExecQuerier
	session *Session
}

// Select is Engine.Select within the session.
func (s *Session) Select(ctx context.Context, id string, param, dst any) error {
	return s.engine.selectInto(ctx, s.eq, id, param, dst)
}

// SelectOne is Engine.SelectOne within the session.
func (s *Session) SelectOne(ctx context.Context, id string, param, dst any) error {
	return s.engine.selectOne(ctx, s.eq, id, param, dst)
}

// Exec is Engine.Exec within the session.
func (s *Session) Exec(ctx context.Context, id string, param any) (int64, error) {
	out, err := s.engine.run(ctx, s.eq, id, param)
	return out.affected, err
}

// Runner is implemented by Engine and Session.
type Runner interface {
	Select(ctx context.Context, id string, param, dst any) error
	SelectOne(ctx context.Context, id string, param, dst any) error
	Exec(ctx context.Context, id string, param any) (int64, error)
}

var (
	_ Runner = (*Engine)(nil)
	_ Runner = (*Session)(nil)
)

// List runs the select statement id and returns its rows as a []T.
func List[T any](ctx context.Context, r Runner, id string, param any) ([]T, error) {
	var out []T
	if err := r.Select(ctx, id, param, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// One runs the select statement id and returns its single row.
func One[T any](ctx context.Context, r Runner, id string, param any) (T, error) {
	var v T
	err := r.SelectOne(ctx, id, param, &v)
	return v, err
}

func (e *Engine) selectInto(ctx context.Context, eq dialect.ExecQuerier, id string, param, dst any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() || dv.Elem().Kind() != reflect.Slice {
		return &nuvatis.BindingError{Msg: "select destination must be a non-nil pointer to a slice"}
	}
	out, err := e.run(ctx, eq, id, param)
	if err != nil {
		return err
	}
	if err := assignSlice(dv.Elem(), out.value); err != nil {
		return nuvatis.WrapStatementError(id, out.sql, err)
	}
	return nil
}

func (e *Engine) selectOne(ctx context.Context, eq dialect.ExecQuerier, id string, param, dst any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return &nuvatis.BindingError{Msg: "select destination must be a non-nil pointer"}
	}
	out, err := e.run(ctx, eq, id, param)
	if err != nil {
		return err
	}
	switch n := out.value.Len(); {
	case n == 0:
		return nuvatis.WrapStatementError(id, out.sql, nuvatis.NewNotFoundError(id))
	case n > 1:
		return nuvatis.WrapStatementError(id, out.sql, nuvatis.NewNotSingularError(id, n))
	}
	if err := assignElem(dv.Elem(), out.value.Index(0)); err != nil {
		return nuvatis.WrapStatementError(id, out.sql, err)
	}
	return nil
}
