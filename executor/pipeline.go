package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/cache"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dynsql"
	"github.com/JinHo-von-Choi/nuvatis-sub001/mapping"
	"github.com/JinHo-von-Choi/nuvatis-sub001/resultmap"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// outcome is what a pipeline run hands back to the public API. It never
// references pooled state.
type outcome struct {
	value    reflect.Value // materialized slice, selects only
	affected int64
	sql      string
}

// loader is implemented by caches able to collapse concurrent misses,
// such as cache.Manager.
type loader interface {
	Load(ctx context.Context, namespace string, key uint64, fill func(context.Context) ([]byte, error)) ([]byte, bool, error)
}

// run executes statement id through the interceptor chain.
func (e *Engine) run(ctx context.Context, eq dialect.ExecQuerier, id string, param any) (outcome, error) {
	st, err := e.registry.Statement(id)
	if err != nil {
		return outcome{}, err
	}
	if eq == nil {
		return outcome{}, nuvatis.WrapStatementError(st.QualifiedID(), "", ErrNoDriver)
	}
	ec := e.contexts.Get()
	defer e.contexts.Put(ec)
	args := e.args.Get()
	defer e.args.Put(args)

	ec.ID = uuid.NewString()
	ec.StatementID = st.QualifiedID()
	ec.Namespace = st.Namespace
	ec.Kind = st.Kind
	ec.Param = param
	ec.Started = time.Now()
	ec.Stage = nuvatis.StageBeforeHooks

	entered := 0
	for _, ic := range e.interceptors {
		if err = ic.BeforeExecute(ctx, ec); err != nil {
			break
		}
		entered++
	}
	var value reflect.Value
	if err == nil {
		value, err = e.execute(ctx, eq, st, ec, args)
	}
	ec.Elapsed = time.Since(ec.Started)
	ec.Err = err
	if value.IsValid() {
		ec.Result = value.Interface()
	}
	if err == nil {
		ec.Stage = nuvatis.StageAfterHooks
	}
	for i := entered - 1; i >= 0; i-- {
		e.interceptors[i].AfterExecute(ctx, ec)
	}
	out := outcome{value: value, affected: ec.RowsAffected, sql: ec.SQL}
	if err != nil {
		return out, nuvatis.WrapStatementError(ec.StatementID, ec.SQL, err)
	}
	ec.Stage = nuvatis.StageCompleted
	return out, nil
}

func (e *Engine) execute(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, ec *nuvatis.ExecContext, args *[]any) (reflect.Value, error) {
	if err := checkParam(st, ec.Param); err != nil {
		return reflect.Value{}, err
	}
	if st.Kind.IsMutation() {
		return reflect.Value{}, e.mutate(ctx, eq, st, ec, args)
	}
	return e.query(ctx, eq, st, ec, args)
}

// checkParam rejects parameters that do not match the declared parameter
// type. Pointers to the declared type are accepted.
func checkParam(st *mapping.Statement, param any) error {
	if st.ParameterType == nil || param == nil {
		return nil
	}
	t := reflect.TypeOf(param)
	if t.AssignableTo(st.ParameterType) || (t.Kind() == reflect.Pointer && t.Elem().AssignableTo(st.ParameterType)) {
		return nil
	}
	return nuvatis.NewBindingError("", "parameter of type %s, want %s", t, st.ParameterType)
}

// render renders root against param and binds its values into args.
func (e *Engine) render(root dynsql.Node, param any, args *[]any) (string, []any, error) {
	r, err := e.renderer.Render(root, param)
	if err != nil {
		return "", nil, err
	}
	bound, err := e.binder.Bind(r.Paths, r.Scope, param, (*args)[:0])
	*args = bound
	if err != nil {
		return r.SQL, nil, err
	}
	return r.SQL, bound, nil
}

func (e *Engine) query(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, ec *nuvatis.ExecContext, args *[]any) (reflect.Value, error) {
	ec.Stage = nuvatis.StageRender
	query, bound, err := e.render(st.SQL, ec.Param, args)
	ec.SQL, ec.Args = query, bound
	if err != nil {
		return reflect.Value{}, err
	}
	var v reflect.Value
	if e.cacheable(eq, st) {
		v, err = e.cached(ctx, eq, st, ec)
	} else {
		v, err = e.fetch(ctx, eq, st, ec)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	ec.RowsAffected = int64(v.Len())
	if st.FlushCache {
		e.invalidate(ctx, st.Namespace)
	}
	return v, nil
}

// switchable is implemented by caches able to turn regions off, such as
// cache.Manager.
type switchable interface {
	Enabled(namespace string) bool
}

func (e *Engine) cacheable(eq dialect.ExecQuerier, st *mapping.Statement) bool {
	if e.cache == nil || !st.UseCache || !e.registry.Cache(st.Namespace).Enabled {
		return false
	}
	if sc, ok := eq.(*sessionConn); ok && sc.session.touched(st.Namespace) {
		return false
	}
	if s, ok := e.cache.(switchable); ok {
		return s.Enabled(st.Namespace)
	}
	return true
}

// fetch runs the select and materializes its rows. Rows are read and
// closed before mapping, so deferred sub-selects can reuse the connection.
func (e *Engine) fetch(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, ec *nuvatis.ExecContext) (reflect.Value, error) {
	ec.Stage = nuvatis.StageExecute
	rs, err := e.readRows(ctx, eq, st.Timeout, ec.SQL, ec.Args)
	if err != nil {
		return reflect.Value{}, err
	}
	ec.Stage = nuvatis.StageMaterialize
	return e.mapper.Map(ctx, rs, st.Target(), e.subQuerier(eq))
}

func (e *Engine) readRows(ctx context.Context, eq dialect.ExecQuerier, timeout time.Duration, query string, args []any) (*resultmap.RowSet, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	rows := &dsql.Rows{}
	if err := eq.Query(ctx, query, args, rows); err != nil {
		return nil, &nuvatis.ExecutionError{Err: err}
	}
	rs, err := resultmap.ReadRows(rows)
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, &nuvatis.ExecutionError{Err: err}
	}
	return rs, nil
}

// cached serves the select from the namespace region, filling it on a
// miss.
func (e *Engine) cached(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, ec *nuvatis.ExecContext) (reflect.Value, error) {
	ec.Stage = nuvatis.StageCacheLookup
	key, err := cache.Key(st.Namespace, ec.StatementID, ec.SQL, ec.Args)
	if err != nil {
		e.uncacheable(ctx, ec, err)
		return e.fetch(ctx, eq, st, ec)
	}
	typ := reflect.SliceOf(st.Target().ElemType())

	if l, ok := e.cache.(loader); ok {
		var fresh reflect.Value
		data, hit, err := l.Load(ctx, st.Namespace, key, func(ctx context.Context) ([]byte, error) {
			v, err := e.fetch(ctx, eq, st, ec)
			if err != nil {
				return nil, err
			}
			fresh = v
			ec.Stage = nuvatis.StageCacheStore
			data, err := cache.Encode(v.Interface())
			if err != nil {
				return nil, &snapshotError{err}
			}
			return data, nil
		})
		var se *snapshotError
		switch {
		case err == nil && !hit:
			return fresh, nil
		case err == nil:
			return e.decode(ctx, eq, st, ec, data, typ)
		case errors.As(err, &se) && fresh.IsValid():
			e.uncacheable(ctx, ec, se.err)
			return fresh, nil
		case errors.As(err, &se):
			return e.fetch(ctx, eq, st, ec)
		}
		return reflect.Value{}, err
	}

	data, epoch, ok := e.cache.Get(ctx, st.Namespace, key)
	if ok {
		return e.decode(ctx, eq, st, ec, data, typ)
	}
	v, err := e.fetch(ctx, eq, st, ec)
	if err != nil {
		return reflect.Value{}, err
	}
	ec.Stage = nuvatis.StageCacheStore
	if data, err = cache.Encode(v.Interface()); err != nil {
		e.uncacheable(ctx, ec, err)
		return v, nil
	}
	e.cache.Put(ctx, st.Namespace, key, epoch, data)
	return v, nil
}

// decode restores a cached snapshot. Snapshots that no longer decode into
// the target type are bypassed.
func (e *Engine) decode(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, ec *nuvatis.ExecContext, data []byte, typ reflect.Type) (reflect.Value, error) {
	v, err := cache.Decode(data, typ)
	if err != nil {
		e.logger.WarnContext(ctx, "discarding cached result",
			slog.String("statement", ec.StatementID),
			slog.Any("error", err),
		)
		return e.fetch(ctx, eq, st, ec)
	}
	ec.CacheHit = true
	return v, nil
}

func (e *Engine) uncacheable(ctx context.Context, ec *nuvatis.ExecContext, err error) {
	e.logger.WarnContext(ctx, "statement result not cacheable",
		slog.String("statement", ec.StatementID),
		slog.Any("error", err),
	)
}

type snapshotError struct{ err error }

func (e *snapshotError) Error() string { return e.err.Error() }

func (e *Engine) invalidate(ctx context.Context, namespace string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, namespace)
	}
}

func (e *Engine) mutate(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, ec *nuvatis.ExecContext, args *[]any) error {
	kg := st.KeyGeneration
	if kg != nil && kg.Timing == mapping.KeyBefore {
		ec.Stage = nuvatis.StagePreKey
		if err := e.selectKey(ctx, eq, st, ec.Param); err != nil {
			return err
		}
	}
	ec.Stage = nuvatis.StageRender
	query, bound, err := e.render(st.SQL, ec.Param, args)
	ec.SQL, ec.Args = query, bound
	if err != nil {
		return err
	}

	ec.Stage = nuvatis.StageExecute
	res, err := e.exec(ctx, eq, st.Timeout, ec.SQL, ec.Args)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		ec.RowsAffected = n
	}
	if sc, ok := eq.(*sessionConn); ok {
		sc.session.touch(st.Namespace)
	}
	e.invalidate(ctx, st.Namespace)

	if kg == nil || kg.Timing != mapping.KeyAfter {
		return nil
	}
	ec.Stage = nuvatis.StagePostKey
	if kg.SQL != nil {
		return e.selectKey(ctx, eq, st, ec.Param)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &nuvatis.ExecutionError{Err: fmt.Errorf("last insert id: %w", err)}
	}
	return e.setKey(kg, ec.Param, id)
}

func (e *Engine) exec(ctx context.Context, eq dialect.ExecQuerier, timeout time.Duration, query string, args []any) (sql.Result, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	var res sql.Result
	if err := eq.Exec(ctx, query, args, &res); err != nil {
		return nil, &nuvatis.ExecutionError{Err: err}
	}
	return res, nil
}

// selectKey runs the key statement and stores its first column into the
// key property.
func (e *Engine) selectKey(ctx context.Context, eq dialect.ExecQuerier, st *mapping.Statement, param any) error {
	kg := st.KeyGeneration
	var buf []any
	query, args, err := e.render(kg.SQL, param, &buf)
	if err != nil {
		return err
	}
	rs, err := e.readRows(ctx, eq, st.Timeout, query, args)
	if err != nil {
		return err
	}
	if rs.Len() == 0 || len(rs.Columns) == 0 {
		return &nuvatis.ExecutionError{Err: fmt.Errorf("key statement for %q returned no rows", kg.Property)}
	}
	return e.setKey(kg, param, rs.Rows[0].Value(0))
}

func (e *Engine) setKey(kg *mapping.KeyGeneration, param, v any) error {
	if kg.ResultType != nil {
		cv, err := typehandler.Convert(v, kg.ResultType)
		if err != nil {
			return &nuvatis.TypeConversionError{Property: kg.Property, Err: err}
		}
		v = cv
	}
	if err := e.resolver.Set(param, kg.Property, v); err != nil {
		return &nuvatis.TypeConversionError{Property: kg.Property, Err: err}
	}
	return nil
}

// subQuerier runs the deferred selects of result maps through the same
// connection as the parent statement.
func (e *Engine) subQuerier(eq dialect.ExecQuerier) resultmap.SubQuerier {
	return resultmap.SubQuerierFunc(func(ctx context.Context, statement string, param any, elem reflect.Type) (reflect.Value, error) {
		out, err := e.run(ctx, eq, statement, param)
		if err != nil {
			return reflect.Value{}, err
		}
		dst := reflect.New(reflect.SliceOf(elem)).Elem()
		if err := assignSlice(dst, out.value); err != nil {
			return reflect.Value{}, err
		}
		return dst, nil
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
