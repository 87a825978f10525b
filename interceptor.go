package nuvatis

import (
	"context"
	"time"
)

// Stage identifies how far an invocation progressed through the pipeline.
type Stage uint8

// Pipeline stages, in execution order.
const (
	StageStart Stage = iota
	StageBeforeHooks
	StageRender
	StageCacheLookup
	StagePreKey
	StageExecute
	StagePostKey
	StageMaterialize
	StageCacheStore
	StageAfterHooks
	StageCompleted
)

var stageNames = [...]string{
	"start", "before-hooks", "render", "cache-lookup", "pre-key",
	"execute", "post-key", "materialize", "cache-store", "after-hooks",
	"completed",
}

// String returns the stage name.
func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// ExecContext is the per-invocation state shared with interceptors.
//
// Contexts are pooled: an interceptor must not retain an ExecContext, or
// anything reachable only through it, after AfterExecute returns.
type ExecContext struct {
	ID           string // Unique invocation id
	StatementID  string // Qualified namespace.id
	Namespace    string
	Kind         Kind
	SQL          string // Rendered SQL, empty until rendering completes
	Args         []any  // Bound values in placeholder order
	Param        any    // Caller supplied parameter object
	Started      time.Time
	Elapsed      time.Duration
	RowsAffected int64
	Result       any // Materialized result for selects
	CacheHit     bool
	Stage        Stage // Stage reached; the failing stage when Err is set
	Err          error

	values map[string]any
}

// Set stores a value in the context's bag. Interceptors use it to pass
// state from BeforeExecute to AfterExecute.
func (c *ExecContext) Set(key string, v any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Get returns a value previously stored with Set.
func (c *ExecContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Delete removes a value from the bag.
func (c *ExecContext) Delete(key string) {
	delete(c.values, key)
}

// Reset clears every field so the context can be reused. The bag map is
// kept and emptied.
func (c *ExecContext) Reset() {
	values := c.values
	clear(values)
	*c = ExecContext{values: values}
}

// Interceptor observes statement execution. BeforeExecute hooks run in
// registration order, AfterExecute hooks in reverse order, so the first
// registered interceptor wraps all others.
type Interceptor interface {
	// BeforeExecute runs before any SQL is rendered or executed. A non-nil
	// error aborts the invocation.
	BeforeExecute(ctx context.Context, ec *ExecContext) error
	// AfterExecute runs once the result or error is known. ec.Err holds
	// the failure, if any.
	AfterExecute(ctx context.Context, ec *ExecContext)
}

// InterceptorFuncs adapts a pair of functions to the Interceptor interface.
// Either function may be nil.
type InterceptorFuncs struct {
	Before func(context.Context, *ExecContext) error
	After  func(context.Context, *ExecContext)
}

// BeforeExecute calls f.Before if set.
func (f InterceptorFuncs) BeforeExecute(ctx context.Context, ec *ExecContext) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, ec)
}

// AfterExecute calls f.After if set.
func (f InterceptorFuncs) AfterExecute(ctx context.Context, ec *ExecContext) {
	if f.After != nil {
		f.After(ctx, ec)
	}
}

// BeforeFunc is an adapter to use an ordinary function as a before-only interceptor.
type BeforeFunc func(context.Context, *ExecContext) error

// BeforeExecute returns f(ctx, ec).
func (f BeforeFunc) BeforeExecute(ctx context.Context, ec *ExecContext) error { return f(ctx, ec) }

// AfterExecute does nothing.
func (BeforeFunc) AfterExecute(context.Context, *ExecContext) {}

// AfterFunc is an adapter to use an ordinary function as an after-only interceptor.
type AfterFunc func(context.Context, *ExecContext)

// BeforeExecute does nothing.
func (AfterFunc) BeforeExecute(context.Context, *ExecContext) error { return nil }

// AfterExecute calls f(ctx, ec).
func (f AfterFunc) AfterExecute(ctx context.Context, ec *ExecContext) { f(ctx, ec) }

var (
	_ Interceptor = InterceptorFuncs{}
	_ Interceptor = BeforeFunc(nil)
	_ Interceptor = AfterFunc(nil)
)
