package resultmap

import (
	"context"
	"fmt"
	"reflect"
)

// SubQuerier runs the nested statements of deferred associations and
// collections. The result is a slice of elem.
type SubQuerier interface {
	SubQuery(ctx context.Context, statement string, param any, elem reflect.Type) (reflect.Value, error)
}

// SubQuerierFunc adapts a function to SubQuerier.
type SubQuerierFunc func(ctx context.Context, statement string, param any, elem reflect.Type) (reflect.Value, error)

// SubQuery implements SubQuerier.
func (f SubQuerierFunc) SubQuery(ctx context.Context, statement string, param any, elem reflect.Type) (reflect.Value, error) {
	return f(ctx, statement, param, elem)
}

// LoadFunc loads the value for one key.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Loader memoizes a LoadFunc. Each key is loaded at most once, errors
// included. A Loader lives for one materialization and is not safe for
// concurrent use.
type Loader[K comparable, V any] struct {
	fn      LoadFunc[K, V]
	results map[K]loadResult[V]
	calls   int
}

type loadResult[V any] struct {
	value V
	err   error
}

// NewLoader returns a Loader calling fn on misses.
func NewLoader[K comparable, V any](fn LoadFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{fn: fn, results: make(map[K]loadResult[V])}
}

// Load returns the memoized value for key, loading it on first use.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	if r, ok := l.results[key]; ok {
		return r.value, r.err
	}
	l.calls++
	v, err := l.fn(ctx, key)
	l.results[key] = loadResult[V]{value: v, err: err}
	return v, err
}

// Prime stores a known value for key.
func (l *Loader[K, V]) Prime(key K, v V) {
	l.results[key] = loadResult[V]{value: v}
}

// Clear forgets key.
func (l *Loader[K, V]) Clear(key K) {
	delete(l.results, key)
}

// Calls returns how many times the LoadFunc ran.
func (l *Loader[K, V]) Calls() int { return l.calls }

// subKey identifies one deferred sub-select.
type subKey struct {
	statement string
	elem      reflect.Type
	param     string
}

type subRequest struct {
	param any
}

// subLoader memoizes deferred sub-selects by statement and parameter value.
type subLoader struct {
	sub     SubQuerier
	loader  *Loader[subKey, reflect.Value]
	pending map[subKey]subRequest
}

func newSubLoader(sub SubQuerier) *subLoader {
	s := &subLoader{sub: sub, pending: make(map[subKey]subRequest)}
	s.loader = NewLoader(func(ctx context.Context, k subKey) (reflect.Value, error) {
		req := s.pending[k]
		delete(s.pending, k)
		return s.sub.SubQuery(ctx, k.statement, req.param, k.elem)
	})
	return s
}

func (s *subLoader) load(ctx context.Context, statement string, param any, elem reflect.Type) (reflect.Value, error) {
	if s.sub == nil {
		return reflect.Value{}, fmt.Errorf("resultmap: no sub querier for nested select %q", statement)
	}
	k := subKey{statement: statement, elem: elem, param: identity(param)}
	if _, ok := s.loader.results[k]; !ok {
		s.pending[k] = subRequest{param: param}
	}
	return s.loader.Load(ctx, k)
}

// identity formats v so equal column values yield equal keys.
func identity(v any) string {
	switch v := v.(type) {
	case nil:
		return "\x00nil"
	case []byte:
		return "b:" + string(v)
	case string:
		return "s:" + v
	}
	return fmt.Sprintf("%T:%v", v, v)
}
