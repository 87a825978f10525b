package binding

import (
	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// Binder turns placeholder paths recorded by the renderer into positional
// bind values.
type Binder struct {
	resolver *Resolver
	handlers *typehandler.Registry
}

// NewBinder returns a Binder. Either argument may be nil to use the
// defaults.
func NewBinder(r *Resolver, handlers *typehandler.Registry) *Binder {
	if r == nil {
		r = DefaultResolver()
	}
	return &Binder{resolver: r, handlers: handlers}
}

// Resolver returns the resolver used by the binder.
func (b *Binder) Resolver() *Resolver { return b.resolver }

// Bind resolves every path in order and appends the values to dst. Paths
// whose first segment names a scope entry are resolved against that entry
// instead of the parameter object. Missing values bind as nil.
func (b *Binder) Bind(paths []string, scope map[string]any, param any, dst []any) ([]any, error) {
	for _, path := range paths {
		v, _ := b.Lookup(path, scope, param)
		w, err := b.handlers.Write(v)
		if err != nil {
			return dst, &nuvatis.BindingError{Path: path, Msg: "write parameter", Err: err}
		}
		dst = append(dst, w)
	}
	return dst, nil
}

// Lookup resolves a single path against scope and param.
func (b *Binder) Lookup(path string, scope map[string]any, param any) (any, bool) {
	return b.resolver.Lookup(path, scope, param)
}
