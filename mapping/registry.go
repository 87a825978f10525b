package mapping

import (
	"maps"
	"reflect"
	"slices"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/resultmap"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// Registry owns the statements and result maps of a configuration. It is
// read-only once built and safe for concurrent use.
type Registry struct {
	statements map[string]*Statement
	resultMaps map[string]*resultmap.ResultMap
	aliases    map[string]reflect.Type
	caches     map[string]nuvatis.CacheConfig
	handlers   *typehandler.Registry
	namespaces []string
}

// Statement returns the statement with the qualified id.
func (r *Registry) Statement(id string) (*Statement, error) {
	st, ok := r.statements[id]
	if !ok {
		return nil, &nuvatis.StatementNotFoundError{ID: id}
	}
	return st, nil
}

// Statements returns every statement ordered by qualified id.
func (r *Registry) Statements() []*Statement {
	out := make([]*Statement, 0, len(r.statements))
	for _, id := range slices.Sorted(maps.Keys(r.statements)) {
		out = append(out, r.statements[id])
	}
	return out
}

// Len returns the number of statements.
func (r *Registry) Len() int { return len(r.statements) }

// ResultMap returns the flattened result map with the qualified id.
func (r *Registry) ResultMap(id string) (*resultmap.ResultMap, bool) {
	rm, ok := r.resultMaps[id]
	return rm, ok
}

// Alias returns the type registered under name.
func (r *Registry) Alias(name string) (reflect.Type, bool) {
	t, ok := r.aliases[name]
	return t, ok
}

// Namespaces returns the namespaces that declare statements or cache
// settings, sorted.
func (r *Registry) Namespaces() []string { return r.namespaces }

// Cache returns the cache configuration of namespace. Namespaces without
// one have caching disabled.
func (r *Registry) Cache(namespace string) nuvatis.CacheConfig {
	return r.caches[namespace]
}

// TypeHandlers returns the handler registry the definitions were checked
// against. It may be nil.
func (r *Registry) TypeHandlers() *typehandler.Registry { return r.handlers }

func namespaces(r *Registry) []string {
	set := make(map[string]struct{}, len(r.caches))
	for ns := range r.caches {
		set[ns] = struct{}{}
	}
	for _, st := range r.statements {
		set[st.Namespace] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}
