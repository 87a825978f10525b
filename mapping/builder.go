package mapping

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dynsql"
	"github.com/JinHo-von-Choi/nuvatis-sub001/resultmap"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// defaultAliases are registered by every Builder.
var defaultAliases = map[string]reflect.Type{
	"string":  reflect.TypeFor[string](),
	"int":     reflect.TypeFor[int](),
	"int64":   reflect.TypeFor[int64](),
	"float64": reflect.TypeFor[float64](),
	"bool":    reflect.TypeFor[bool](),
	"bytes":   reflect.TypeFor[[]byte](),
	"time":    reflect.TypeFor[time.Time](),
	"map":     reflect.TypeFor[map[string]any](),
}

// Builder collects definitions and builds a Registry. It is not safe for
// concurrent use.
type Builder struct {
	fragments  *dynsql.Fragments
	statements []*Statement
	resultMaps []nsResultMap
	aliases    map[string]reflect.Type
	caches     map[string]nuvatis.CacheConfig
	handlers   *typehandler.Registry
	resolver   *binding.Resolver
	errs       []error
}

type nsResultMap struct {
	ns string
	rm *resultmap.ResultMap
}

// NewBuilder returns an empty Builder with the default type aliases.
func NewBuilder() *Builder {
	return &Builder{
		fragments: dynsql.NewFragments(),
		aliases:   maps.Clone(defaultAliases),
		caches:    make(map[string]nuvatis.CacheConfig),
		resolver:  binding.DefaultResolver(),
	}
}

// TypeHandlers sets the registry named type handlers are checked against.
func (b *Builder) TypeHandlers(h *typehandler.Registry) *Builder {
	b.handlers = h
	return b
}

// Alias registers a short name for a Go type. Rebinding a name to another
// type is a configuration error.
func (b *Builder) Alias(name string, t reflect.Type) *Builder {
	switch prev, ok := b.aliases[name]; {
	case name == "" || t == nil:
		b.errs = append(b.errs, nuvatis.NewConfigurationError(name, "type alias needs a name and a type"))
	case ok && prev != t && defaultAliases[name] != prev:
		b.errs = append(b.errs, nuvatis.NewConfigurationError(name, "type alias already bound to %s", prev))
	default:
		b.aliases[name] = t
	}
	return b
}

// Fragment registers a reusable SQL fragment.
func (b *Builder) Fragment(namespace, id string, n dynsql.Node) *Builder {
	if err := b.fragments.Add(namespace, id, n); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// ResultMap registers rm in namespace. rm.ID is local to the namespace.
func (b *Builder) ResultMap(namespace string, rm *resultmap.ResultMap) *Builder {
	b.resultMaps = append(b.resultMaps, nsResultMap{ns: namespace, rm: rm})
	return b
}

// Statement registers a statement. The statement is copied when the
// registry is built.
func (b *Builder) Statement(st *Statement) *Builder {
	b.statements = append(b.statements, st)
	return b
}

// Cache sets the cache configuration of a namespace.
func (b *Builder) Cache(namespace string, cfg nuvatis.CacheConfig) *Builder {
	b.caches[namespace] = cfg
	return b
}

// Add registers every definition of a namespace. Statements without a
// namespace are placed in it.
func (b *Builder) Add(ns Namespace) *Builder {
	if ns.Name == "" {
		b.errs = append(b.errs, nuvatis.NewConfigurationError("", "namespace without a name"))
		return b
	}
	if ns.Cache != nil {
		b.Cache(ns.Name, *ns.Cache)
	}
	for _, id := range slices.Sorted(maps.Keys(ns.Fragments)) {
		b.Fragment(ns.Name, id, ns.Fragments[id])
	}
	for _, rm := range ns.ResultMaps {
		b.ResultMap(ns.Name, rm)
	}
	for _, st := range ns.Statements {
		switch {
		case st.Namespace == "":
			cp := *st
			cp.Namespace = ns.Name
			st = &cp
		case st.Namespace != ns.Name:
			b.errs = append(b.errs, nuvatis.NewConfigurationError(st.QualifiedID(), "statement declared in namespace %q", ns.Name))
			continue
		}
		b.Statement(st)
	}
	return b
}

// Build validates every definition and returns the registry. All problems
// found are reported together.
func (b *Builder) Build() (*Registry, error) {
	errs := slices.Clone(b.errs)
	if err := b.fragments.ResolveAll(); err != nil {
		errs = append(errs, err)
	}
	r := &Registry{
		statements: make(map[string]*Statement, len(b.statements)),
		resultMaps: make(map[string]*resultmap.ResultMap, len(b.resultMaps)),
		aliases:    maps.Clone(b.aliases),
		caches:     maps.Clone(b.caches),
		handlers:   b.handlers,
	}
	raw := make(map[string]*Statement, len(b.statements))
	for _, st := range b.statements {
		qid := st.QualifiedID()
		if st.ID == "" || st.Namespace == "" {
			errs = append(errs, nuvatis.NewConfigurationError(qid, "statement needs a namespace and an id"))
			continue
		}
		if _, ok := raw[qid]; ok {
			errs = append(errs, nuvatis.NewConfigurationError(qid, "duplicate statement id"))
			continue
		}
		raw[qid] = st
	}
	errs = append(errs, b.buildResultMaps(r, raw)...)
	for _, qid := range slices.Sorted(maps.Keys(raw)) {
		st, serrs := b.buildStatement(r, raw[qid])
		errs = append(errs, serrs...)
		r.statements[qid] = st
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	r.namespaces = namespaces(r)
	return r, nil
}

// lookup finds ref in m, first relative to namespace, then as a qualified id.
func lookup[V any](m map[string]V, namespace, ref string) (string, V, bool) {
	if namespace != "" {
		qid := dynsql.Qualify(namespace, ref)
		if v, ok := m[qid]; ok {
			return qid, v, true
		}
	}
	v, ok := m[ref]
	return ref, v, ok
}

func (b *Builder) buildResultMaps(r *Registry, stmts map[string]*Statement) []error {
	var errs []error
	raw := make(map[string]nsResultMap, len(b.resultMaps))
	for _, e := range b.resultMaps {
		qid := dynsql.Qualify(e.ns, e.rm.ID)
		switch _, dup := raw[qid]; {
		case e.rm.ID == "":
			errs = append(errs, nuvatis.NewConfigurationError(e.ns, "result map without an id"))
		case dup:
			errs = append(errs, nuvatis.NewConfigurationError(qid, "duplicate result map id"))
		default:
			raw[qid] = e
		}
	}
	var (
		flat   = r.resultMaps
		failed = make(map[string]bool)
		ids    = slices.Sorted(maps.Keys(raw))
	)
	var flatten func(qid string, stack []string) (*resultmap.ResultMap, error)
	flatten = func(qid string, stack []string) (*resultmap.ResultMap, error) {
		if rm, ok := flat[qid]; ok {
			return rm, nil
		}
		if i := slices.Index(stack, qid); i >= 0 {
			return nil, nuvatis.NewCycleError(stack[i], "extends", append(slices.Clone(stack[i:]), qid))
		}
		e := raw[qid]
		rm := e.rm.Clone()
		qualifyRefs(e.ns, rm, raw, stmts)
		if e.rm.Extends != "" {
			pid, _, ok := lookup(raw, e.ns, e.rm.Extends)
			if !ok {
				failed[qid] = true
				return nil, nuvatis.NewConfigurationError(qid, "unknown parent result map %q", e.rm.Extends)
			}
			parent, err := flatten(pid, append(stack, qid))
			if err != nil {
				failed[qid] = true
				return nil, err
			}
			rm = rm.Extend(parent)
			rm.Extends = pid
		}
		rm.ID = qid
		flat[qid] = rm
		return rm, nil
	}
	for _, qid := range ids {
		if failed[qid] {
			continue
		}
		if _, err := flatten(qid, nil); err != nil {
			errs = append(errs, err)
		}
	}
	for _, qid := range ids {
		if rm, ok := flat[qid]; ok {
			errs = append(errs, b.resolveRefs(raw[qid].ns, rm, flat, stmts)...)
		}
	}
	if len(errs) == 0 {
		errs = append(errs, nestingCycles(flat)...)
	}
	return errs
}

// qualifyRefs rewrites the result map and statement references of rm to
// qualified ids, relative to the namespace rm is declared in. Inherited
// entries keep the namespace of their declaration.
func qualifyRefs(ns string, rm *resultmap.ResultMap, raw map[string]nsResultMap, stmts map[string]*Statement) {
	qualify := func(ref string, ok func(string) bool) string {
		if ref == "" {
			return ref
		}
		if qid := dynsql.Qualify(ns, ref); ok(qid) {
			return qid
		}
		return ref
	}
	isMap := func(id string) bool { _, ok := raw[id]; return ok }
	isStmt := func(id string) bool { _, ok := stmts[id]; return ok }
	for i := range rm.Associations {
		a := &rm.Associations[i]
		a.ResultMap = qualify(a.ResultMap, isMap)
		a.Select = qualify(a.Select, isStmt)
	}
	for i := range rm.Collections {
		c := &rm.Collections[i]
		c.ResultMap = qualify(c.ResultMap, isMap)
		c.Select = qualify(c.Select, isStmt)
	}
}

// resolveRefs checks the mappings of rm and points its associations and
// collections at the flattened maps they reference.
func (b *Builder) resolveRefs(ns string, rm *resultmap.ResultMap, flat map[string]*resultmap.ResultMap, stmts map[string]*Statement) []error {
	var errs []error
	fail := func(format string, a ...any) {
		errs = append(errs, nuvatis.NewConfigurationError(rm.ID, format, a...))
	}
	if rm.Type == nil {
		fail("result map has no type")
		return errs
	}
	for _, m := range rm.Mappings {
		if m.Column == "" {
			fail("mapping of %q has no column", m.Property)
		}
		if err := b.checkProperty(rm.Type, m.Property); err != nil {
			fail("mapping of column %q: %v", m.Column, err)
		}
		if m.TypeHandler != "" {
			if _, ok := b.handlers.Named(m.TypeHandler); !ok {
				fail("unknown type handler %q", m.TypeHandler)
			}
		}
	}
	selectRef := func(property, ref, column string) string {
		sid, st, ok := lookup(stmts, ns, ref)
		switch {
		case !ok:
			fail("%s: unknown statement %q", property, ref)
		case st.Kind != nuvatis.KindSelect:
			fail("%s: nested statement %q is not a select", property, sid)
		case column == "":
			fail("%s: nested select needs a column", property)
		}
		return sid
	}
	mapRef := func(property, ref string) (string, *resultmap.ResultMap) {
		id, m, ok := lookup(flat, ns, ref)
		if !ok {
			fail("%s: unknown result map %q", property, ref)
		}
		return id, m
	}
	for i := range rm.Associations {
		a := &rm.Associations[i]
		if err := b.checkProperty(rm.Type, a.Property); err != nil {
			fail("association: %v", err)
		}
		switch {
		case a.Select != "":
			a.Select = selectRef(a.Property, a.Select, a.Column)
		case a.ResultMap != "":
			a.ResultMap, a.Map = mapRef(a.Property, a.ResultMap)
		default:
			fail("association %q needs a result map or a select", a.Property)
		}
	}
	for i := range rm.Collections {
		c := &rm.Collections[i]
		if err := b.checkProperty(rm.Type, c.Property); err != nil {
			fail("collection: %v", err)
		}
		switch {
		case c.Select != "":
			c.Select = selectRef(c.Property, c.Select, c.Column)
		case c.ResultMap != "":
			c.ResultMap, c.Map = mapRef(c.Property, c.ResultMap)
		case c.Column == "":
			fail("collection %q needs a result map, a select or a column", c.Property)
		}
	}
	return errs
}

// checkProperty reports whether the dotted property exists on t. Types
// other than structs are not checked.
func (b *Builder) checkProperty(t reflect.Type, property string) error {
	if property == "" {
		return errors.New("empty property")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	for name := range strings.SplitSeq(property, ".") {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return fmt.Errorf("%s has no property %q", t, name)
		}
		idx, ok := b.resolver.FieldIndex(t, name)
		if !ok {
			return fmt.Errorf("%s has no property %q", t, name)
		}
		t = t.FieldByIndex(idx).Type
	}
	return nil
}

// nestingCycles rejects result maps that nest themselves through same-row
// associations or collections. Nested selects may recurse; they run one
// query per level.
func nestingCycles(flat map[string]*resultmap.ResultMap) []error {
	const (
		visiting = 1
		done     = 2
	)
	var (
		errs  []error
		state = make(map[string]int, len(flat))
	)
	var visit func(rm *resultmap.ResultMap, path []string) bool
	visit = func(rm *resultmap.ResultMap, path []string) bool {
		switch state[rm.ID] {
		case done:
			return true
		case visiting:
			i := slices.Index(path, rm.ID)
			errs = append(errs, nuvatis.NewCycleError(rm.ID, "result map nesting", append(slices.Clone(path[i:]), rm.ID)))
			return false
		}
		state[rm.ID] = visiting
		path = append(path, rm.ID)
		for _, a := range rm.Associations {
			if a.Map != nil && a.Select == "" && !visit(a.Map, path) {
				return false
			}
		}
		for _, c := range rm.Collections {
			if c.Map != nil && c.Select == "" && !visit(c.Map, path) {
				return false
			}
		}
		state[rm.ID] = done
		return true
	}
	for _, id := range slices.Sorted(maps.Keys(flat)) {
		if state[id] == 0 && !visit(flat[id], nil) {
			break
		}
	}
	return errs
}

func (b *Builder) buildStatement(r *Registry, src *Statement) (*Statement, []error) {
	st := *src
	qid := st.QualifiedID()
	var errs []error
	fail := func(format string, a ...any) {
		errs = append(errs, nuvatis.NewConfigurationError(qid, format, a...))
	}
	switch st.Kind {
	case nuvatis.KindSelect, nuvatis.KindInsert, nuvatis.KindUpdate, nuvatis.KindDelete:
	default:
		fail("unknown statement kind %s", st.Kind)
	}
	if st.SQL == nil {
		fail("statement has no SQL")
	} else if root, err := b.template(qid, st.Namespace, st.SQL); err != nil {
		errs = append(errs, err)
	} else {
		st.SQL = root
	}
	alias := func(name string, t *reflect.Type) {
		if name == "" {
			return
		}
		at, ok := r.aliases[name]
		switch {
		case !ok:
			fail("unknown type alias %q", name)
		case *t == nil:
			*t = at
		case *t != at:
			fail("type alias %q is %s, not %s", name, at, *t)
		}
	}
	alias(st.ResultTypeAlias, &st.ResultType)
	alias(st.ParameterTypeAlias, &st.ParameterType)
	if st.ResultMap != "" {
		id, rm, ok := lookup(r.resultMaps, st.Namespace, st.ResultMap)
		if ok {
			st.ResultMap, st.resultMap = id, rm
		} else {
			fail("unknown result map %q", st.ResultMap)
		}
	}
	if st.Kind == nuvatis.KindSelect && st.ResultMap == "" && st.ResultType == nil {
		fail("select needs a result map or a result type")
	}
	if st.Kind.IsMutation() {
		st.UseCache, st.FlushCache = false, true
	}
	if st.Timeout < 0 {
		fail("negative timeout %s", st.Timeout)
	}
	if kg := st.KeyGeneration; kg != nil {
		k := *kg
		switch {
		case st.Kind != nuvatis.KindInsert && st.Kind != nuvatis.KindUpdate:
			fail("key generation on a %s", st.Kind)
		case k.Property == "":
			fail("key generation without a property")
		case k.Timing == KeyBefore && k.SQL == nil:
			fail("key generation before execution needs SQL")
		}
		if k.SQL != nil {
			root, err := b.template(qid+"!key", st.Namespace, k.SQL)
			if err != nil {
				errs = append(errs, err)
			}
			k.SQL = root
		}
		st.KeyGeneration = &k
	}
	return &st, errs
}

// template resolves the includes of root and validates the result.
func (b *Builder) template(subject, namespace string, root dynsql.Node) (dynsql.Node, error) {
	out, err := b.fragments.Resolve(namespace, root)
	if err != nil {
		return nil, err
	}
	if err := dynsql.Validate(subject, out); err != nil {
		return nil, err
	}
	return out, nil
}
