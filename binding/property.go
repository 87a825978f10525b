// Package binding resolves property paths against parameter objects, turns
// recorded placeholder paths into positional bind values and validates values
// used for literal substitution.
package binding

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// Resolver resolves dotted property paths ("a.b.c", "items[0].name") against
// structs, maps, slices and pointers. Field lookups and parsed paths are
// cached; the shape of a type never changes between calls.
type Resolver struct {
	fields sync.Map // key: fieldKey -> fieldEntry
	index  sync.Map // key: reflect.Type -> *structIndex
	paths  sync.Map // key: string -> []segment
}

// NewResolver returns a resolver with empty caches.
func NewResolver() *Resolver { return &Resolver{} }

var (
	defaultResolver     *Resolver
	defaultResolverOnce sync.Once
)

// DefaultResolver returns the process-wide resolver.
func DefaultResolver() *Resolver {
	defaultResolverOnce.Do(func() { defaultResolver = NewResolver() })
	return defaultResolver
}

type fieldKey struct {
	t    reflect.Type
	name string
}

type fieldEntry struct {
	index []int
	ok    bool
}

type segment struct {
	name    string
	indexes []int
}

// Field describes one settable property of a struct type.
type Field struct {
	Name  string // Go field name
	Tag   string // db tag name, if any
	Index []int
	Type  reflect.Type
}

type structIndex struct {
	byName map[string][]int
	fields []Field
}

// Resolve returns the value at path. ok is false when any segment is
// missing or traverses a nil value; missing values never raise.
func (r *Resolver) Resolve(root any, path string) (any, bool) {
	segs, err := r.parse(path)
	if err != nil {
		return nil, false
	}
	v, ok := r.walk(reflect.ValueOf(root), segs, true)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

// ResolveValue is like Resolve but returns the reflect.Value. The value is
// the dereferenced leaf; it is invalid when ok is false.
func (r *Resolver) ResolveValue(root reflect.Value, path string) (reflect.Value, bool) {
	segs, err := r.parse(path)
	if err != nil {
		return reflect.Value{}, false
	}
	return r.walk(root, segs, true)
}

// Split returns the first segment name of path and the remainder.
func Split(path string) (head, rest string) {
	end := len(path)
	if i := strings.IndexAny(path, ".["); i >= 0 {
		end = i
	}
	head = path[:end]
	rest = strings.TrimPrefix(path[end:], ".")
	return head, rest
}

// ValidatePath reports whether path is syntactically valid.
func (r *Resolver) ValidatePath(path string) error {
	_, err := r.parse(path)
	return err
}

func (r *Resolver) walk(v reflect.Value, segs []segment, loose bool) (reflect.Value, bool) {
	for i, seg := range segs {
		v = indirect(v)
		if !v.IsValid() {
			return reflect.Value{}, false
		}
		next, ok := r.child(v, seg.name)
		if !ok {
			// A scalar or sequence root stands for any first segment name.
			if loose && i == 0 && !isContainer(v) {
				next, ok = v, true
			} else {
				return reflect.Value{}, false
			}
		}
		if v, ok = index(next, seg.indexes); !ok {
			return reflect.Value{}, false
		}
	}
	v = indirect(v)
	return v, v.IsValid()
}

func index(v reflect.Value, indexes []int) (reflect.Value, bool) {
	for _, idx := range indexes {
		v = indirect(v)
		if !v.IsValid() {
			return reflect.Value{}, false
		}
		switch v.Kind() {
		case reflect.Slice, reflect.Array, reflect.String:
			if idx < 0 || idx >= v.Len() {
				return reflect.Value{}, false
			}
			v = v.Index(idx)
		default:
			return reflect.Value{}, false
		}
	}
	return v, true
}

// Lookup resolves path against scope first. When the first segment of path
// names a scope entry, the rest of the path (indexes included) is resolved
// against that entry; otherwise the whole path is resolved against root.
func (r *Resolver) Lookup(path string, scope map[string]any, root any) (any, bool) {
	if len(scope) > 0 {
		head, _ := Split(path)
		if sv, ok := scope[head]; ok {
			segs, err := r.parse(path)
			if err != nil {
				return nil, false
			}
			v, ok := index(reflect.ValueOf(sv), segs[0].indexes)
			if !ok {
				return nil, false
			}
			if v, ok = r.walk(v, segs[1:], false); !ok {
				return nil, false
			}
			return v.Interface(), true
		}
	}
	return r.Resolve(root, path)
}

func (r *Resolver) child(v reflect.Value, name string) (reflect.Value, bool) {
	switch v.Kind() {
	case reflect.Map:
		kt := v.Type().Key()
		if kt.Kind() != reflect.String {
			return reflect.Value{}, false
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(kt))
		if !mv.IsValid() {
			return reflect.Value{}, false
		}
		return mv, true
	case reflect.Struct:
		idx, ok := r.FieldIndex(v.Type(), name)
		if !ok {
			return reflect.Value{}, false
		}
		fv, err := v.FieldByIndexErr(idx)
		if err != nil {
			return reflect.Value{}, false
		}
		return fv, true
	}
	return reflect.Value{}, false
}

// FieldIndex returns the index path of the field matching name, by db tag
// or field name, case-insensitively.
func (r *Resolver) FieldIndex(t reflect.Type, name string) ([]int, bool) {
	key := fieldKey{t: t, name: name}
	if e, ok := r.fields.Load(key); ok {
		fe := e.(fieldEntry)
		return fe.index, fe.ok
	}
	si := r.structIndex(t)
	idx, ok := si.byName[name]
	if !ok {
		idx, ok = si.byName[strings.ToLower(name)]
	}
	r.fields.Store(key, fieldEntry{index: idx, ok: ok})
	return idx, ok
}

// Fields returns the settable fields of struct type t in declaration order,
// embedded structs flattened.
func (r *Resolver) Fields(t reflect.Type) []Field {
	return r.structIndex(t).fields
}

func (r *Resolver) structIndex(t reflect.Type) *structIndex {
	if v, ok := r.index.Load(t); ok {
		return v.(*structIndex)
	}
	si := buildStructIndex(t)
	v, _ := r.index.LoadOrStore(t, si)
	return v.(*structIndex)
}

func buildStructIndex(rt reflect.Type) *structIndex {
	si := &structIndex{byName: make(map[string][]int)}
	add := func(name string, path []int) {
		if name == "" {
			return
		}
		if _, ok := si.byName[name]; !ok {
			si.byName[name] = path
		}
		lc := strings.ToLower(name)
		if _, ok := si.byName[lc]; !ok {
			si.byName[lc] = path
		}
	}
	var walk func(t reflect.Type, base []int)
	walk = func(t reflect.Type, base []int) {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			return
		}
		for i := range t.NumField() {
			sf := t.Field(i)
			if !sf.IsExported() && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			if tag == "-" {
				continue
			}
			name, _, _ := strings.Cut(tag, ",")
			path := append(append([]int(nil), base...), i)
			ft := sf.Type
			for ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if sf.Anonymous && name == "" && ft.Kind() == reflect.Struct {
				walk(sf.Type, path)
				continue
			}
			if !sf.IsExported() {
				continue
			}
			si.fields = append(si.fields, Field{Name: sf.Name, Tag: name, Index: path, Type: sf.Type})
			add(name, path)
			add(sf.Name, path)
		}
	}
	walk(rt, nil)
	return si
}

func (r *Resolver) parse(path string) ([]segment, error) {
	if v, ok := r.paths.Load(path); ok {
		return v.([]segment), nil
	}
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	r.paths.Store(path, segs)
	return segs, nil
}

func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty property path")
	}
	var segs []segment
	for part := range strings.SplitSeq(path, ".") {
		name, rest, indexed := strings.Cut(part, "[")
		if name == "" || !isIdent(name) {
			return nil, fmt.Errorf("invalid property path %q", path)
		}
		seg := segment{name: name}
		if indexed {
			rest = "[" + rest
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("invalid index in property path %q", path)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("unclosed index in property path %q", path)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil {
					return nil, fmt.Errorf("invalid index in property path %q", path)
				}
				seg.indexes = append(seg.indexes, n)
				rest = rest[end+1:]
			}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isContainer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		return true
	}
	return false
}

// Set assigns value to path inside root, which must be a non-nil pointer or
// a map. Nil pointers and maps along the way are allocated. The value is
// converted with the default scalar rules when its type differs.
func (r *Resolver) Set(root any, path string, value any) error {
	segs, err := r.parse(path)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(root)
	if v.Kind() == reflect.Map {
		return r.setMap(v, segs, value)
	}
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("binding: set %q: target must be a non-nil pointer or map, got %T", path, root)
	}
	v = v.Elem()
	for i, seg := range segs {
		last := i == len(segs)-1
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() == reflect.Interface && !v.IsNil() {
			inner := v.Elem()
			if inner.Kind() == reflect.Map || inner.Kind() == reflect.Pointer {
				return r.Set(inner.Interface(), joinSegments(segs[i:]), value)
			}
		}
		switch v.Kind() {
		case reflect.Map:
			if v.IsNil() && v.CanSet() {
				v.Set(reflect.MakeMap(v.Type()))
			}
			return r.setMap(v, segs[i:], value)
		case reflect.Struct:
			idx, ok := r.FieldIndex(v.Type(), seg.name)
			if !ok {
				return fmt.Errorf("binding: set %q: no property %q on %s", path, seg.name, v.Type())
			}
			fv := FieldByIndexAlloc(v, idx)
			if len(seg.indexes) > 0 {
				return fmt.Errorf("binding: set %q: indexed assignment is not supported", path)
			}
			if last {
				return typehandler.Assign(fv, value)
			}
			v = fv
		default:
			return fmt.Errorf("binding: set %q: cannot traverse %s", path, v.Type())
		}
	}
	return nil
}

func (r *Resolver) setMap(m reflect.Value, segs []segment, value any) error {
	if m.IsNil() {
		return fmt.Errorf("binding: set on nil map")
	}
	kt, et := m.Type().Key(), m.Type().Elem()
	if kt.Kind() != reflect.String {
		return fmt.Errorf("binding: map key must be a string, got %s", kt)
	}
	key := reflect.ValueOf(segs[0].name).Convert(kt)
	if len(segs) > 1 {
		child := m.MapIndex(key)
		if !child.IsValid() || (child.Kind() == reflect.Interface && child.IsNil()) {
			if et.Kind() != reflect.Interface {
				return fmt.Errorf("binding: set: missing intermediate key %q", segs[0].name)
			}
			child = reflect.ValueOf(map[string]any{})
			m.SetMapIndex(key, child)
		}
		return r.Set(child.Interface(), joinSegments(segs[1:]), value)
	}
	ev := reflect.New(et).Elem()
	if err := typehandler.Assign(ev, value); err != nil {
		return err
	}
	m.SetMapIndex(key, ev)
	return nil
}

func joinSegments(segs []segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		var sb strings.Builder
		sb.WriteString(s.name)
		for _, idx := range s.indexes {
			fmt.Fprintf(&sb, "[%d]", idx)
		}
		parts[i] = sb.String()
	}
	return strings.Join(parts, ".")
}

// FieldByIndexAlloc walks index, allocating nil embedded pointers so the
// final field is settable.
func FieldByIndexAlloc(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 {
			for v.Kind() == reflect.Pointer {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v
}
