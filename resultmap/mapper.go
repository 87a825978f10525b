package resultmap

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-openapi/inflect"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// Rows is the part of *sql.Rows the mapper reads.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// RowSet is a fully read result set.
type RowSet struct {
	Columns []string
	Rows    []typehandler.Row
	index   map[string]int
}

// NewRowSet returns a RowSet over the given rows. Each row must hold one
// value per column.
func NewRowSet(columns []string, rows ...[]any) *RowSet {
	rs := &RowSet{Columns: columns, Rows: make([]typehandler.Row, len(rows))}
	for i, vals := range rows {
		rs.Rows[i] = typehandler.Row{Columns: columns, Values: vals}
	}
	return rs
}

// ReadRows reads all rows. The caller still owns rows and closes it.
func ReadRows(rows Rows) (*RowSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("resultmap: columns: %w", err)
	}
	rs := &RowSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("resultmap: scan: %w", err)
		}
		rs.Rows = append(rs.Rows, typehandler.Row{Columns: cols, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resultmap: rows: %w", err)
	}
	return rs, nil
}

// Column returns the ordinal of the named column, matched
// case-insensitively.
func (rs *RowSet) Column(name string) (int, bool) {
	if rs.index == nil {
		rs.index = make(map[string]int, len(rs.Columns))
		for i := len(rs.Columns) - 1; i >= 0; i-- {
			rs.index[strings.ToLower(rs.Columns[i])] = i
		}
	}
	i, ok := rs.index[strings.ToLower(name)]
	return i, ok
}

// Len returns the number of rows.
func (rs *RowSet) Len() int { return len(rs.Rows) }

// Mapper materializes rows into objects. It is safe for concurrent use.
type Mapper struct {
	handlers *typehandler.Registry
	resolver *binding.Resolver
}

// NewMapper returns a Mapper. Either argument may be nil to use the
// defaults.
func NewMapper(handlers *typehandler.Registry, resolver *binding.Resolver) *Mapper {
	if resolver == nil {
		resolver = binding.DefaultResolver()
	}
	return &Mapper{handlers: handlers, resolver: resolver}
}

// Materialize reads rows and maps them. See Map.
func (m *Mapper) Materialize(ctx context.Context, rows Rows, t Target, sub SubQuerier) (reflect.Value, error) {
	rs, err := ReadRows(rows)
	if err != nil {
		return reflect.Value{}, err
	}
	return m.Map(ctx, rs, t, sub)
}

// Map builds one object per row, or per group of consecutive rows sharing
// the root identity when the result map has collections. The result is a
// slice of t.ElemType(). Deferred sub-selects run through sub, at most once
// per statement and parameter value.
func (m *Mapper) Map(ctx context.Context, rs *RowSet, t Target, sub SubQuerier) (reflect.Value, error) {
	elem := t.ElemType()
	if elem == nil {
		return reflect.Value{}, fmt.Errorf("resultmap: target has no type")
	}
	st := &state{
		m:     m,
		ctx:   ctx,
		rs:    rs,
		subs:  newSubLoader(sub),
		plans: make(map[planKey][]autoField),
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), 0, len(rs.Rows))
	switch {
	case t.Map != nil:
		roots, err := st.objects(t.Map)
		if err != nil {
			return reflect.Value{}, err
		}
		for _, o := range roots {
			if err := st.finalize(o); err != nil {
				return reflect.Value{}, err
			}
			v, err := asElem(o.ptr, elem)
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, v)
		}
	case m.Simple(elem):
		if len(rs.Rows) > 0 && len(rs.Columns) == 0 {
			return reflect.Value{}, fmt.Errorf("resultmap: no columns for %s", elem)
		}
		for _, row := range rs.Rows {
			dst := reflect.New(elem).Elem()
			if err := st.assign(dst, "", row, 0); err != nil {
				return reflect.Value{}, &nuvatis.TypeConversionError{Column: rs.Columns[0], Err: err}
			}
			out = reflect.Append(out, dst)
		}
	default:
		base := baseType(elem)
		for _, row := range rs.Rows {
			ptr := reflect.New(base)
			if err := st.auto(ptr.Elem(), nil, "", row); err != nil {
				return reflect.Value{}, err
			}
			v, err := asElem(ptr, elem)
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, v)
		}
	}
	return out, nil
}

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	timeType    = reflect.TypeFor[time.Time]()
)

// Simple reports whether t is read from a single column: types with a
// registered handler, scanners, time.Time and every non-struct type.
func (m *Mapper) Simple(t reflect.Type) bool {
	if _, ok := m.handlers.ForType(t); ok {
		return true
	}
	base := baseType(t)
	if _, ok := m.handlers.ForType(base); ok {
		return true
	}
	if base.Kind() != reflect.Struct || base == timeType {
		return true
	}
	return reflect.PointerTo(base).Implements(scannerType)
}

func baseType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// asElem converts a pointer to a built struct into a value of type elem.
func asElem(ptr reflect.Value, elem reflect.Type) (reflect.Value, error) {
	switch {
	case ptr.Type() == elem:
		return ptr, nil
	case ptr.Elem().Type() == elem:
		return ptr.Elem(), nil
	case elem.Kind() == reflect.Interface && ptr.Type().Implements(elem):
		return ptr, nil
	}
	return reflect.Value{}, fmt.Errorf("resultmap: cannot use %s as %s", ptr.Type(), elem)
}

// state is the per-call mapping state.
type state struct {
	m     *Mapper
	ctx   context.Context
	rs    *RowSet
	subs  *subLoader
	plans map[planKey][]autoField
}

// object is an object under construction. Associations and collection
// elements are kept aside until finalize assigns them, so value typed
// properties receive the complete nested graph.
type object struct {
	rm    *ResultMap
	ptr   reflect.Value
	assoc []*object
	items [][]item
	seen  []map[string]int
}

type item struct {
	obj *object
	val reflect.Value
}

// objects groups consecutive rows sharing the root identity.
func (st *state) objects(rm *ResultMap) ([]*object, error) {
	var (
		roots   []*object
		prev    *object
		prevKey string
		nested  = rm.Nested()
	)
	for _, row := range st.rs.Rows {
		var key string
		if nested {
			key = st.identity(rm, "", row)
			if prev != nil && key == prevKey {
				if err := st.merge(prev, "", row); err != nil {
					return nil, err
				}
				continue
			}
		}
		o, err := st.newObject(rm, "", row)
		if err != nil {
			return nil, err
		}
		if err := st.merge(o, "", row); err != nil {
			return nil, err
		}
		roots = append(roots, o)
		prev, prevKey = o, key
	}
	return roots, nil
}

// newObject builds an object from the mappings, automatic mappings and
// associations of rm.
func (st *state) newObject(rm *ResultMap, prefix string, row typehandler.Row) (*object, error) {
	if rm.Type == nil {
		return nil, fmt.Errorf("resultmap: %s has no type", rm.ID)
	}
	o := &object{
		rm:    rm,
		ptr:   reflect.New(baseType(rm.Type)),
		assoc: make([]*object, len(rm.Associations)),
		items: make([][]item, len(rm.Collections)),
		seen:  make([]map[string]int, len(rm.Collections)),
	}
	v := o.ptr.Elem()
	var mapped map[string]struct{}
	if rm.AutoMapping {
		mapped = make(map[string]struct{}, len(rm.Mappings))
	}
	for _, mp := range rm.Mappings {
		column := prefix + mp.Column
		i, ok := st.rs.Column(column)
		if !ok {
			continue
		}
		if mapped != nil {
			mapped[strings.ToLower(column)] = struct{}{}
			mapped[strings.ToLower(mp.Property)] = struct{}{}
		}
		if err := st.set(v, mp.Property, mp.TypeHandler, row, i, column); err != nil {
			return nil, err
		}
	}
	if rm.AutoMapping {
		if err := st.auto(v, mapped, prefix, row); err != nil {
			return nil, err
		}
	}
	for i, a := range rm.Associations {
		if a.Select != "" {
			if err := st.deferred(v, a.Property, a.Select, prefix+a.Column, row, false); err != nil {
				return nil, err
			}
			continue
		}
		if a.Map == nil {
			continue
		}
		ap := prefix + a.ColumnPrefix
		if st.allNull(a.Map, ap, row) {
			continue
		}
		child, err := st.newObject(a.Map, ap, row)
		if err != nil {
			return nil, err
		}
		o.assoc[i] = child
	}
	for _, c := range rm.Collections {
		if c.Select != "" {
			if err := st.deferred(v, c.Property, c.Select, prefix+c.Column, row, true); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

// merge adds the collection elements found in row to o and its
// associations. Elements are deduplicated by their own identity.
func (st *state) merge(o *object, prefix string, row typehandler.Row) error {
	for i, c := range o.rm.Collections {
		if c.Select != "" {
			continue
		}
		ep := prefix + c.ColumnPrefix
		if o.seen[i] == nil {
			o.seen[i] = make(map[string]int)
		}
		if c.Map == nil {
			if err := st.mergeScalar(o, i, c, ep, row); err != nil {
				return err
			}
			continue
		}
		if st.allNull(c.Map, ep, row) {
			continue
		}
		key := st.identity(c.Map, ep, row)
		if pos, ok := o.seen[i][key]; ok {
			if err := st.merge(o.items[i][pos].obj, ep, row); err != nil {
				return err
			}
			continue
		}
		child, err := st.newObject(c.Map, ep, row)
		if err != nil {
			return err
		}
		if err := st.merge(child, ep, row); err != nil {
			return err
		}
		o.seen[i][key] = len(o.items[i])
		o.items[i] = append(o.items[i], item{obj: child})
	}
	for i, a := range o.rm.Associations {
		if child := o.assoc[i]; child != nil && a.Select == "" {
			if err := st.merge(child, prefix+a.ColumnPrefix, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *state) mergeScalar(o *object, i int, c Collection, prefix string, row typehandler.Row) error {
	column := prefix + c.Column
	ord, ok := st.rs.Column(column)
	if !ok || row.Value(ord) == nil {
		return nil
	}
	key := identity(row.Value(ord))
	if _, ok := o.seen[i][key]; ok {
		return nil
	}
	et := c.ElementType
	if et == nil {
		fv, err := st.field(o.ptr.Elem(), c.Property)
		if err != nil {
			return &nuvatis.TypeConversionError{Column: column, Property: c.Property, Err: err}
		}
		if fv.Kind() != reflect.Slice {
			return &nuvatis.TypeConversionError{Column: column, Property: c.Property, Err: fmt.Errorf("%s is not a slice", fv.Type())}
		}
		et = fv.Type().Elem()
	}
	dst := reflect.New(et).Elem()
	if err := st.assign(dst, "", row, ord); err != nil {
		return &nuvatis.TypeConversionError{Column: column, Property: c.Property, Err: err}
	}
	o.seen[i][key] = len(o.items[i])
	o.items[i] = append(o.items[i], item{val: dst})
	return nil
}

// finalize assigns associations and collections, innermost first.
func (st *state) finalize(o *object) error {
	v := o.ptr.Elem()
	for i, a := range o.rm.Associations {
		child := o.assoc[i]
		if child == nil {
			continue
		}
		if err := st.finalize(child); err != nil {
			return err
		}
		fv, err := st.field(v, a.Property)
		if err != nil {
			return &nuvatis.TypeConversionError{Property: a.Property, Err: err}
		}
		cv, err := asElem(child.ptr, fv.Type())
		if err != nil {
			return &nuvatis.TypeConversionError{Property: a.Property, Err: err}
		}
		fv.Set(cv)
	}
	for i, c := range o.rm.Collections {
		if c.Select != "" {
			continue
		}
		fv, err := st.field(v, c.Property)
		if err != nil {
			return &nuvatis.TypeConversionError{Property: c.Property, Err: err}
		}
		if fv.Kind() != reflect.Slice {
			return &nuvatis.TypeConversionError{Property: c.Property, Err: fmt.Errorf("%s is not a slice", fv.Type())}
		}
		et := fv.Type().Elem()
		s := reflect.MakeSlice(fv.Type(), 0, len(o.items[i]))
		for _, it := range o.items[i] {
			ev := it.val
			if it.obj != nil {
				if err := st.finalize(it.obj); err != nil {
					return err
				}
				if ev, err = asElem(it.obj.ptr, et); err != nil {
					return &nuvatis.TypeConversionError{Property: c.Property, Err: err}
				}
			} else if !ev.Type().AssignableTo(et) {
				conv := reflect.New(et).Elem()
				if err := typehandler.Assign(conv, ev.Interface()); err != nil {
					return &nuvatis.TypeConversionError{Property: c.Property, Err: err}
				}
				ev = conv
			}
			s = reflect.Append(s, ev)
		}
		fv.Set(s)
	}
	return nil
}

// deferred runs the nested select of an association or collection with the
// value of column as its parameter.
func (st *state) deferred(v reflect.Value, property, statement, column string, row typehandler.Row, many bool) error {
	ord, ok := st.rs.Column(column)
	if !ok || row.Value(ord) == nil {
		return nil
	}
	fv, err := st.field(v, property)
	if err != nil {
		return &nuvatis.TypeConversionError{Column: column, Property: property, Err: err}
	}
	elem := fv.Type()
	if many {
		if fv.Kind() != reflect.Slice {
			return &nuvatis.TypeConversionError{Column: column, Property: property, Err: fmt.Errorf("%s is not a slice", fv.Type())}
		}
		elem = elem.Elem()
	}
	res, err := st.subs.load(st.ctx, statement, row.Value(ord), elem)
	if err != nil {
		return err
	}
	switch {
	case !res.IsValid() || res.Len() == 0:
		if many {
			fv.Set(reflect.MakeSlice(fv.Type(), 0, 0))
		}
	case many:
		s := reflect.MakeSlice(fv.Type(), res.Len(), res.Len())
		reflect.Copy(s, res)
		fv.Set(s)
	default:
		fv.Set(res.Index(0))
	}
	return nil
}

// allNull reports whether every column mapped by rm under prefix is NULL.
func (st *state) allNull(rm *ResultMap, prefix string, row typehandler.Row) bool {
	found := false
	for _, mp := range rm.Mappings {
		if i, ok := st.rs.Column(prefix + mp.Column); ok {
			found = true
			if row.Value(i) != nil {
				return false
			}
		}
	}
	if found || prefix == "" {
		return true
	}
	lp := strings.ToLower(prefix)
	for i, c := range st.rs.Columns {
		if strings.HasPrefix(strings.ToLower(c), lp) && row.Value(i) != nil {
			return false
		}
	}
	return true
}

// identity formats the identity columns of rm under prefix.
func (st *state) identity(rm *ResultMap, prefix string, row typehandler.Row) string {
	var sb strings.Builder
	for _, mp := range rm.keyMappings() {
		if i, ok := st.rs.Column(prefix + mp.Column); ok {
			sb.WriteString(identity(row.Value(i)))
		}
		sb.WriteByte('|')
	}
	if len(rm.Mappings) == 0 {
		for _, v := range row.Values {
			sb.WriteString(identity(v))
			sb.WriteByte('|')
		}
	}
	return sb.String()
}

// set converts column ordinal i into property of v.
func (st *state) set(v reflect.Value, property, handler string, row typehandler.Row, i int, column string) error {
	fv, err := st.field(v, property)
	if err == nil {
		err = st.assign(fv, handler, row, i)
	}
	if err != nil {
		return &nuvatis.TypeConversionError{Column: column, Property: property, Err: err}
	}
	return nil
}

// assign converts one column into dst through the named handler, the
// handler registered for the type of dst, or the default conversion.
func (st *state) assign(dst reflect.Value, handler string, row typehandler.Row, i int) error {
	var (
		h  typehandler.Handler
		ok bool
	)
	if handler != "" {
		if h, ok = st.m.handlers.Named(handler); !ok {
			return fmt.Errorf("unknown type handler %q", handler)
		}
	} else {
		h, _ = st.m.handlers.ForType(dst.Type())
	}
	if h == nil {
		return typehandler.Assign(dst, row.Value(i))
	}
	val, err := h.ReadValue(row, i)
	if err != nil {
		return err
	}
	return typehandler.Assign(dst, val)
}

// field returns the settable property of struct value v. Dotted properties
// walk nested structs, allocating nil pointers on the way.
func (st *state) field(v reflect.Value, property string) (reflect.Value, error) {
	for name := range strings.SplitSeq(property, ".") {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s has no property %q", v.Type(), name)
		}
		idx, ok := st.m.resolver.FieldIndex(v.Type(), name)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%s has no property %q", v.Type(), name)
		}
		v = binding.FieldByIndexAlloc(v, idx)
	}
	return v, nil
}

type planKey struct {
	t      reflect.Type
	prefix string
}

type autoField struct {
	ordinal  int
	column   string
	property string
	index    []int
}

// auto assigns the columns under prefix to the properties of v matching
// their name, case-insensitively or camelized ("created_at" to CreatedAt).
// Columns and properties in skip are left alone.
func (st *state) auto(v reflect.Value, skip map[string]struct{}, prefix string, row typehandler.Row) error {
	for _, f := range st.autoPlan(v.Type(), skip, prefix) {
		fv := binding.FieldByIndexAlloc(v, f.index)
		if err := st.assign(fv, "", row, f.ordinal); err != nil {
			return &nuvatis.TypeConversionError{Column: f.column, Property: f.property, Err: err}
		}
	}
	return nil
}

func (st *state) autoPlan(t reflect.Type, skip map[string]struct{}, prefix string) []autoField {
	key := planKey{t: t, prefix: prefix}
	if p, ok := st.plans[key]; ok && skip == nil {
		return p
	}
	lp := strings.ToLower(prefix)
	var plan []autoField
	for i, col := range st.rs.Columns {
		lc := strings.ToLower(col)
		if !strings.HasPrefix(lc, lp) {
			continue
		}
		if _, ok := skip[lc]; ok {
			continue
		}
		name := col[len(prefix):]
		idx, ok := st.m.resolver.FieldIndex(t, name)
		if !ok {
			if idx, ok = st.m.resolver.FieldIndex(t, inflect.Camelize(name)); !ok {
				continue
			}
		}
		if _, ok := skip[strings.ToLower(name)]; ok {
			continue
		}
		plan = append(plan, autoField{ordinal: i, column: col, property: t.FieldByIndex(idx).Name, index: idx})
	}
	if skip == nil {
		st.plans[key] = plan
	}
	return plan
}
