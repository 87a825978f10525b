package dynsql

import (
	"bytes"
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
	"github.com/JinHo-von-Choi/nuvatis-sub001/internal/pool"
)

// Placeholder generates positional bind markers. The marker for the i-th
// bind value (zero based) is ParameterPrefix() + ParameterNameFor(i).
type Placeholder interface {
	ParameterPrefix() string
	ParameterNameFor(index int) string
}

// DefaultPlaceholder renders markers as p0, p1, p2...
type DefaultPlaceholder struct{}

// ParameterPrefix implements Placeholder.
func (DefaultPlaceholder) ParameterPrefix() string { return "" }

// ParameterNameFor implements Placeholder.
func (DefaultPlaceholder) ParameterNameFor(i int) string { return "p" + strconv.Itoa(i) }

// Rendered is the output of rendering a template against a parameter object.
type Rendered struct {
	// SQL is the statement text with positional markers.
	SQL string
	// Paths holds one property path per marker, in textual order.
	Paths []string
	// Scope holds the loop items and bound variables the paths refer to,
	// keyed by generated unique names.
	Scope map[string]any
}

// Renderer renders templates. It is safe for concurrent use.
type Renderer struct {
	placeholder Placeholder
	resolver    *binding.Resolver
	buffers     *pool.Pool[*bytes.Buffer]
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithPlaceholder sets the bind marker style.
func WithPlaceholder(p Placeholder) RendererOption {
	return func(r *Renderer) {
		if p != nil {
			r.placeholder = p
		}
	}
}

// WithResolver sets the property resolver.
func WithResolver(res *binding.Resolver) RendererOption {
	return func(r *Renderer) {
		if res != nil {
			r.resolver = res
		}
	}
}

// WithBufferPool sets the number of idle render buffers retained.
func WithBufferPool(size int) RendererOption {
	return func(r *Renderer) {
		r.buffers = newBufferPool(size)
	}
}

func newBufferPool(size int) *pool.Pool[*bytes.Buffer] {
	return pool.New(size,
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 256)) },
		func(b *bytes.Buffer) { b.Reset() },
	)
}

// NewRenderer returns a Renderer using DefaultPlaceholder unless configured
// otherwise.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		placeholder: DefaultPlaceholder{},
		resolver:    binding.DefaultResolver(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffers == nil {
		r.buffers = newBufferPool(pool.DefaultSize)
	}
	return r
}

// Placeholder returns the marker style of the renderer.
func (r *Renderer) Placeholder() Placeholder { return r.placeholder }

var defaultRenderer = NewRenderer()

// Render renders root against param with the default renderer.
func Render(root Node, param any) (*Rendered, error) {
	return defaultRenderer.Render(root, param)
}

// Render evaluates the template tree against param. The same tree and an
// equal parameter object always produce the same output.
func (r *Renderer) Render(root Node, param any) (*Rendered, error) {
	st := &state{
		r:     r,
		param: param,
		vars:  map[string]any{"_parameter": param},
		alias: map[string]string{"_parameter": "_parameter"},
	}
	buf := r.buffers.Get()
	defer r.buffers.Put(buf)
	if err := st.render(buf, root); err != nil {
		return nil, err
	}
	return &Rendered{
		SQL:   normalizeSpace(buf.String()),
		Paths: st.paths,
		Scope: st.scope,
	}, nil
}

// state is the per-call evaluation state. vars holds the names visible to
// expressions and paths; alias maps them to their unique key in scope.
type state struct {
	r     *Renderer
	param any
	vars  map[string]any
	alias map[string]string
	paths []string
	scope map[string]any
	seq   int
}

func (s *state) lookup(path string) (any, bool) {
	return s.r.resolver.Lookup(path, s.vars, s.param)
}

func (s *state) render(w *bytes.Buffer, n Node) error {
	switch n := n.(type) {
	case nil:
		return nil
	case Text:
		w.WriteString(n.Value)
	case Param:
		return s.writeParam(w, n)
	case If:
		ok, err := s.test(n.Test)
		if err != nil || !ok {
			return err
		}
		return s.renderAll(w, n.Children)
	case Choose:
		for _, when := range n.When {
			ok, err := s.test(when.Test)
			if err != nil {
				return err
			}
			if ok {
				return s.renderAll(w, when.Children)
			}
		}
		return s.renderAll(w, n.Otherwise)
	case Where:
		content, err := s.capture(n.Children)
		if err != nil || content == "" {
			return err
		}
		content = stripConnective(content)
		if content == "" {
			return nil
		}
		w.WriteString(" WHERE ")
		w.WriteString(content)
		w.WriteByte(' ')
	case Set:
		content, err := s.capture(n.Children)
		if err != nil || content == "" {
			return err
		}
		content = strings.TrimSpace(strings.TrimSuffix(content, ","))
		if content == "" {
			return nil
		}
		w.WriteString(" SET ")
		w.WriteString(content)
		w.WriteByte(' ')
	case Trim:
		content, err := s.capture(n.Children)
		if err != nil || content == "" {
			return err
		}
		content = trimOverrides(content, n.PrefixOverrides, n.SuffixOverrides)
		if content == "" {
			return nil
		}
		w.WriteByte(' ')
		if n.Prefix != "" {
			w.WriteString(n.Prefix)
			w.WriteByte(' ')
		}
		w.WriteString(content)
		if n.Suffix != "" {
			w.WriteByte(' ')
			w.WriteString(n.Suffix)
		}
		w.WriteByte(' ')
	case ForEach:
		return s.forEach(w, n)
	case Include:
		return nuvatis.NewConfigurationError(n.RefID, "include was not resolved before rendering")
	case Bind:
		v, err := Eval(n.Value, s.lookup)
		if err != nil {
			return &nuvatis.BindingError{Path: n.Name, Msg: "evaluate bind", Err: err}
		}
		s.define(n.Name, "__bind_"+n.Name, v)
	case Mixed:
		return s.renderAll(w, n)
	default:
		return nuvatis.NewConfigurationError("", "unknown template node %T", n)
	}
	return nil
}

// renderAll renders nodes in order. Output of a conditional node is kept
// apart from its neighbours by a space unless punctuation separates them.
func (s *state) renderAll(w *bytes.Buffer, nodes []Node) error {
	var after bool
	for _, n := range nodes {
		start := w.Len()
		if err := s.render(w, n); err != nil {
			return err
		}
		if w.Len() == start {
			continue
		}
		cond := conditional(n)
		if (cond || after) && start > 0 {
			separate(w, start)
		}
		after = cond
	}
	return nil
}

func conditional(n Node) bool {
	switch n.(type) {
	case If, Choose, ForEach, Where, Set, Trim:
		return true
	}
	return false
}

// separate inserts a space at offset i when the bytes on both sides of it
// would otherwise run together.
func separate(w *bytes.Buffer, i int) {
	b := w.Bytes()
	prev, next := b[i-1], b[i]
	if isSpace(prev) || isSpace(next) || prev == '(' || next == ')' || next == ',' {
		return
	}
	tail := bytes.Clone(b[i:])
	w.Truncate(i)
	w.WriteByte(' ')
	w.Write(tail)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// capture renders nodes into a pooled buffer and returns the trimmed text.
func (s *state) capture(nodes []Node) (string, error) {
	buf := s.r.buffers.Get()
	defer s.r.buffers.Put(buf)
	if err := s.renderAll(buf, nodes); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (s *state) test(expr string) (bool, error) {
	ok, err := Test(expr, s.lookup)
	if err != nil {
		return false, &nuvatis.BindingError{Path: expr, Msg: "evaluate condition", Err: err}
	}
	return ok, nil
}

func (s *state) writeParam(w *bytes.Buffer, p Param) error {
	if !p.Literal {
		ph := s.r.placeholder
		w.WriteString(ph.ParameterPrefix())
		w.WriteString(ph.ParameterNameFor(len(s.paths)))
		s.paths = append(s.paths, s.qualify(p.Path))
		return nil
	}
	v, _ := s.lookup(p.Path)
	text := literalText(v)
	if err := binding.ValidateParam(p.Path, text, p.Allowed...); err != nil {
		return err
	}
	w.WriteString(text)
	return nil
}

// qualify rewrites a path whose head is a loop item or bound variable to
// the unique key the value is stored under in scope.
func (s *state) qualify(path string) string {
	head, _ := binding.Split(path)
	key, ok := s.alias[head]
	if !ok {
		return path
	}
	if s.scope == nil {
		s.scope = make(map[string]any)
	}
	s.scope[key] = s.vars[head]
	return key + path[len(head):]
}

// define makes v visible under name, stored in scope under a fresh key
// derived from prefix.
func (s *state) define(name, prefix string, v any) {
	s.vars[name] = v
	s.alias[name] = prefix + "_" + strconv.Itoa(s.seq)
	s.seq++
}

type saved struct {
	value any
	key   string
	ok    bool
}

func (s *state) save(name string) saved {
	v, ok := s.vars[name]
	return saved{value: v, key: s.alias[name], ok: ok}
}

func (s *state) restore(name string, prev saved) {
	if !prev.ok {
		delete(s.vars, name)
		delete(s.alias, name)
		return
	}
	s.vars[name] = prev.value
	if prev.key != "" {
		s.alias[name] = prev.key
	} else {
		delete(s.alias, name)
	}
}

func (s *state) forEach(w *bytes.Buffer, n ForEach) error {
	coll, _ := s.lookup(n.Collection)
	items, err := elements(coll)
	if err != nil {
		return &nuvatis.BindingError{Path: n.Collection, Msg: "foreach collection", Err: err}
	}
	if n.Item != "" {
		defer s.restore(n.Item, s.save(n.Item))
	}
	if n.Index != "" {
		defer s.restore(n.Index, s.save(n.Index))
	}
	w.WriteString(n.Open)
	first := true
	for _, e := range items {
		if n.Item != "" {
			s.define(n.Item, "__frch_"+n.Item, e.value)
		}
		if n.Index != "" {
			s.define(n.Index, "__frch_"+n.Index, e.index)
		}
		content, err := s.capture(n.Children)
		if err != nil {
			return err
		}
		if content == "" {
			continue
		}
		if !first {
			w.WriteString(n.Separator)
		}
		first = false
		w.WriteString(content)
	}
	w.WriteString(n.Close)
	return nil
}

type element struct {
	index any
	value any
}

// elements lists the entries of a slice, array or map. Map entries are
// ordered by key. A nil or missing collection has no elements.
func elements(coll any) ([]element, error) {
	v := reflect.ValueOf(coll)
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]element, v.Len())
		for i := range out {
			out[i] = element{index: i, value: v.Index(i).Interface()}
		}
		return out, nil
	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, compareKeys)
		out := make([]element, len(keys))
		for i, k := range keys {
			out[i] = element{index: k.Interface(), value: v.MapIndex(k).Interface()}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s is not iterable", v.Type())
}

func compareKeys(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.String:
		return cmp.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	}
	return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
}

func literalText(v any) string {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return ""
	}
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return fmt.Sprint(rv.Interface())
}

// stripConnective removes one leading AND or OR keyword.
func stripConnective(s string) string {
	for _, kw := range []string{"AND", "OR"} {
		if len(s) < len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
			continue
		}
		if len(s) > len(kw) && isWordByte(s[len(kw)]) {
			continue
		}
		return strings.TrimSpace(s[len(kw):])
	}
	return s
}

func trimOverrides(s string, prefixes, suffixes []string) string {
	for _, p := range prefixes {
		if p != "" && len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	for _, p := range suffixes {
		if p != "" && len(s) >= len(p) && strings.EqualFold(s[len(s)-len(p):], p) {
			s = strings.TrimSpace(s[:len(s)-len(p)])
			break
		}
	}
	return s
}

func isWordByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

// normalizeSpace collapses whitespace runs outside quoted literals into one
// space and trims the result.
func normalizeSpace(s string) string {
	var (
		sb    strings.Builder
		quote byte
		space bool
	)
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			sb.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			space = true
			continue
		case '\'', '"', '`':
			quote = c
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteByte(c)
	}
	return sb.String()
}
