// Package typehandler defines the type handler contract used to read column
// values into properties and to write parameter values for binding, together
// with the registry and the default scalar conversions.
package typehandler

import (
	"fmt"
	"reflect"
	"sync"
)

// Row is one buffered result row.
type Row struct {
	Columns []string
	Values  []any
}

// Value returns the raw driver value at ordinal, or nil when out of range.
func (r Row) Value(ordinal int) any {
	if ordinal < 0 || ordinal >= len(r.Values) {
		return nil
	}
	return r.Values[ordinal]
}

// Handler converts between driver values and one Go type.
type Handler interface {
	// TargetType is the Go type the handler produces and accepts.
	TargetType() reflect.Type
	// ReadValue reads the column at ordinal and returns a value
	// assignable to TargetType.
	ReadValue(row Row, ordinal int) (any, error)
	// WriteParameter converts a value of TargetType into a driver value.
	WriteParameter(value any) (any, error)
}

// Registry maps Go types and names to handlers. Registration happens at
// configuration time; lookups are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]Handler
	byName map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]Handler),
		byName: make(map[string]Handler),
	}
}

// Register adds h for its target type. A later registration for the same
// type replaces the earlier one.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[h.TargetType()] = h
}

// RegisterNamed adds h under a name that mappings can reference explicitly.
func (r *Registry) RegisterNamed(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = h
}

// ForType returns the handler registered for t, if any.
func (r *Registry) ForType(t reflect.Type) (Handler, bool) {
	if r == nil || t == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byType[t]
	return h, ok
}

// Named returns the handler registered under name.
func (r *Registry) Named(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Write converts v through the handler registered for its dynamic type.
// Values without a handler are returned unchanged.
func (r *Registry) Write(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	h, ok := r.ForType(reflect.TypeOf(v))
	if !ok {
		return v, nil
	}
	out, err := h.WriteParameter(v)
	if err != nil {
		return nil, fmt.Errorf("typehandler: write %T: %w", v, err)
	}
	return out, nil
}

// Func builds a Handler from plain functions.
type Func[T any] struct {
	Read  func(raw any) (T, error)
	Write func(v T) (any, error)
}

// TargetType implements Handler.
func (f Func[T]) TargetType() reflect.Type {
	return reflect.TypeFor[T]()
}

// ReadValue implements Handler.
func (f Func[T]) ReadValue(row Row, ordinal int) (any, error) {
	return f.Read(row.Value(ordinal))
}

// WriteParameter implements Handler.
func (f Func[T]) WriteParameter(value any) (any, error) {
	v, ok := value.(T)
	if !ok {
		return nil, fmt.Errorf("typehandler: expected %s, got %T", f.TargetType(), value)
	}
	if f.Write == nil {
		return v, nil
	}
	return f.Write(v)
}
