// Package resultmap turns flat result rows into object graphs.
//
// A ResultMap describes how the columns of one row populate a target type:
// plain column to property mappings, single-valued associations read from
// the same row under a column prefix, and multi-valued collections whose
// elements are grouped from consecutive rows sharing the parent identity.
// Associations and collections can instead declare a deferred sub-select
// that is issued once per distinct join column value.
//
// ResultMaps are plain values built by the definition loader. The mapping
// registry resolves ids, flattens Extends chains and rejects cycles before
// any row is mapped.
package resultmap

import (
	"reflect"
	"slices"
)

// Mapping maps one column onto one property.
type Mapping struct {
	Column   string
	Property string
	// TypeHandler names a handler registered with the type handler
	// registry. When empty the handler registered for the property type is
	// used, else the default scalar conversion.
	TypeHandler string
	// Key marks the column as part of the object identity used to group
	// collection rows.
	Key bool
}

// Association maps a single nested object.
type Association struct {
	Property     string
	ResultMap    string // id of the nested result map
	ColumnPrefix string
	// Select names a statement issued with the value of Column as its
	// parameter instead of reading the nested object from the same row.
	Select string
	Column string

	// Map is the resolved nested result map. It is set by the registry.
	Map *ResultMap
}

// Collection maps a sequence property.
type Collection struct {
	Property     string
	ResultMap    string // id of the element result map, if any
	ColumnPrefix string
	// ElementType and Column describe a scalar collection: each row adds the
	// value of Column converted to ElementType.
	ElementType reflect.Type
	Column      string
	// Select names a statement issued with the value of Column as its
	// parameter; its rows become the collection.
	Select string

	// Map is the resolved element result map. It is set by the registry.
	Map *ResultMap
}

// ResultMap is a declarative recipe for building objects of Type from rows.
type ResultMap struct {
	ID           string // namespace qualified id
	Type         reflect.Type
	Extends      string
	Mappings     []Mapping
	Associations []Association
	Collections  []Collection
	// AutoMapping maps the columns no Mapping names to properties of the
	// same name.
	AutoMapping bool
}

// Extend returns a copy of rm with the entries of parent it does not
// override. Entries are matched by property name; the child keeps its own
// order and the inherited entries follow in parent order.
func (rm *ResultMap) Extend(parent *ResultMap) *ResultMap {
	out := rm.Clone()
	props := make(map[string]struct{})
	for _, m := range rm.Mappings {
		props[m.Property] = struct{}{}
	}
	for _, a := range rm.Associations {
		props[a.Property] = struct{}{}
	}
	for _, c := range rm.Collections {
		props[c.Property] = struct{}{}
	}
	for _, m := range parent.Mappings {
		if _, ok := props[m.Property]; !ok {
			out.Mappings = append(out.Mappings, m)
		}
	}
	for _, a := range parent.Associations {
		if _, ok := props[a.Property]; !ok {
			out.Associations = append(out.Associations, a)
		}
	}
	for _, c := range parent.Collections {
		if _, ok := props[c.Property]; !ok {
			out.Collections = append(out.Collections, c)
		}
	}
	if out.Type == nil {
		out.Type = parent.Type
	}
	out.AutoMapping = rm.AutoMapping || parent.AutoMapping
	return out
}

// Clone returns a copy of rm that shares no slices with it.
func (rm *ResultMap) Clone() *ResultMap {
	out := *rm
	out.Mappings = slices.Clone(rm.Mappings)
	out.Associations = slices.Clone(rm.Associations)
	out.Collections = slices.Clone(rm.Collections)
	return &out
}

// Nested reports whether rows must be grouped to build rm, that is whether
// rm or any association reached from the same row maps a collection.
func (rm *ResultMap) Nested() bool {
	if rm == nil {
		return false
	}
	for _, c := range rm.Collections {
		if c.Select == "" {
			return true
		}
	}
	for _, a := range rm.Associations {
		if a.Select == "" && a.Map.Nested() {
			return true
		}
	}
	return false
}

// keyMappings returns the mappings forming the identity of rm: the Key
// mappings, or every mapping when none is marked.
func (rm *ResultMap) keyMappings() []Mapping {
	var keys []Mapping
	for _, m := range rm.Mappings {
		if m.Key {
			keys = append(keys, m)
		}
	}
	if len(keys) == 0 {
		return rm.Mappings
	}
	return keys
}

// Target is the shape rows are materialized into: a result map, or a plain
// type mapped by convention when Map is nil.
type Target struct {
	Map  *ResultMap
	Type reflect.Type
}

// ElemType returns the element type of the materialized slice.
func (t Target) ElemType() reflect.Type {
	if t.Map != nil && t.Map.Type != nil {
		return t.Map.Type
	}
	return t.Type
}
