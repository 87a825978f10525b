// Package mapping holds the statement model and the registry that owns every
// statement, fragment and result map of a configuration.
//
// Definitions are plain values grouped by namespace. A Builder collects them,
// resolves fragment includes, flattens result map inheritance, resolves type
// aliases and cross references, and rejects every inconsistency at once:
//
//	b := mapping.NewBuilder()
//	b.Add(mapping.Namespace{
//	    Name:       "users",
//	    Fragments:  map[string]dynsql.Node{"cols": dynsql.Text{Value: "id, name"}},
//	    Statements: []*mapping.Statement{{ID: "byID", Kind: nuvatis.KindSelect, ...}},
//	})
//	reg, err := b.Build()
//
// The Registry returned by Build is immutable and safe for concurrent use.
package mapping

import (
	"reflect"
	"time"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dynsql"
	"github.com/JinHo-von-Choi/nuvatis-sub001/resultmap"
)

// Statement is a named, parameterized SQL operation.
//
// Statements handed out by a Registry are shared and must not be modified.
type Statement struct {
	ID        string
	Namespace string
	Kind      nuvatis.Kind
	// SQL is the template root. Includes are replaced by their fragments
	// when the registry is built.
	SQL dynsql.Node

	// ResultMap references a result map, by local or qualified id.
	ResultMap string
	// ResultType is the element type of a select without a result map.
	ResultType      reflect.Type
	ResultTypeAlias string
	// ParameterType documents the expected parameter. When set, parameters
	// of another type are rejected before rendering.
	ParameterType      reflect.Type
	ParameterTypeAlias string

	KeyGeneration *KeyGeneration

	// UseCache serves the select from its namespace region. It is ignored
	// for mutations.
	UseCache bool
	// FlushCache invalidates the namespace region after the statement runs.
	// It is always set for mutations.
	FlushCache bool
	// Timeout bounds the driver call. Zero means no limit.
	Timeout time.Duration

	resultMap *resultmap.ResultMap
}

// QualifiedID returns "namespace.id".
func (s *Statement) QualifiedID() string {
	return dynsql.Qualify(s.Namespace, s.ID)
}

// Target returns the shape selected rows are materialized into.
func (s *Statement) Target() resultmap.Target {
	return resultmap.Target{Map: s.resultMap, Type: s.ResultType}
}

// KeyTiming tells when a generated key is obtained.
type KeyTiming uint8

// Key generation timings.
const (
	// KeyAfter reads the key once the statement ran, through SQL or the
	// driver's last insert id when SQL is nil.
	KeyAfter KeyTiming = iota
	// KeyBefore runs SQL first and stores its value into the parameter.
	KeyBefore
)

// String returns the timing name.
func (t KeyTiming) String() string {
	if t == KeyBefore {
		return "before"
	}
	return "after"
}

// KeyGeneration describes how the generated key of an insert is written
// back into the parameter object.
type KeyGeneration struct {
	// Property receives the key.
	Property string
	// SQL selects the key. It is rendered against the parameter like the
	// statement itself.
	SQL    dynsql.Node
	Timing KeyTiming
	// ResultType is the type the key is converted to before it is stored.
	// When nil, the property type decides.
	ResultType reflect.Type
}

// Namespace groups the definitions of one mapper document.
type Namespace struct {
	Name       string
	Cache      *nuvatis.CacheConfig
	Fragments  map[string]dynsql.Node
	ResultMaps []*resultmap.ResultMap
	Statements []*Statement
}
