package dynsql

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"

	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
)

// maxDepth bounds the conversion of nested parameter values into CEL values.
const maxDepth = 8

var (
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	programs sync.Map // key: expression -> compiled
)

type compiled struct {
	prg cel.Program
	err error
}

// typeNames are left to the CEL type provider instead of the parameter object.
var typeNames = map[string]struct{}{
	"int": {}, "uint": {}, "double": {}, "bool": {}, "string": {}, "bytes": {},
	"list": {}, "map": {}, "null_type": {}, "type": {}, "dyn": {},
}

func env() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.CrossTypeNumericComparisons(true))
	})
	return celEnv, celEnvErr
}

// Compile parses expr and caches the program. Identifiers are not declared
// up front; they are resolved against the parameter object at evaluation.
func Compile(expr string) (cel.Program, error) {
	if c, ok := programs.Load(expr); ok {
		c := c.(compiled)
		return c.prg, c.err
	}
	e, err := env()
	if err != nil {
		return nil, fmt.Errorf("dynsql: cel environment: %w", err)
	}
	c := compiled{}
	ast, iss := e.Parse(rewriteConnectives(expr))
	if iss != nil && iss.Err() != nil {
		c.err = fmt.Errorf("dynsql: parse %q: %w", expr, iss.Err())
	} else if c.prg, err = e.Program(ast); err != nil {
		c.err = fmt.Errorf("dynsql: program %q: %w", expr, err)
	}
	v, _ := programs.LoadOrStore(expr, c)
	c = v.(compiled)
	return c.prg, c.err
}

// Eval evaluates expr with identifiers resolved through lookup and returns
// the result as a Go value.
func Eval(expr string, lookup func(path string) (any, bool)) (any, error) {
	val, _, err := eval(expr, lookup)
	if err != nil {
		return nil, err
	}
	if types.IsError(val) || types.IsUnknown(val) {
		return nil, fmt.Errorf("dynsql: evaluate %q: %v", expr, val)
	}
	if val == types.NullValue {
		return nil, nil
	}
	return val.Value(), nil
}

// Test evaluates expr as a condition. Null is false; numbers and strings
// are true when non-zero and non-empty. An operator applied to a null
// property, such as "age > 18" with age missing, is false.
func Test(expr string, lookup func(path string) (any, bool)) (bool, error) {
	val, null, err := eval(expr, lookup)
	if err != nil {
		if null && strings.Contains(err.Error(), "no such overload") {
			return false, nil
		}
		return false, err
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case types.Null:
		return false, nil
	case types.Int:
		return v != 0, nil
	case types.Uint:
		return v != 0, nil
	case types.Double:
		return v != 0, nil
	case types.String:
		return v != "", nil
	}
	return false, fmt.Errorf("dynsql: condition %q is %s, not bool", expr, val.Type().TypeName())
}

// eval reports whether any identifier resolved to null.
func eval(expr string, lookup func(string) (any, bool)) (ref.Val, bool, error) {
	prg, err := Compile(expr)
	if err != nil {
		return nil, false, err
	}
	act := &activation{lookup: lookup}
	val, _, err := prg.Eval(act)
	if err != nil {
		return nil, act.null, fmt.Errorf("dynsql: evaluate %q: %w", expr, err)
	}
	return val, act.null, nil
}

// activation resolves CEL identifiers as property paths. CEL asks for the
// most qualified name first ("a.b.c", then "a.b", then "a"), so a dotted
// path is resolved in one lookup. Missing properties are null.
type activation struct {
	lookup func(string) (any, bool)
	null   bool
}

func (a *activation) ResolveName(name string) (any, bool) {
	if _, ok := typeNames[name]; ok {
		return nil, false
	}
	v, ok := a.lookup(name)
	if !ok {
		a.null = true
		return types.NullValue, true
	}
	cv := celValue(reflect.ValueOf(v), 0)
	if cv == types.NullValue {
		a.null = true
	}
	return cv, true
}

func (*activation) Parent() interpreter.Activation { return nil }

var (
	timeType   = reflect.TypeFor[time.Time]()
	valuerType = reflect.TypeFor[driver.Valuer]()
)

// celValue converts v to a value the default CEL adapter understands.
// Structs become maps keyed by field name and db tag.
func celValue(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return types.NullValue
	}
	if v.Type().Implements(valuerType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return types.NullValue
		}
		dv, err := v.Interface().(driver.Valuer).Value()
		if err != nil {
			return types.NewErr("value of %s: %v", v.Type(), err)
		}
		return celValue(reflect.ValueOf(dv), depth)
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return types.NullValue
		}
		return celValue(v.Elem(), depth)
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if d, ok := v.Interface().(time.Duration); ok {
			return d
		}
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	}
	if depth >= maxDepth {
		return types.NullValue
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		if v.Kind() == reflect.Slice && v.IsNil() {
			return types.NullValue
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = celValue(v.Index(i), depth+1)
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return types.NullValue
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = celValue(iter.Value(), depth+1)
		}
		return out
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface()
		}
		fields := binding.DefaultResolver().Fields(v.Type())
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			fv, err := v.FieldByIndexErr(f.Index)
			if err != nil {
				continue
			}
			cv := celValue(fv, depth+1)
			out[f.Name] = cv
			if f.Tag != "" {
				out[f.Tag] = cv
			}
		}
		return out
	}
	return types.NullValue
}

// rewriteConnectives turns the OGNL connectives "and" and "or" outside
// string literals into && and ||.
func rewriteConnectives(expr string) string {
	if !strings.Contains(expr, " and ") && !strings.Contains(expr, " or ") {
		return expr
	}
	var (
		sb    strings.Builder
		quote byte
	)
	sb.Grow(len(expr))
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == '\\' && i+1 < len(expr) {
				sb.WriteByte(c)
				i++
				c = expr[i]
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ' ' && strings.HasPrefix(expr[i:], " and "):
			sb.WriteString(" && ")
			i += len(" and ") - 1
			continue
		case c == ' ' && strings.HasPrefix(expr[i:], " or "):
			sb.WriteString(" || ")
			i += len(" or ") - 1
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
