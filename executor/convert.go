package executor

import (
	"fmt"
	"reflect"

	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

// assignSlice stores the materialized slice src into the settable slice
// dst, converting elements when the types differ.
func assignSlice(dst, src reflect.Value) error {
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	out := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
	for i := range src.Len() {
		if err := assignElem(out.Index(i), src.Index(i)); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	dst.Set(out)
	return nil
}

// assignElem stores src into dst. Values and pointers to them are
// interchangeable; scalars fall back to the default conversion.
func assignElem(dst, src reflect.Value) error {
	dt := dst.Type()
	switch st := src.Type(); {
	case st.AssignableTo(dt):
		dst.Set(src)
	case dt.Kind() == reflect.Pointer && st.AssignableTo(dt.Elem()):
		p := reflect.New(dt.Elem())
		p.Elem().Set(src)
		dst.Set(p)
	case st.Kind() == reflect.Pointer && st.Elem().AssignableTo(dt):
		if src.IsNil() {
			dst.SetZero()
		} else {
			dst.Set(src.Elem())
		}
	default:
		return typehandler.Assign(dst, src.Interface())
	}
	return nil
}
