package omitnilpointers

import (
	"reflect"
)

// OmitNilPointers returns a copy of fields without nil values and nil
// pointers. Non-nil pointers are replaced by the value they point to, so
// the result encodes without nulls for optional fields.
func OmitNilPointers(fields map[string]any) map[string]any {
	omitted := make(map[string]any, len(fields))
	for key, value := range fields {
		if v, ok := deref(value); ok {
			omitted[key] = v
		}
	}

	return omitted
}

func deref(value any) (any, bool) {
	if value == nil {
		return nil, false
	}

	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}

	return v.Interface(), true
}

// Merge copies src into dst with OmitNilPointers semantics and returns dst.
func Merge(dst map[string]any, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}

	for key, value := range src {
		if v, ok := deref(value); ok {
			dst[key] = v
		}
	}

	return dst
}
