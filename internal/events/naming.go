package events

import "reflect"

// NameOf returns the nominal type id of v: TypeNamer wins, then the Go type
// name behind any pointers. Maps, slices and unnamed structs yield "".
func NameOf(v any) string {
	if n, ok := v.(TypeNamer); ok && !isNilPointer(v) {
		return n.TypeID()
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
