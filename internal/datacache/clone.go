package datacache

import "reflect"

// DeepCopy returns a copy of v that shares no mutable memory reachable
// through pointers, slices, maps or interfaces. Unexported struct fields
// and channels, funcs and unsafe pointers are copied shallowly.
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	src := reflect.ValueOf(v)
	dst := reflect.New(src.Type()).Elem()
	copyValue(dst, src, map[uintptr]reflect.Value{})
	return dst.Interface()
}

func copyValue(dst, src reflect.Value, seen map[uintptr]reflect.Value) {
	switch src.Kind() {
	case reflect.Pointer:
		if src.IsNil() {
			return
		}
		if p, ok := seen[src.Pointer()]; ok && p.Type() == src.Type() {
			dst.Set(p)
			return
		}
		p := reflect.New(src.Elem().Type())
		seen[src.Pointer()] = p
		copyValue(p.Elem(), src.Elem(), seen)
		dst.Set(p)

	case reflect.Interface:
		if src.IsNil() {
			return
		}
		inner := src.Elem()
		c := reflect.New(inner.Type()).Elem()
		copyValue(c, inner, seen)
		dst.Set(c)

	case reflect.Slice:
		if src.IsNil() {
			return
		}
		s := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			copyValue(s.Index(i), src.Index(i), seen)
		}
		dst.Set(s)

	case reflect.Array:
		for i := 0; i < src.Len(); i++ {
			copyValue(dst.Index(i), src.Index(i), seen)
		}

	case reflect.Map:
		if src.IsNil() {
			return
		}
		m := reflect.MakeMapWithSize(src.Type(), src.Len())
		iter := src.MapRange()
		for iter.Next() {
			k := reflect.New(iter.Key().Type()).Elem()
			copyValue(k, iter.Key(), seen)
			val := reflect.New(iter.Value().Type()).Elem()
			copyValue(val, iter.Value(), seen)
			m.SetMapIndex(k, val)
		}
		dst.Set(m)

	case reflect.Struct:
		dst.Set(src)
		for i := 0; i < src.NumField(); i++ {
			if !dst.Field(i).CanSet() {
				continue
			}
			copyValue(dst.Field(i), src.Field(i), seen)
		}

	default:
		dst.Set(src)
	}
}
