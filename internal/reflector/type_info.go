// Package reflector derives stable names from Go types. The event registry
// and the buses key their lookups on these names.
package reflector

import (
	"reflect"
	"sync"
)

var (
	mu    sync.RWMutex
	known = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	Name string
	Type reflect.Type
}

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeOf((*T)(nil)).Elem())
}

// TypeInfoForType names t as "<pkg path>.<type name>", dereferencing one
// pointer level so T and *T share a name. Results are cached per input type.
func TypeInfoForType(t reflect.Type) TypeInfo {
	mu.RLock()
	ti, ok := known[t]
	mu.RUnlock()
	if ok {
		return ti
	}

	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	ti = TypeInfo{
		Name: t.PkgPath() + "." + t.Name(),
		Type: t,
	}

	mu.Lock()
	known[t] = ti
	mu.Unlock()
	return ti
}
