package channel

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// frameAPI is the std-compatible sonic configuration used for every frame.
var frameAPI = sonic.ConfigStd

// Encode marshals v after removing function values from it.
func Encode(v any) ([]byte, error) {
	return frameAPI.Marshal(Sanitize(v))
}

// Decode unmarshals a frame into v.
func Decode(data []byte, v any) error {
	return frameAPI.Unmarshal(data, v)
}

// Sanitize returns v with function values removed, mirroring what
// JSON.stringify does to a JavaScript value: object members holding
// functions are dropped, array elements holding functions become nil and a
// top-level function becomes nil.
//
// Maps, slices, arrays, pointers and structs are walked. Structs that can
// hold a function come back as map[string]any keyed by their JSON names.
// Values whose type cannot hold a function, and types with their own
// MarshalJSON or MarshalText, are returned unchanged.
func Sanitize(v any) any {
	if v == nil {
		return nil
	}
	return sanitize(reflect.ValueOf(v))
}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func sanitize(rv reflect.Value) any {
	if !rv.IsValid() || !rv.CanInterface() {
		return nil
	}
	t := rv.Type()
	if t.Kind() != reflect.Interface && (!mayHoldFunc(t) || marshalsItself(t)) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Func:
		return nil

	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem())

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val := iter.Value()
			if isFunc(val) {
				continue
			}
			out[mapKey(iter.Key())] = sanitize(val)
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			elem := rv.Index(i)
			if isFunc(elem) {
				continue
			}
			out[i] = sanitize(elem)
		}
		return out

	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		sanitizeFields(rv, out)
		return out
	}
	return rv.Interface()
}

// sanitizeFields copies the exported fields of a struct into out, following
// the encoding/json field rules for names, "-", omitempty and embedding.
func sanitizeFields(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				sanitizeFields(inner, out)
				continue
			}
		}

		if isFunc(fv) {
			continue
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = sanitize(fv)
	}
}

func isFunc(rv reflect.Value) bool {
	for rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Func
}

func marshalsItself(t reflect.Type) bool {
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if b, err := tm.MarshalText(); err == nil {
				return string(b)
			}
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return fmt.Sprint(k.Interface())
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// funcTypes caches whether a type can reach a function value.
var funcTypes sync.Map

func mayHoldFunc(t reflect.Type) bool {
	if cached, ok := funcTypes.Load(t); ok {
		return cached.(bool)
	}
	holds := holdsFunc(t, make(map[reflect.Type]bool))
	funcTypes.Store(t, holds)
	return holds
}

func holdsFunc(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Func, reflect.Interface:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return holdsFunc(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); f.IsExported() && holdsFunc(f.Type, seen) {
				return true
			}
		}
	}
	return false
}
