package hcl

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

type attribute struct {
	name  string
	value cty.Value
}

// attributes lists the hcl-tagged fields of the struct v points to, in
// declaration order. Nil pointer fields are omitted.
func attributes(v any) ([]attribute, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("expected a non-nil struct pointer, got %T", v)
	}
	rv = rv.Elem()
	rt := rv.Type()

	var out []attribute
	for i := range rt.NumField() {
		field := rt.Field(i)
		tag := field.Tag.Get("hcl")
		if tag == "" || !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		val, err := ToCtyValue(fv.Interface())
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		out = append(out, attribute{name: name, value: val})
	}
	return out, nil
}

// ToCtyValue converts a native Go value into its corresponding cty.Value.
func ToCtyValue(v any) (cty.Value, error) {
	if v == nil {
		return cty.NilVal, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}
