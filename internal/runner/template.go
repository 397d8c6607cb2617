package runner

import (
	"errors"
	"fmt"
	"os"
	"reflect"
)

// ExpandTemplates walks the struct (or slice of structs) pointed to by in and
// expands ${VAR} references in place.
//
// string, *string and []string fields are only expanded when they carry a
// `template` struct tag; `template:"-"` opts out. map[string]string fields are
// always expanded. Nested structs, struct pointers and slices of either are
// explored without a tag. Unexported fields and other types are left as-is.
func ExpandTemplates[T any](in *T, variables map[string]string) error {
	if in == nil {
		return nil
	}

	x := expander{variables: variables}
	v := reflect.ValueOf(in).Elem()
	switch v.Kind() {
	case reflect.Struct:
		return x.structFields(v)
	case reflect.Slice:
		return x.slice(v, true)
	default:
		return fmt.Errorf("ExpandTemplates expects *struct or *[]struct; got *%s", v.Type())
	}
}

type expander struct {
	variables map[string]string
}

func (x expander) str(v reflect.Value) error {
	expanded, err := Expand(v.String(), x.variables)
	if err != nil {
		return err
	}
	v.SetString(expanded)
	return nil
}

// slice expands string elements when tagged and recurses into struct elements.
func (x expander) slice(v reflect.Value, tagged bool) error {
	if v.IsNil() {
		return nil
	}

	elem := v.Type().Elem()
	for i := 0; i < v.Len(); i++ {
		el := v.Index(i)
		switch {
		case elem.Kind() == reflect.String:
			if !tagged {
				return nil
			}
			if err := x.str(el); err != nil {
				return err
			}
		case elem.Kind() == reflect.Struct:
			if err := x.structFields(el); err != nil {
				return err
			}
		case elem.Kind() == reflect.Pointer && elem.Elem().Kind() == reflect.Struct:
			if el.IsNil() {
				continue
			}
			if err := x.structFields(el.Elem()); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (x expander) structFields(v reflect.Value) error {
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("expected struct; got %s", v.Kind())
	}

	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, ok := sf.Tag.Lookup("template")
		tagged := ok && tag != "-"

		if err := x.field(v.Field(i), tagged); err != nil {
			return fmt.Errorf("%s: %w", sf.Name, err)
		}
	}
	return nil
}

func (x expander) field(field reflect.Value, tagged bool) error {
	switch field.Kind() {
	case reflect.String:
		if !tagged {
			return nil
		}
		return x.str(field)

	case reflect.Pointer:
		if field.IsNil() {
			return nil
		}
		elem := field.Elem()
		switch elem.Kind() {
		case reflect.String:
			if !tagged {
				return nil
			}
			// Copy so the caller's original string is untouched.
			expanded, err := Expand(elem.String(), x.variables)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(&expanded))
		case reflect.Struct:
			return x.structFields(elem)
		}
		return nil

	case reflect.Map:
		if field.IsNil() || field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		expanded, err := ExpandMap(field.Interface().(map[string]string), x.variables)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(expanded))
		return nil

	case reflect.Struct:
		return x.structFields(field)

	case reflect.Slice:
		return x.slice(field, tagged)

	default:
		return nil
	}
}

// Expand replaces ${VAR} references in value using variables. Every
// reference to an unknown variable is reported.
func Expand(value string, variables map[string]string) (string, error) {
	var errs error

	result := os.Expand(value, func(key string) string {
		if val, ok := variables[key]; ok {
			return val
		}
		errs = errors.Join(errs, fmt.Errorf("variable %q is not defined and not in the allowed environment list", key))
		return ""
	})

	if errs != nil {
		return "", errs
	}

	return result, nil
}

// ExpandMap expands all values in a map[string]string.
func ExpandMap(values map[string]string, variables map[string]string) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}

	result := make(map[string]string, len(values))
	var errs error

	for k, v := range values {
		expanded, err := Expand(v, variables)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		result[k] = expanded
	}

	if errs != nil {
		return nil, errs
	}

	return result, nil
}
