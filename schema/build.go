package schema

import (
	"reflect"

	"github.com/nfig-dev/nfig"
)

// Build constructs a fresh, zero-valued instance of the bound settings type,
// allocating every nested group reached through a pointer field (per
// SPEC_FULL.md §4.1: "a group ... must be a class type with a no-argument
// constructor"). The result is a pointer to the settings struct.
func (s *Schema) Build() any {
	root := reflect.New(s.rootType)
	for _, path := range s.groupPaths {
		s.allocPath(root, path)
	}
	return root.Interface()
}

// allocPath walks from root (a pointer to the settings struct) down path,
// allocating any pointer-typed group it passes through.
func (s *Schema) allocPath(root reflect.Value, path []fieldStep) reflect.Value {
	v := root.Elem()
	for _, step := range path {
		field := v.Field(step.index)
		if step.isPtr {
			if field.IsNil() {
				field.Set(reflect.New(step.elemType))
			}
			v = field.Elem()
		} else {
			v = field
		}
	}
	return v
}

// Set walks root through every group in setting's field path and assigns the
// leaf field by converting value with the setting's converter. root must be
// a pointer produced by Build (or at least share its type and have every
// intermediate group already allocated).
func (s *Schema) Set(root any, settingName string, value string) error {
	st, ok := s.settingsByName[settingName]
	if !ok {
		return &nfig.SchemaError{Setting: settingName, Reason: "unknown setting"}
	}
	rv := reflect.ValueOf(root)
	if rv.Kind() != reflect.Ptr {
		return &nfig.SchemaError{Setting: settingName, Reason: "Set requires a pointer to the settings struct produced by Build"}
	}

	v := rv.Elem()
	for _, step := range st.fieldPath[:len(st.fieldPath)-1] {
		field := v.Field(step.index)
		if step.isPtr {
			if field.IsNil() {
				field.Set(reflect.New(step.elemType))
			}
			v = field.Elem()
		} else {
			v = field
		}
	}
	leaf := st.fieldPath[len(st.fieldPath)-1]
	target := v.Field(leaf.index)
	if leaf.isPtr {
		if target.IsNil() {
			target.Set(reflect.New(leaf.elemType))
		}
		target = target.Elem()
	}

	converted, err := st.Converter.Parse(value, target.Type())
	if err != nil {
		return &nfig.ConversionError{Setting: settingName, Value: value, Type: target.Type().String(), Err: err}
	}
	if !target.CanSet() {
		return &nfig.SchemaError{Setting: settingName, Reason: "field is not settable (is it exported?)"}
	}
	target.Set(converted)
	return nil
}
