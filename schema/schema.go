// Package schema implements NFig's reflective schema binder: a one-time
// walk of a user-supplied settings struct that discovers settings (including
// nested groups), collects default-value declarations, and builds the fast
// setters the resolver uses to materialize instances.
//
// Go has no runtime attribute/IL emission, so the walk is driven by struct
// tags instead of the original class attributes (per SPEC_FULL.md §4.1):
//
//	type Settings struct {
//	    TopInteger int `nfig:"TopInteger" default:"23"`
//	    Nested     struct {
//	        Integer int `nfig:"Integer" default:"17"`
//	    } `nfig:"Nested,group"`
//	    APIKey string `nfig:"Secrets.APIKey,encrypted"`
//	}
package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/nfig-dev/nfig"
)

// Setting is the binder's per-property record: a dotted-path name, its
// declared type, whether it is encrypted, the compile-time defaults
// collected for it, and a materializer that can set it on a constructed
// instance.
type Setting struct {
	Name        string
	Type        reflect.Type
	Encrypted   bool
	Description string
	Defaults    []nfig.DefaultValue
	Converter   nfig.Converter

	fieldPath []fieldStep
}

func (s Setting) settingName() string { return s.Name }

// fieldStep is one hop from a parent struct to a child field, recording
// whether the child is reached through a pointer (requiring allocation
// on Build).
type fieldStep struct {
	index    int
	isPtr    bool
	elemType reflect.Type
}

// DefaultDeclaration is a single compile-time default a settings type (or
// one of its groups) contributes for a setting, beyond the struct tag's
// unconditional `default:"..."` sugar. This is the Go-native analogue of a
// DefaultValueBaseAttribute subclass instance in the original design.
type DefaultDeclaration struct {
	Setting         string
	Value           string
	SubAppID        *int
	Tier            nfig.Axis
	DataCenter      nfig.Axis
	AllowsOverrides bool
}

// DefaultValueSource may be implemented by a settings struct (or a pointer
// to it) to contribute additional, axis-scoped default declarations beyond
// the single unconditional `default:"..."` struct tag.
type DefaultValueSource interface {
	NFigDefaults() []DefaultDeclaration
}

// Options configures a Bind call.
type Options struct {
	// AnyTier and AnyDataCenter are the wildcard sentinel values for this
	// settings type's axes. They are required: the binder uses them as the
	// scope of every struct-tag `default:"..."` sugar default.
	AnyTier       nfig.Axis
	AnyDataCenter nfig.Axis

	// Converters attaches named converters referenced by a field's
	// `nfig-converter:"name"` tag. Explicit per-field tags win over
	// per-group tags, which win over the package-level default-by-kind table.
	Converters map[string]nfig.Converter
}

// Schema is the output of a one-time reflective bind: an ordered list of
// settings plus enough metadata to construct and populate instances.
type Schema struct {
	rootType       reflect.Type
	settings       []Setting
	settingsByName map[string]*Setting
	groupPaths     [][]fieldStep // paths to every group, parent-first, for Build()
}

// Settings returns the bound settings, sorted by dotted name.
func (s *Schema) Settings() []Setting { return s.settings }

// Lookup returns the Setting for a dotted name.
func (s *Schema) Lookup(name string) (*Setting, bool) {
	st, ok := s.settingsByName[name]
	return st, ok
}

// Bind performs the one-time reflective walk of sample's type (sample may be
// a struct value or pointer to struct) and returns the resulting Schema.
// Bind is meant to be called once per settings type per process; its result
// is safe to share across every app that uses that type.
func Bind(sample any, opts Options) (*Schema, error) {
	if opts.AnyTier == nil || opts.AnyDataCenter == nil {
		return nil, &nfig.SchemaError{Reason: "Options.AnyTier and Options.AnyDataCenter are required"}
	}

	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &nfig.SchemaError{Reason: "Bind requires a struct or pointer-to-struct"}
	}

	b := &binder{opts: opts, byName: map[string]*Setting{}}
	if err := b.walk(t, "", nil, nil); err != nil {
		return nil, err
	}

	if err := b.applyDefaultSource(sample); err != nil {
		return nil, err
	}

	for name, st := range b.byName {
		if err := validateDefaults(name, st); err != nil {
			return nil, err
		}
	}

	settings := make([]Setting, 0, len(b.byName))
	for _, st := range b.byName {
		settings = append(settings, *st)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Name < settings[j].Name })

	byName := make(map[string]*Setting, len(settings))
	for i := range settings {
		byName[settings[i].Name] = &settings[i]
	}

	return &Schema{
		rootType:       t,
		settings:       settings,
		settingsByName: byName,
		groupPaths:     b.groupPaths,
	}, nil
}

type converterFrame struct {
	conv nfig.Converter
}

type binder struct {
	opts       Options
	byName     map[string]*Setting
	groupPaths [][]fieldStep
}

// walk performs the depth-first struct traversal described in SPEC_FULL.md
// §4.1: a field is a setting if tagged `nfig:"name"`/`nfig:"name,encrypted"`,
// a group if tagged `nfig:"name,group"`, and ignored otherwise.
func (b *binder) walk(t reflect.Type, prefix string, path []fieldStep, groupChain []converterFrame) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("nfig")
		if !ok {
			continue
		}
		parts := strings.Split(tag, ",")
		leafName := parts[0]
		flags := parts[1:]
		encrypted := containsFlag(flags, "encrypted")
		isGroup := containsFlag(flags, "group")

		fieldType := field.Type
		isPtr := fieldType.Kind() == reflect.Ptr
		elemType := fieldType
		if isPtr {
			elemType = fieldType.Elem()
		}
		step := fieldStep{index: i, isPtr: isPtr, elemType: elemType}
		childPath := append(append([]fieldStep{}, path...), step)

		if isGroup {
			if elemType.Kind() != reflect.Struct {
				return &nfig.SchemaError{Setting: dotted(prefix, leafName), Reason: "group field must be a struct or pointer-to-struct"}
			}
			b.groupPaths = append(b.groupPaths, childPath)

			chain := groupChain
			if convName, ok := lookupTag(field, "nfig-converter"); ok {
				conv, ok := b.opts.Converters[convName]
				if !ok {
					return &nfig.SchemaError{Setting: dotted(prefix, leafName), Reason: fmt.Sprintf("unknown converter %q", convName)}
				}
				chain = append(append([]converterFrame{}, groupChain...), converterFrame{conv: conv})
			}

			if err := b.walk(elemType, dotted(prefix, leafName), childPath, chain); err != nil {
				return err
			}
			continue
		}

		name := dotted(prefix, leafName)
		if _, dup := b.byName[name]; dup {
			return &nfig.SchemaError{Setting: name, Reason: "duplicate setting name"}
		}

		conv, err := b.resolveConverter(field, elemType, groupChain, name)
		if err != nil {
			return err
		}

		setting := &Setting{
			Name:        name,
			Type:        elemType,
			Encrypted:   encrypted,
			Description: field.Tag.Get("desc"),
			Converter:   conv,
			fieldPath:   childPath,
		}

		if def, ok := field.Tag.Lookup("default"); ok {
			if encrypted {
				return &nfig.SchemaError{Setting: name, Reason: "encrypted settings may not declare a `default` struct tag; the unconditional default is implicitly the type's zero value"}
			}
			setting.Defaults = append(setting.Defaults, nfig.DefaultValue{
				Name:            name,
				Value:           def,
				Tier:            b.opts.AnyTier,
				DataCenter:      b.opts.AnyDataCenter,
				AllowsOverrides: !containsFlag(flags, "readonly"),
			})
		} else if encrypted {
			setting.Defaults = append(setting.Defaults, nfig.DefaultValue{
				Name:            name,
				Value:           zeroValueString(elemType),
				Tier:            b.opts.AnyTier,
				DataCenter:      b.opts.AnyDataCenter,
				AllowsOverrides: true,
			})
		}

		b.byName[name] = setting
	}
	return nil
}

func (b *binder) resolveConverter(field reflect.StructField, elemType reflect.Type, groupChain []converterFrame, name string) (nfig.Converter, error) {
	if convName, ok := lookupTag(field, "nfig-converter"); ok {
		conv, ok := b.opts.Converters[convName]
		if !ok {
			return nil, &nfig.SchemaError{Setting: name, Reason: fmt.Sprintf("unknown converter %q", convName)}
		}
		return conv, nil
	}
	for i := len(groupChain) - 1; i >= 0; i-- {
		if groupChain[i].conv != nil {
			return groupChain[i].conv, nil
		}
	}
	if conv := nfig.DefaultConverterFor(elemType); conv != nil {
		return conv, nil
	}
	return nil, &nfig.SchemaError{Setting: name, Reason: fmt.Sprintf("%v: no converter for type %s", nfig.ErrUnknownConverter, elemType)}
}

// applyDefaultSource merges any DefaultValueSource-contributed declarations
// into the per-setting default lists collected during walk.
func (b *binder) applyDefaultSource(sample any) error {
	src, ok := asDefaultValueSource(sample)
	if !ok {
		return nil
	}
	for _, decl := range src.NFigDefaults() {
		st, ok := b.byName[decl.Setting]
		if !ok {
			return &nfig.SchemaError{Setting: decl.Setting, Reason: "NFigDefaults declared a default for an unknown setting"}
		}
		if st.Encrypted && decl.SubAppID == nil && decl.Tier.IsAny() {
			return &nfig.SchemaError{Setting: decl.Setting, Reason: "encrypted settings forbid any (subAppId=nil, tier=Any) declaration except the implicit zero default"}
		}
		st.Defaults = append(st.Defaults, nfig.DefaultValue{
			Name:            decl.Setting,
			Value:           decl.Value,
			SubAppID:        decl.SubAppID,
			Tier:            decl.Tier,
			DataCenter:      decl.DataCenter,
			AllowsOverrides: decl.AllowsOverrides,
		})
	}
	return nil
}

// asDefaultValueSource tries both the value and a pointer to it, since a
// settings struct's NFigDefaults method set commonly has a pointer receiver.
func asDefaultValueSource(sample any) (DefaultValueSource, bool) {
	if src, ok := sample.(DefaultValueSource); ok {
		return src, true
	}
	v := reflect.ValueOf(sample)
	if v.Kind() != reflect.Ptr {
		ptr := reflect.New(v.Type())
		ptr.Elem().Set(v)
		if src, ok := ptr.Interface().(DefaultValueSource); ok {
			return src, true
		}
	}
	return nil, false
}

// validateDefaults enforces the invariants in SPEC_FULL.md §3 (DefaultValue):
// every setting needs exactly one unconditional default (or, if encrypted,
// none beyond the implicit zero value), and no two defaults may share an
// identical (subAppId, tier, dataCenter) tuple.
func validateDefaults(name string, st *Setting) error {
	seen := map[string]bool{}
	hasUnconditional := false
	for _, d := range st.Defaults {
		key := defaultKey(d)
		if seen[key] {
			return &nfig.SchemaError{Setting: name, Reason: "two defaults declare the same (subAppId, tier, dataCenter)"}
		}
		seen[key] = true
		if d.SubAppID == nil && d.Tier.IsAny() && d.DataCenter.IsAny() {
			hasUnconditional = true
		}
	}
	if !hasUnconditional {
		return &nfig.SchemaError{Setting: name, Reason: "missing unconditional default (subAppId=nil, tier=Any, dataCenter=Any)"}
	}
	return nil
}

func defaultKey(d nfig.DefaultValue) string {
	sub := "nil"
	if d.SubAppID != nil {
		sub = fmt.Sprintf("%d", *d.SubAppID)
	}
	return fmt.Sprintf("%s|%d|%d", sub, d.Tier.Ordinal(), d.DataCenter.Ordinal())
}

func containsFlag(flags []string, name string) bool {
	for _, f := range flags {
		if strings.TrimSpace(f) == name {
			return true
		}
	}
	return false
}

func lookupTag(field reflect.StructField, key string) (string, bool) {
	v, ok := field.Tag.Lookup(key)
	return v, ok
}

func dotted(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func zeroValueString(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return ""
	case reflect.Bool:
		return "false"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "0"
	case reflect.Float32, reflect.Float64:
		return "0"
	default:
		return ""
	}
}
