package nfig

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Converter maps a setting's declared value type to a stringify/parse pair.
// Stringify is used when a setting is written back out (e.g. migrating a
// default into an override); Parse turns a stored string into a Go value
// assignable to the setting's field.
type Converter interface {
	// Parse converts s into a value assignable to a field of the given type.
	Parse(s string, fieldType reflect.Type) (reflect.Value, error)
	// Stringify converts v back into its canonical string form.
	Stringify(v reflect.Value) (string, error)
}

// ConverterFunc adapts a pair of plain functions to the Converter interface.
type ConverterFunc struct {
	ParseFn     func(s string, fieldType reflect.Type) (reflect.Value, error)
	StringifyFn func(v reflect.Value) (string, error)
}

func (c ConverterFunc) Parse(s string, fieldType reflect.Type) (reflect.Value, error) {
	return c.ParseFn(s, fieldType)
}

func (c ConverterFunc) Stringify(v reflect.Value) (string, error) {
	return c.StringifyFn(v)
}

// defaultConverters is the process-wide, immutable default-converter map,
// populated once below. Per spec.md §9 ("Global per-type default-converter
// map"), there is no runtime registration API: callers attach per-property
// or per-group converters instead (see package schema).
var defaultConverters = map[reflect.Kind]Converter{
	reflect.String: ConverterFunc{
		ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
			return reflect.ValueOf(s).Convert(t), nil
		},
		StringifyFn: func(v reflect.Value) (string, error) { return v.String(), nil },
	},
	reflect.Bool: ConverterFunc{
		ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b).Convert(t), nil
		},
		StringifyFn: func(v reflect.Value) (string, error) { return strconv.FormatBool(v.Bool()), nil },
	},
	reflect.Int: intConverter(64),
	reflect.Int8: intConverter(8),
	reflect.Int16: intConverter(16),
	reflect.Int32: intConverter(32),
	reflect.Int64: intConverter(64),
	reflect.Uint: uintConverter(64),
	reflect.Uint8: uintConverter(8),
	reflect.Uint16: uintConverter(16),
	reflect.Uint32: uintConverter(32),
	reflect.Uint64: uintConverter(64),
	reflect.Float32: floatConverter(32),
	reflect.Float64: floatConverter(64),
}

func intConverter(bits int) Converter {
	return ConverterFunc{
		ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(n).Convert(t), nil
		},
		StringifyFn: func(v reflect.Value) (string, error) { return strconv.FormatInt(v.Int(), 10), nil },
	}
}

func uintConverter(bits int) Converter {
	return ConverterFunc{
		ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
			n, err := strconv.ParseUint(strings.TrimSpace(s), 10, bits)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(n).Convert(t), nil
		},
		StringifyFn: func(v reflect.Value) (string, error) { return strconv.FormatUint(v.Uint(), 10), nil },
	}
}

func floatConverter(bits int) Converter {
	return ConverterFunc{
		ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(f).Convert(t), nil
		},
		StringifyFn: func(v reflect.Value) (string, error) { return strconv.FormatFloat(v.Float(), 'f', -1, bits), nil },
	}
}

// durationType is compared against explicitly because time.Duration's
// reflect.Kind is Int64, which would otherwise be parsed as a bare integer.
var durationType = reflect.TypeOf(time.Duration(0))

// DurationConverter parses Go duration strings ("30s", "5m") for
// time.Duration-typed settings. It is not in the default-by-kind table,
// because time.Duration shares its Kind with plain int64 settings;
// DefaultConverterFor returns it for time.Duration by checking the exact
// type before consulting that table.
var DurationConverter Converter = ConverterFunc{
	ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(d).Convert(t), nil
	},
	StringifyFn: func(v reflect.Value) (string, error) {
		return v.Interface().(time.Duration).String(), nil
	},
}

// DefaultConverterFor returns the registry's built-in converter for t, or
// nil if none is registered. Enum types (named integer kinds with a
// String()/Parse-by-name convention) should be attached explicitly via
// EnumConverter rather than relying on the default table.
func DefaultConverterFor(t reflect.Type) Converter {
	if t == durationType {
		return DurationConverter
	}
	return defaultConverters[t.Kind()]
}

// EnumConverter builds a Converter for a named-integer enum type given its
// name<->value mapping. This is the recommended converter for Tier/DataCenter
// Axis implementations and any other user-defined enumeration.
func EnumConverter(names map[string]int64) Converter {
	byOrdinal := make(map[int64]string, len(names))
	for name, ord := range names {
		byOrdinal[ord] = name
	}
	return ConverterFunc{
		ParseFn: func(s string, t reflect.Type) (reflect.Value, error) {
			ord, ok := names[s]
			if !ok {
				return reflect.Value{}, fmt.Errorf("nfig: %q is not a valid member of enum %s", s, t.Name())
			}
			return reflect.ValueOf(ord).Convert(t), nil
		},
		StringifyFn: func(v reflect.Value) (string, error) {
			name, ok := byOrdinal[v.Int()]
			if !ok {
				return "", fmt.Errorf("nfig: %d is not a valid member of enum", v.Int())
			}
			return name, nil
		},
	}
}
