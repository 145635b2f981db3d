package nfig

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError is a fatal, construction-time error raised by the schema
// binder: an unknown converter, a missing setter, a duplicate setting name,
// a disallowed encrypted-default shape, or an invalid encryptor.
type SchemaError struct {
	Setting string
	Reason  string
}

func (e *SchemaError) Error() string {
	if e.Setting == "" {
		return "nfig: schema error: " + e.Reason
	}
	return fmt.Sprintf("nfig: schema error on %q: %s", e.Setting, e.Reason)
}

// ConversionError indicates a string value did not parse for its setting's
// declared type.
type ConversionError struct {
	Setting string
	Value   string
	Type    string
	Err     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("nfig: cannot convert %q to %s for setting %q: %v", e.Value, e.Type, e.Setting, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// InvalidDefaultValue indicates a compile-time declared default failed
// conversion or validation.
type InvalidDefaultValue struct {
	Setting string
	Value   string
	Err     error
}

func (e *InvalidDefaultValue) Error() string {
	return fmt.Sprintf("nfig: invalid default value %q for setting %q: %v", e.Value, e.Setting, e.Err)
}

func (e *InvalidDefaultValue) Unwrap() error { return e.Err }

// InvalidOverridesException aggregates every InvalidOverride diagnostic
// produced by a single Resolve call. The resolver always returns a complete
// settings instance alongside this; it is informational, not fatal.
type InvalidOverridesException struct {
	Invalid []InvalidOverride
}

func (e *InvalidOverridesException) Error() string {
	parts := make([]string, 0, len(e.Invalid))
	for _, inv := range e.Invalid {
		parts = append(parts, inv.Error())
	}
	return fmt.Sprintf("nfig: %d invalid override(s): %s", len(e.Invalid), strings.Join(parts, "; "))
}

// Common sentinel errors.
var (
	// ErrCorruptStoreState is returned when a persisted snapshot cannot be
	// parsed. There is no safe recovery; callers must propagate it.
	ErrCorruptStoreState = errors.New("nfig: corrupt store state")

	// ErrUnknownConverter's text starts the Reason of the SchemaError Bind
	// returns when a setting's value type has no registered converter and
	// none was attached explicitly. SchemaError does not wrap it, so
	// errors.Is does not find it there.
	ErrUnknownConverter = errors.New("nfig: no converter registered for type")

	// ErrAmbiguousAxis names the error for Any as a store's current tier or
	// data center. The stores in this module take no current tier or data
	// center, and no function in the module returns it.
	ErrAmbiguousAxis = errors.New("nfig: tier and data center must be concrete, not Any, for a store's current context")

	// ErrAppMismatch is returned by Restore when the supplied snapshot
	// belongs to a different app.
	ErrAppMismatch = errors.New("nfig: snapshot belongs to a different app")
)

// TransportError wraps an underlying persistence-driver failure with the
// operation it happened in. The stores in this module do not construct it:
// redisstore returns driver failures wrapped with fmt.Errorf, and passes them
// to subscriber callbacks in the same form.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("nfig: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
