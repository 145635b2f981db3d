package nfig

import (
	"encoding/json"
	"fmt"
	"sort"
)

// named is satisfied by every value type stored in a BySetting/ListBySetting
// map: it must expose the setting name it belongs to as the map key.
type named interface {
	settingName() string
}

func (d DefaultValue) settingName() string   { return d.Name }
func (o OverrideValue) settingName() string  { return o.Name }

// BySetting is a compact, immutable dictionary from setting name to exactly
// one value. Construction fails if the input contains a duplicate key.
type BySetting[T named] struct {
	keys   []string
	values map[string]T
}

// NewBySetting builds a BySetting from a list of values, sorted by key.
// It returns an error, and no map, if two entries share a setting name;
// callers that cannot guarantee uniqueness should use ListBySetting instead.
func NewBySetting[T named](items []T) (BySetting[T], error) {
	values := make(map[string]T, len(items))
	for _, item := range items {
		key := item.settingName()
		if _, exists := values[key]; exists {
			return BySetting[T]{}, fmt.Errorf("nfig: duplicate setting name %q", key)
		}
		values[key] = item
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return BySetting[T]{keys: keys, values: values}, nil
}

// Get returns the value for name and whether it was present.
func (b BySetting[T]) Get(name string) (T, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Len returns the number of distinct settings represented.
func (b BySetting[T]) Len() int { return len(b.keys) }

// Keys returns setting names in stable lexicographic order.
func (b BySetting[T]) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// All iterates entries in stable lexicographic key order.
func (b BySetting[T]) All(fn func(name string, value T)) {
	for _, k := range b.keys {
		fn(k, b.values[k])
	}
}

// run is one contiguous block of same-key entries, preserving insertion order.
type run[T named] struct {
	key    string
	values []T
}

// ListBySetting is a compact dictionary from setting name to a non-empty,
// contiguous run of values. Duplicate keys are allowed and preserved in
// insertion order within their run; enumeration order is lexicographic by
// key across runs.
type ListBySetting[T named] struct {
	runs []run[T]
	idx  map[string]int // key -> index into runs
}

// NewListBySetting groups items by setting name, coalescing each name's
// entries into one run, and sorts runs lexicographically by key. Insertion
// order within a run is preserved.
func NewListBySetting[T named](items []T) ListBySetting[T] {
	grouped := make(map[string][]T)
	var keys []string
	for _, item := range items {
		key := item.settingName()
		if _, ok := grouped[key]; !ok {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], item)
	}
	sort.Strings(keys)

	runs := make([]run[T], 0, len(keys))
	idx := make(map[string]int, len(keys))
	for i, k := range keys {
		runs = append(runs, run[T]{key: k, values: grouped[k]})
		idx[k] = i
	}
	return ListBySetting[T]{runs: runs, idx: idx}
}

// GetAll returns every value declared for name, in insertion order.
func (l ListBySetting[T]) GetAll(name string) []T {
	i, ok := l.idx[name]
	if !ok {
		return nil
	}
	out := make([]T, len(l.runs[i].values))
	copy(out, l.runs[i].values)
	return out
}

// Len returns the number of distinct settings represented (not the total
// value count).
func (l ListBySetting[T]) Len() int { return len(l.runs) }

// Count returns the total number of values across all runs.
func (l ListBySetting[T]) Count() int {
	n := 0
	for _, r := range l.runs {
		n += len(r.values)
	}
	return n
}

// Keys returns setting names in stable lexicographic order.
func (l ListBySetting[T]) Keys() []string {
	out := make([]string, len(l.runs))
	for i, r := range l.runs {
		out[i] = r.key
	}
	return out
}

// All iterates (name, values) runs in stable lexicographic key order.
func (l ListBySetting[T]) All(fn func(name string, values []T)) {
	for _, r := range l.runs {
		fn(r.key, r.values)
	}
}

// ToSlice flattens every run back into a single slice, preserving the
// lexicographic-by-key, then-insertion-order iteration order.
func (l ListBySetting[T]) ToSlice() []T {
	out := make([]T, 0, l.Count())
	for _, r := range l.runs {
		out = append(out, r.values...)
	}
	return out
}

// WithReplaced returns a new ListBySetting where any existing value
// satisfying same(existing) is removed from name's run and value is
// appended, preserving every other setting's run untouched. Used by
// stores implementing the "replace by (subApp, dataCenter) identity" rule
// (SPEC_FULL.md §4.5) for SetOverride.
func WithReplaced[T named](l ListBySetting[T], name string, value T, same func(existing T) bool) ListBySetting[T] {
	items := l.ToSlice()
	filtered := make([]T, 0, len(items)+1)
	for _, item := range items {
		if item.settingName() == name && same(item) {
			continue
		}
		filtered = append(filtered, item)
	}
	filtered = append(filtered, value)
	return NewListBySetting(filtered)
}

// WithRemoved returns a new ListBySetting with every value satisfying
// match(existing) removed from name's run, plus whether anything was
// actually removed (used by ClearOverride's no-op-if-absent rule).
func WithRemoved[T named](l ListBySetting[T], name string, match func(existing T) bool) (ListBySetting[T], bool) {
	items := l.ToSlice()
	filtered := make([]T, 0, len(items))
	removed := false
	for _, item := range items {
		if item.settingName() == name && match(item) {
			removed = true
			continue
		}
		filtered = append(filtered, item)
	}
	return NewListBySetting(filtered), removed
}

// MarshalJSON serializes a ListBySetting as a plain object of
// name -> array-of-value, matching the neutral wire format in SPEC_FULL.md §6.
func (l ListBySetting[T]) MarshalJSON() ([]byte, error) {
	obj := make(map[string][]T, len(l.runs))
	for _, r := range l.runs {
		obj[r.key] = r.values
	}
	return json.Marshal(obj)
}

// UnmarshalJSON parses the name -> array-of-value wire format back into a
// ListBySetting, restoring lexicographic-by-key ordering.
func (l *ListBySetting[T]) UnmarshalJSON(data []byte) error {
	var obj map[string][]T
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	var items []T
	for _, values := range obj {
		items = append(items, values...)
	}
	*l = NewListBySetting(items)
	return nil
}
