// Package resolver implements NFig's pure, CPU-bound resolution algorithm:
// given a schema, a filtered defaults table, a snapshot of overrides, and an
// evaluation context, it picks the single most-specific value per setting
// and assembles a new settings instance. See SPEC_FULL.md §4.4.
package resolver

import (
	"time"

	"github.com/nfig-dev/nfig"
	"github.com/nfig-dev/nfig/schema"
)

// Decryptor is the narrow interface Resolve needs to handle encrypted
// settings; crypto.AESGCMEncryptor satisfies it without resolver importing
// package crypto directly.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// candidate is an applicable value plus the specificity fields needed to
// rank it against its peers, per the precedence chain in SPEC_FULL.md §4.4.
type candidate struct {
	value           string
	isOverride      bool
	subAppSpecific  bool
	tierSpecific    bool
	dcSpecific      bool
	allowsOverrides bool
	source          any // nfig.OverrideValue or nfig.DefaultValue, for diagnostics
}

// more reports whether a is strictly more specific than b per the precedence
// chain: override beats default, then subApp, then tier, then data center.
func more(a, b candidate) bool {
	if a.isOverride != b.isOverride {
		return a.isOverride
	}
	if a.subAppSpecific != b.subAppSpecific {
		return a.subAppSpecific
	}
	if a.tierSpecific != b.tierSpecific {
		return a.tierSpecific
	}
	return a.dcSpecific && !b.dcSpecific
}

// Resolve builds a fresh settings instance from schema, applying defaults
// (already filtered to (tier, subApp) via schema.EffectiveDefaults) and
// overrides from snap, for the given evaluation context. It never aborts on
// a per-setting failure: such failures are recorded as InvalidOverride
// diagnostics and the setting falls back to its most specific remaining
// valid value.
//
// dec may be nil if no settings in schema are encrypted.
func Resolve(sch *schema.Schema, defaults nfig.ListBySetting[nfig.DefaultValue], snap nfig.Snapshot, ctx nfig.Context, dec Decryptor) (any, []nfig.InvalidOverride) {
	root := sch.Build()
	var invalid []nfig.InvalidOverride
	now := time.Now()

	for _, st := range sch.Settings() {
		best, bestDefault, ok := pickWinner(st, defaults, snap, ctx, now)
		if !ok {
			continue // no applicable value at all; leave the zero value
		}

		value := best.value
		if st.Encrypted && dec != nil {
			plain, err := dec.Decrypt(value)
			if err != nil {
				if best.isOverride {
					invalid = append(invalid, nfig.InvalidOverride{Setting: st.Name, Value: value, Reason: err})
					best = bestDefault
					value = best.value
					if plain2, err2 := dec.Decrypt(value); err2 == nil {
						value = plain2
					}
				}
			} else {
				value = plain
			}
		}

		if best.isOverride && !bestDefault.allowsOverrides {
			invalid = append(invalid, nfig.InvalidOverride{
				Setting: st.Name,
				Value:   value,
				Reason:  errAllowsOverridesFalse,
			})
			best = bestDefault
			value = best.value
		}

		if err := sch.Set(root, st.Name, value); err != nil {
			if best.isOverride {
				invalid = append(invalid, nfig.InvalidOverride{Setting: st.Name, Value: value, Reason: err})
				if bestDefault.value != "" || !bestDefault.isOverride {
					_ = sch.Set(root, st.Name, bestDefault.value)
				}
			}
			// A default that fails to parse indicates a schema/registration
			// bug; leave the zero value rather than abort the whole build.
		}
	}

	return root, invalid
}

var errAllowsOverridesFalse = allowsOverridesErr{}

type allowsOverridesErr struct{}

func (allowsOverridesErr) Error() string {
	return "winning default has allowsOverrides=false; override rejected"
}

// pickWinner scans every applicable override and default for st in a single
// pass, returning the overall winner plus the best applicable default (used
// as the fallback when the winning override must be rejected).
func pickWinner(st schema.Setting, defaults nfig.ListBySetting[nfig.DefaultValue], snap nfig.Snapshot, ctx nfig.Context, now time.Time) (best, bestDefault candidate, ok bool) {
	haveBest := false
	haveDefault := false

	for _, d := range defaults.GetAll(st.Name) {
		if !subAppMatches(d.SubAppID, ctx.SubAppID) {
			continue
		}
		if !axisMatches(d.DataCenter, ctx.DataCenter) {
			continue
		}
		c := candidate{
			value:           d.Value,
			isOverride:      false,
			subAppSpecific:  d.SubAppID != nil,
			tierSpecific:    !d.Tier.IsAny(),
			dcSpecific:      !d.DataCenter.IsAny(),
			allowsOverrides: d.AllowsOverrides,
			source:          d,
		}
		if !haveDefault || more(c, bestDefault) {
			bestDefault = c
			haveDefault = true
		}
		if !haveBest || more(c, best) {
			best = c
			haveBest = true
		}
	}

	for _, o := range snap.Overrides.GetAll(st.Name) {
		if o.Expired(now) {
			continue
		}
		if !subAppMatches(o.SubAppID, ctx.SubAppID) {
			continue
		}
		if !axisMatches(o.DataCenter, ctx.DataCenter) {
			continue
		}
		c := candidate{
			value:          o.Value,
			isOverride:     true,
			subAppSpecific: o.SubAppID != nil,
			tierSpecific:   false,
			dcSpecific:     !o.DataCenter.IsAny(),
			source:         o,
		}
		if !haveBest || more(c, best) {
			best = c
			haveBest = true
		}
	}

	return best, bestDefault, haveBest
}

func subAppMatches(declared *int, ctxSubApp *int) bool {
	if declared == nil {
		return true
	}
	return ctxSubApp != nil && *declared == *ctxSubApp
}

func axisMatches(declared, ctxAxis nfig.Axis) bool {
	if declared == nil || declared.IsAny() {
		return true
	}
	return ctxAxis != nil && declared.Ordinal() == ctxAxis.Ordinal()
}
