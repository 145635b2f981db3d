package schema

import "github.com/nfig-dev/nfig"

// EffectiveDefaults filters every setting's declared defaults down to those
// applicable to (tier, subAppID), per SPEC_FULL.md §4.2: a declared default
// is kept iff (decl.SubAppID == nil || decl.SubAppID == subAppID) &&
// (decl.Tier.IsAny() || decl.Tier == tier). The result still carries every
// remaining candidate per setting; the resolver (package resolver) is
// responsible for picking the single most-specific winner.
func (s *Schema) EffectiveDefaults(tier nfig.Axis, subAppID *int) nfig.ListBySetting[nfig.DefaultValue] {
	var kept []nfig.DefaultValue
	for _, st := range s.settings {
		for _, d := range st.Defaults {
			if !subAppApplies(d.SubAppID, subAppID) {
				continue
			}
			if !d.Tier.IsAny() && d.Tier.Ordinal() != tier.Ordinal() {
				continue
			}
			kept = append(kept, d)
		}
	}
	return nfig.NewListBySetting(kept)
}

func subAppApplies(declared *int, queried *int) bool {
	if declared == nil {
		return true
	}
	return queried != nil && *declared == *queried
}
