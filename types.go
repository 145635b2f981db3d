// Package nfig resolves a strongly-typed settings object from a layered set
// of compile-time defaults and runtime overrides, scoped along sub-app,
// deployment tier, and data center. See SPEC_FULL.md for the full design.
package nfig

import "time"

// Commit is an opaque, monotonically-distinct token minted by a Store on
// every successful mutation of an app's override set.
type Commit string

// InitialCommit is the sentinel commit for an app that has never been
// written to.
const InitialCommit Commit = "00000000-0000-0000-0000-000000000000"

// EventType enumerates the kinds of mutation an Event can record.
type EventType string

const (
	EventSetOverride     EventType = "SetOverride"
	EventClearOverride   EventType = "ClearOverride"
	EventRestoreSnapshot EventType = "RestoreSnapshot"
)

// DefaultValue is a compile-time declared default for a setting, scoped by
// an optional sub-app and by tier/data-center axes (Any meaning unscoped).
type DefaultValue struct {
	Name            string `json:"name"`
	Value           string `json:"value"`
	SubAppID        *int   `json:"subAppId,omitempty"`
	Tier            Axis   `json:"-"`
	DataCenter      Axis   `json:"-"`
	AllowsOverrides bool   `json:"allowsOverrides"`
}

// OverrideValue is a runtime value stored persistently that supersedes a
// default when applicable. Tier is implicit in the store's identity and is
// never carried on an override.
type OverrideValue struct {
	Name       string     `json:"name"`
	Value      string     `json:"value"`
	SubAppID   *int       `json:"subAppId,omitempty"`
	DataCenter Axis       `json:"-"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether this override should be treated as absent because
// its expiry has passed. A nil ExpiresAt never expires.
func (o OverrideValue) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// SameIdentity reports whether two overrides replace each other under the
// store's replace semantics: same (subAppId, dataCenter) tuple.
func (o OverrideValue) SameIdentity(other OverrideValue) bool {
	if o.DataCenter.Ordinal() != other.DataCenter.Ordinal() {
		return false
	}
	switch {
	case o.SubAppID == nil && other.SubAppID == nil:
		return true
	case o.SubAppID == nil || other.SubAppID == nil:
		return false
	default:
		return *o.SubAppID == *other.SubAppID
	}
}

// Event records exactly one mutating store operation: the pre- and
// post-commit identifiers, who did it, and when.
type Event struct {
	Type           EventType  `json:"type"`
	App            string     `json:"app"`
	Setting        string     `json:"setting,omitempty"`
	Value          string     `json:"value,omitempty"`
	DataCenter     string     `json:"dataCenter,omitempty"`
	RestoredCommit Commit     `json:"restoredCommit,omitempty"`
	User           string     `json:"user"`
	Timestamp      time.Time  `json:"timestamp"`
	PriorCommit    Commit     `json:"priorCommit"`
	NewCommit      Commit     `json:"newCommit"`
}

// Snapshot is the immutable unit of state exchanged between the store and
// its consumers: an app's current commit, its full override set, and the
// event that produced it.
type Snapshot struct {
	AppName   string                         `json:"appName"`
	Commit    Commit                         `json:"commit"`
	Overrides ListBySetting[OverrideValue]   `json:"overrides"`
	LastEvent *Event                         `json:"lastEvent,omitempty"`
}

// EmptySnapshot returns the canonical empty state for an app that has never
// been written to: InitialCommit, no overrides, no last event.
func EmptySnapshot(appName string) Snapshot {
	return Snapshot{
		AppName:   appName,
		Commit:    InitialCommit,
		Overrides: NewListBySetting[OverrideValue](nil),
	}
}

// InvalidOverride is a diagnostic emitted by the resolver when a setting's
// winning override could not be applied (parse failure, decryption failure,
// or a covering default with AllowsOverrides=false). The resolver still
// returns a complete settings instance; this is carried alongside it.
type InvalidOverride struct {
	Setting string
	Value   string
	Reason  error
}

func (e InvalidOverride) Error() string {
	return "invalid override for " + e.Setting + ": " + e.Reason.Error()
}
