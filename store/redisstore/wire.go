package redisstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nfig-dev/nfig"
)

func unixNanoToTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// nfig.OverrideValue's DataCenter field is tagged json:"-" because Axis is a
// user-defined enum with no generic unmarshal path; persisting it durably
// (unlike eventlog's best-effort audit trail) needs the ordinal carried
// explicitly and an AxisFactory to reconstruct it on read.
type wireOverride struct {
	Name              string  `json:"name"`
	Value             string  `json:"value"`
	SubAppID          *int    `json:"subAppId,omitempty"`
	DataCenterOrdinal int     `json:"dataCenterOrdinal"`
	ExpiresAtUnixNano *int64  `json:"expiresAtUnixNano,omitempty"`
}

type wireEvent struct {
	Type              nfig.EventType `json:"type"`
	App               string         `json:"app"`
	Setting           string         `json:"setting,omitempty"`
	Value             string         `json:"value,omitempty"`
	DataCenter        string         `json:"dataCenter,omitempty"`
	RestoredCommit    nfig.Commit    `json:"restoredCommit,omitempty"`
	User              string         `json:"user"`
	TimestampUnixNano int64          `json:"timestampUnixNano"`
	PriorCommit       nfig.Commit    `json:"priorCommit"`
	NewCommit         nfig.Commit    `json:"newCommit"`
}

type wireSnapshot struct {
	AppName   string         `json:"appName"`
	Commit    nfig.Commit    `json:"commit"`
	Overrides []wireOverride `json:"overrides"`
	LastEvent *wireEvent     `json:"lastEvent,omitempty"`
}

func encodeSnapshot(snap nfig.Snapshot) (string, error) {
	w := wireSnapshot{
		AppName: snap.AppName,
		Commit:  snap.Commit,
	}
	for _, o := range snap.Overrides.ToSlice() {
		wo := wireOverride{
			Name:     o.Name,
			Value:    o.Value,
			SubAppID: o.SubAppID,
		}
		if o.DataCenter != nil {
			wo.DataCenterOrdinal = o.DataCenter.Ordinal()
		}
		if o.ExpiresAt != nil {
			nanos := o.ExpiresAt.UnixNano()
			wo.ExpiresAtUnixNano = &nanos
		}
		w.Overrides = append(w.Overrides, wo)
	}
	if snap.LastEvent != nil {
		e := snap.LastEvent
		w.LastEvent = &wireEvent{
			Type:              e.Type,
			App:               e.App,
			Setting:           e.Setting,
			Value:             e.Value,
			DataCenter:        e.DataCenter,
			RestoredCommit:    e.RestoredCommit,
			User:              e.User,
			TimestampUnixNano: e.Timestamp.UnixNano(),
			PriorCommit:       e.PriorCommit,
			NewCommit:         e.NewCommit,
		}
	}

	buf, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeSnapshot(raw, app string, axisOf AxisFactory) (nfig.Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nfig.Snapshot{}, fmt.Errorf("nfig/redisstore: decode snapshot for %s: %w: %w", app, nfig.ErrCorruptStoreState, err)
	}

	overrides := make([]nfig.OverrideValue, 0, len(w.Overrides))
	for _, wo := range w.Overrides {
		ov := nfig.OverrideValue{
			Name:       wo.Name,
			Value:      wo.Value,
			SubAppID:   wo.SubAppID,
			DataCenter: axisOf(wo.DataCenterOrdinal),
		}
		if wo.ExpiresAtUnixNano != nil {
			t := unixNanoToTime(*wo.ExpiresAtUnixNano)
			ov.ExpiresAt = &t
		}
		overrides = append(overrides, ov)
	}

	snap := nfig.Snapshot{
		AppName:   w.AppName,
		Commit:    w.Commit,
		Overrides: nfig.NewListBySetting(overrides),
	}
	if w.LastEvent != nil {
		we := w.LastEvent
		snap.LastEvent = &nfig.Event{
			Type:           we.Type,
			App:            we.App,
			Setting:        we.Setting,
			Value:          we.Value,
			DataCenter:     we.DataCenter,
			RestoredCommit: we.RestoredCommit,
			User:           we.User,
			Timestamp:      unixNanoToTime(we.TimestampUnixNano),
			PriorCommit:    we.PriorCommit,
			NewCommit:      we.NewCommit,
		}
	}
	return snap, nil
}
