package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nfig-dev/nfig"
	"github.com/redis/go-redis/v9"
)

// RedisSink persists events in one Redis sorted set per app, scored by
// timestamp, with the post-commit snapshot stored alongside each member so
// SnapshotAt can answer without a second round trip. Grounded on the
// teacher's api.SlidingWindowRateLimiter (api/sliding_window_rate_limiter.go):
// same ZAdd-with-Z{Score,Member}/pipeline idiom, applied to an append-only
// log instead of a rate-limit window.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink creates a RedisSink. prefix namespaces the sorted-set keys
// (e.g. "nfig:events:"); pass "" to use the package default.
func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "nfig:events:"
	}
	return &RedisSink{client: client, prefix: prefix}
}

var _ Sink = (*RedisSink)(nil)

type logRecord struct {
	Event nfig.Event   `json:"event"`
	Snap  nfig.Snapshot `json:"snap"`
}

func (r *RedisSink) key(app string) string {
	return r.prefix + app
}

func (r *RedisSink) Record(ctx context.Context, event nfig.Event, snap nfig.Snapshot) error {
	payload, err := json.Marshal(logRecord{Event: event, Snap: snap})
	if err != nil {
		return fmt.Errorf("nfig/eventlog: marshal event: %w", err)
	}

	score := float64(event.Timestamp.UnixNano())
	member := fmt.Sprintf("%d:%s", event.Timestamp.UnixNano(), payload)

	if err := r.client.ZAdd(ctx, r.key(event.App), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("nfig/eventlog: zadd: %w", err)
	}
	return nil
}

func (r *RedisSink) Range(ctx context.Context, q Query) ([]nfig.Event, error) {
	apps := []string{q.App}
	if q.App == "" {
		keys, err := r.client.Keys(ctx, r.prefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("nfig/eventlog: list app keys: %w", err)
		}
		apps = apps[:0]
		for _, k := range keys {
			apps = append(apps, strings.TrimPrefix(k, r.prefix))
		}
	}

	minScore := "-inf"
	if q.MinTimestamp > 0 {
		minScore = strconv.FormatInt(q.MinTimestamp*1e9, 10)
	}
	maxScore := "+inf"
	if q.MaxTimestamp > 0 {
		// MaxTimestamp is exclusive; ZRangeByScore's "(" prefix means exclusive.
		maxScore = "(" + strconv.FormatInt(q.MaxTimestamp*1e9, 10)
	}

	var out []nfig.Event
	for _, app := range apps {
		members, err := r.client.ZRevRangeByScore(ctx, r.key(app), &redis.ZRangeBy{
			Min: minScore,
			Max: maxScore,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("nfig/eventlog: zrevrangebyscore: %w", err)
		}
		for _, m := range members {
			rec, ok := decodeMember(m)
			if !ok {
				continue
			}
			if !q.IncludeRestores && rec.Event.Type == nfig.EventRestoreSnapshot {
				continue
			}
			if q.SettingName != "" && rec.Event.Setting != q.SettingName {
				continue
			}
			if q.User != "" && rec.Event.User != q.User {
				continue
			}
			out = append(out, rec.Event)
		}
	}
	// Each app's events are already newest first; merge across apps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *RedisSink) SnapshotAt(ctx context.Context, app string, commit nfig.Commit) (nfig.Snapshot, bool, error) {
	members, err := r.client.ZRevRange(ctx, r.key(app), 0, -1).Result()
	if err != nil {
		return nfig.Snapshot{}, false, fmt.Errorf("nfig/eventlog: zrevrange: %w", err)
	}
	for _, m := range members {
		rec, ok := decodeMember(m)
		if !ok {
			continue
		}
		if rec.Event.NewCommit == commit {
			return rec.Snap, true, nil
		}
	}
	return nfig.Snapshot{}, false, nil
}

// decodeMember splits the "<nanos>:<json>" member format written by Record
// and unmarshals the JSON payload.
func decodeMember(member string) (logRecord, bool) {
	idx := strings.IndexByte(member, ':')
	if idx < 0 {
		return logRecord{}, false
	}
	var rec logRecord
	if err := json.Unmarshal([]byte(member[idx+1:]), &rec); err != nil {
		return logRecord{}, false
	}
	return rec, true
}
