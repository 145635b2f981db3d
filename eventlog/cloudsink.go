package eventlog

import (
	"context"
	"log/slog"

	"github.com/nfig-dev/nfig"
	"github.com/nfig-dev/nfig/internal/slogging"
)

// CloudShippingSink decorates another Sink, additionally shipping every
// recorded event off-box through a slogging.CloudLogWriter (e.g. OCI
// Logging) for long-term audit retention independent of the backing
// store's own retention window. Shipping is best-effort: a cloud write
// failure is reported to errSink (if non-nil) and never affects the
// inner Sink's Record result.
type CloudShippingSink struct {
	Sink
	writer  slogging.CloudLogWriter
	errSink ErrorSink
}

// NewCloudShippingSink wraps inner so every Record also ships to writer.
// A nil writer makes this a transparent passthrough, which lets callers
// wire a Config-driven optional writer without a branch at the call site.
func NewCloudShippingSink(inner Sink, writer slogging.CloudLogWriter, errSink ErrorSink) *CloudShippingSink {
	return &CloudShippingSink{Sink: inner, writer: writer, errSink: errSink}
}

var _ Sink = (*CloudShippingSink)(nil)

func (c *CloudShippingSink) Record(ctx context.Context, event nfig.Event, snap nfig.Snapshot) error {
	if err := c.Sink.Record(ctx, event, snap); err != nil {
		return err
	}

	if c.writer == nil {
		return nil
	}

	entry := slogging.LogEntry{
		Timestamp: event.Timestamp,
		Level:     slog.LevelInfo,
		Message:   string(event.Type),
		Attrs: map[string]interface{}{
			"app":          event.App,
			"setting":      event.Setting,
			"user":         event.User,
			"prior_commit": string(event.PriorCommit),
			"new_commit":   string(event.NewCommit),
		},
	}
	if event.Type == nfig.EventRestoreSnapshot {
		entry.Attrs["restored_commit"] = string(event.RestoredCommit)
	}

	if err := c.writer.WriteLog(ctx, entry); err != nil && c.errSink != nil {
		c.errSink(err)
	}
	return nil
}

// NewOCIShippingSink wraps inner with a CloudShippingSink backed by a
// fresh OCICloudWriter, for deployments that keep their audit trail in
// OCI Logging alongside the compartment already used for secrets
// (SPEC_FULL.md's OCI Vault provider, package internal/secrets).
func NewOCIShippingSink(ctx context.Context, inner Sink, cfg slogging.OCICloudWriterConfig, errSink ErrorSink) (*CloudShippingSink, error) {
	writer, err := slogging.NewOCICloudWriter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewCloudShippingSink(inner, writer, errSink), nil
}
