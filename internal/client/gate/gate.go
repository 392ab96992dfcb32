// Package gate decides whether a principal may upload a file or use a
// feature under its tier.
//
// Denials are values, not errors: a Decision carries the reason, a
// human-readable message and an upgrade suggestion. CheckUpload returns an
// error only when usage data cannot be read.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/metrics"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/NadirInab/datavis-sub001/internal/logging"
	"github.com/dustin/go-humanize"
)

// UsageSource reports an identity's stored record count and bytes.
type UsageSource interface {
	Usage(ctx context.Context, owner string) (int, int64, error)
}

// HistorySource reports an identity's upload history, oldest first.
type HistorySource interface {
	History(ctx context.Context, identity string) []models.UploadEvent
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool

	// Set when allowed: what is left after this upload. RemainingFiles is
	// policy.Unlimited when the tier has no file cap.
	RemainingFiles int
	RemainingBytes int64

	// Set when denied.
	Reason     error
	Message    string
	Detail     string
	Upgrade    *policy.Suggestion
	RetryAfter time.Duration
}

// Err returns the deny reason, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.Reason
}

type Gate struct {
	table   *policy.Table
	usage   UsageSource
	history HistorySource
	log     logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

func New(table *policy.Table, usage UsageSource, history HistorySource, log logging.Logger, opts ...Option) *Gate {
	g := &Gate{table: table, usage: usage, history: history, log: log, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	g.metrics = metrics.OrDiscard(g.metrics)
	return g
}

// Limits returns the limits governing p.
func (g *Gate) Limits(p models.Principal) policy.Limits {
	return g.table.Limits(p.Tier)
}

func (g *Gate) deny(reason error, detail string, upgrade *policy.Suggestion) Decision {
	return Decision{Reason: reason, Message: reason.Error(), Detail: detail, Upgrade: upgrade}
}

// CheckUpload evaluates, in order: format, file size, file count, total
// bytes and upload rate. The first failing check decides.
func (g *Gate) CheckUpload(ctx context.Context, p models.Principal, size int64, format string) (Decision, error) {
	d, err := g.checkUpload(ctx, p, size, format)
	if err != nil {
		return Decision{}, err
	}

	outcome := "allowed"
	if !d.Allowed {
		outcome = reasonLabel(d.Reason)
		g.log.Info(ctx, "upload denied",
			"identity", p.ID, "tier", p.Tier, "reason", d.Message, "detail", d.Detail)
	}
	g.metrics.GateDecisions.WithLabelValues(p.Tier.String(), outcome).Inc()
	return d, nil
}

func (g *Gate) checkUpload(ctx context.Context, p models.Principal, size int64, format string) (Decision, error) {
	l := g.table.Limits(p.Tier)
	format = policy.NormalizeFormat(format)

	if !l.AllowsFormat(format) {
		return g.deny(common.ErrFormatRejected,
			fmt.Sprintf("%q is not available on the %s tier", format, p.Tier),
			g.table.UpgradeFor(p.Tier, format)), nil
	}

	if size > l.MaxFileSize {
		return g.deny(common.ErrSizeExceeded,
			fmt.Sprintf("%s exceeds the %s per-file limit", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(l.MaxFileSize))),
			g.table.Next(p.Tier)), nil
	}

	count, used, err := g.usage.Usage(ctx, p.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("read usage: %w", err)
	}

	if !l.UnlimitedFiles() && count >= l.MaxFiles {
		return g.deny(common.ErrFileCountExceeded,
			fmt.Sprintf("%d of %d files stored", count, l.MaxFiles),
			g.table.Next(p.Tier)), nil
	}

	if used+size > l.MaxBytes {
		return g.deny(common.ErrByteQuotaExceeded,
			fmt.Sprintf("%s used of %s, %s more requested",
				humanize.IBytes(uint64(used)), humanize.IBytes(uint64(l.MaxBytes)), humanize.IBytes(uint64(size))),
			g.table.Next(p.Tier)), nil
	}

	now := g.now()
	windowStart := now.Add(-l.Window)
	var (
		inWindow int
		oldest   time.Time
	)
	for _, e := range g.history.History(ctx, p.ID) {
		if !e.Timestamp.After(windowStart) {
			continue
		}
		if inWindow == 0 || e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		inWindow++
	}
	if inWindow >= l.MaxUploadsPerWindow {
		d := g.deny(common.ErrRateLimited,
			fmt.Sprintf("%d uploads in the last %s", inWindow, l.Window),
			g.table.Next(p.Tier))
		d.RetryAfter = oldest.Add(l.Window).Sub(now)
		return d, nil
	}

	remainingFiles := policy.Unlimited
	if !l.UnlimitedFiles() {
		remainingFiles = l.MaxFiles - count - 1
	}
	return Decision{
		Allowed:        true,
		RemainingFiles: remainingFiles,
		RemainingBytes: l.MaxBytes - used - size,
	}, nil
}

// CheckFeature reports whether p's tier includes feature.
func (g *Gate) CheckFeature(p models.Principal, feature string) Decision {
	if g.table.Limits(p.Tier).AllowsFeature(feature) {
		return Decision{Allowed: true}
	}
	return g.deny(common.ErrFeatureRejected,
		fmt.Sprintf("%q is not available on the %s tier", feature, p.Tier),
		g.table.UpgradeFor(p.Tier, feature))
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, common.ErrFormatRejected):
		return "format_rejected"
	case errors.Is(err, common.ErrSizeExceeded):
		return "size_exceeded"
	case errors.Is(err, common.ErrFileCountExceeded):
		return "file_count_exceeded"
	case errors.Is(err, common.ErrByteQuotaExceeded):
		return "byte_quota_exceeded"
	case errors.Is(err, common.ErrRateLimited):
		return "rate_limited"
	default:
		return "denied"
	}
}
