// Package usage keeps per-identity upload ledgers in the local medium.
//
// All ledgers live in one JSON object under common.UsageKey, keyed by
// identity id. Reads never fail: a missing or corrupt ledger reads as empty.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/kv"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/NadirInab/datavis-sub001/internal/logging"
)

const DefaultMaxHistory = 500

type FileInfo struct {
	Name string
	Size int64
}

// Stats summarizes a ledger.
type Stats struct {
	Identity     string
	TotalUploads int64
	TotalBytes   int64
	FirstUpload  time.Time
	LastUpload   time.Time
	History      []models.UploadEvent
}

// UploadsSince counts history entries strictly newer than t.
func (s Stats) UploadsSince(t time.Time) int {
	n := 0
	for _, e := range s.History {
		if e.Timestamp.After(t) {
			n++
		}
	}
	return n
}

type Tracker struct {
	kv         kv.Repository
	log        logging.Logger
	now        func() time.Time
	maxHistory int

	mu sync.Mutex
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMaxHistory bounds the history kept per ledger; n <= 0 keeps the default.
func WithMaxHistory(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxHistory = n
		}
	}
}

func NewTracker(store kv.Repository, log logging.Logger, opts ...Option) *Tracker {
	t := &Tracker{kv: store, log: log, now: time.Now, maxHistory: DefaultMaxHistory}
	for _, o := range opts {
		o(t)
	}
	return t
}

// load reads every ledger. Entries that fail to decode are skipped.
func (t *Tracker) load(ctx context.Context) (map[string]*models.UsageLedger, error) {
	raw, err := t.kv.Get(ctx, common.UsageKey)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	out := map[string]*models.UsageLedger{}
	if len(raw) == 0 {
		return out, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.log.Warn(ctx, "usage ledger corrupt, starting empty", "err", err)
		return out, nil
	}
	for id, e := range entries {
		var l models.UsageLedger
		if err := json.Unmarshal(e, &l); err != nil {
			t.log.Warn(ctx, "usage entry corrupt, skipped", "identity", id, "err", err)
			continue
		}
		l.Identity = id
		out[id] = &l
	}
	return out, nil
}

func (t *Tracker) save(ctx context.Context, ledgers map[string]*models.UsageLedger) error {
	b, err := json.Marshal(ledgers)
	if err != nil {
		return err
	}
	if err := t.kv.Set(ctx, common.UsageKey, b); err != nil {
		return fmt.Errorf("write usage: %w", err)
	}
	return nil
}

// RecordUpload appends an upload to identity's ledger.
func (t *Tracker) RecordUpload(ctx context.Context, identity string, f FileInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ledgers, err := t.load(ctx)
	if err != nil {
		return err
	}

	now := t.now().UTC()
	l, ok := ledgers[identity]
	if !ok {
		l = &models.UsageLedger{Identity: identity}
		ledgers[identity] = l
	}
	l.TotalUploads++
	l.TotalBytes += f.Size
	l.History = append(l.History, models.UploadEvent{Timestamp: now, Size: f.Size, Name: f.Name})
	if extra := len(l.History) - t.maxHistory; extra > 0 {
		l.History = append([]models.UploadEvent(nil), l.History[extra:]...)
	}
	if l.FirstUpload.IsZero() {
		l.FirstUpload = now
	}
	l.LastUpload = now

	return t.save(ctx, ledgers)
}

// Stats returns identity's ledger summary, or empty stats if it has none or
// the medium cannot be read.
func (t *Tracker) Stats(ctx context.Context, identity string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	ledgers, err := t.load(ctx)
	if err != nil {
		t.log.Warn(ctx, "usage unavailable", "identity", identity, "err", err)
		return Stats{Identity: identity}
	}
	l, ok := ledgers[identity]
	if !ok {
		return Stats{Identity: identity}
	}
	return Stats{
		Identity:     identity,
		TotalUploads: l.TotalUploads,
		TotalBytes:   l.TotalBytes,
		FirstUpload:  l.FirstUpload,
		LastUpload:   l.LastUpload,
		History:      append([]models.UploadEvent(nil), l.History...),
	}
}

// History returns identity's upload history, oldest first.
func (t *Tracker) History(ctx context.Context, identity string) []models.UploadEvent {
	return t.Stats(ctx, identity).History
}

// CleanupOldData removes ledgers with no activity within retentionDays and
// returns how many were removed.
func (t *Tracker) CleanupOldData(ctx context.Context, retentionDays int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ledgers, err := t.load(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := t.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0
	for id, l := range ledgers {
		if l.LastActivity().Before(cutoff) {
			delete(ledgers, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := t.save(ctx, ledgers); err != nil {
		return 0, err
	}
	t.log.Info(ctx, "usage ledgers expired", "removed", removed, "retention_days", retentionDays)
	return removed, nil
}

// Reset drops identity's ledger.
func (t *Tracker) Reset(ctx context.Context, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ledgers, err := t.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := ledgers[identity]; !ok {
		return nil
	}
	delete(ledgers, identity)
	return t.save(ctx, ledgers)
}
