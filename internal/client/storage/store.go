// Package storage persists each identity's records in the local medium and
// recovers from capacity failures by eviction and payload reduction.
//
// An identity's records are one JSON array under common.RecordsKey. Every
// mutation rewrites the array with a single Set, so a put and the evictions
// that made room for it land together or not at all.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/metrics"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/kv"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/NadirInab/datavis-sub001/internal/logging"
	"github.com/google/uuid"
)

const DefaultRetentionFloor = 1

// errOverQuota is a write that would exceed the identity's byte quota. It is
// recovered exactly like a medium capacity failure.
var errOverQuota = errors.New("identity quota exceeded")

// errTooManyFiles is a write that would exceed the identity's file count.
// The gate denies such uploads up front, so Put never evicts to make room.
var errTooManyFiles = errors.New("identity file limit exceeded")

type Config struct {
	// RetentionFloor is how many of the most recently accessed records
	// eviction always keeps.
	RetentionFloor int
	Optimizer      Optimizer
}

// PutResult reports what a successful Put did besides writing the record.
type PutResult struct {
	Record  models.StoredRecord
	Evicted []string
	Reduced bool
}

// EvictionObserver is told about every record evicted by a successful Put.
type EvictionObserver func(ctx context.Context, owner string, rec models.StoredRecord)

type Store struct {
	kv      kv.Repository
	log     logging.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time

	locks     sync.Map // owner -> *sync.Mutex
	observers []EvictionObserver
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithEvictionObserver(o EvictionObserver) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

func NewStore(store kv.Repository, log logging.Logger, cfg Config, opts ...Option) *Store {
	if cfg.RetentionFloor < 0 {
		cfg.RetentionFloor = 0
	}
	cfg.Optimizer = cfg.Optimizer.withDefaults()
	s := &Store{kv: store, log: log, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.metrics = metrics.OrDiscard(s.metrics)
	return s
}

func (s *Store) lock(owner string) func() {
	m, _ := s.locks.LoadOrStore(owner, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// load returns owner's records. An unreadable namespace reads as empty.
func (s *Store) load(ctx context.Context, owner string) ([]models.StoredRecord, error) {
	raw, err := s.kv.Get(ctx, common.RecordsKey(owner))
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var records []models.StoredRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		s.log.Warn(ctx, "record namespace corrupt, treating as empty", "identity", owner, "err", err)
		return nil, nil
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, owner string, records []models.StoredRecord) error {
	if len(records) == 0 {
		return s.kv.Delete(ctx, common.RecordsKey(owner))
	}
	b, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, common.RecordsKey(owner), b)
}

func namespaceBytes(records []models.StoredRecord) int64 {
	b, _ := json.Marshal(records)
	return int64(len(b))
}

func totals(records []models.StoredRecord) (int, int64) {
	var n int64
	for i := range records {
		n += records[i].QuotaBytes()
	}
	return len(records), n
}

// upsert returns records with rec appended or replacing the record with the
// same ID.
func upsert(records []models.StoredRecord, rec models.StoredRecord) []models.StoredRecord {
	out := make([]models.StoredRecord, 0, len(records)+1)
	replaced := false
	for _, r := range records {
		if r.ID == rec.ID {
			out = append(out, rec)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, rec)
	}
	return out
}

// write checks the identity limits and stores records. Zero limits are not
// enforced.
func (s *Store) write(ctx context.Context, owner string, records []models.StoredRecord, limits policy.Limits) error {
	count, bytes := totals(records)
	if limits.MaxFiles > 0 && count > limits.MaxFiles {
		return fmt.Errorf("%d records of %d: %w", count, limits.MaxFiles, errTooManyFiles)
	}
	if limits.MaxBytes > 0 && bytes > limits.MaxBytes {
		return fmt.Errorf("%d bytes of %d: %w", bytes, limits.MaxBytes, errOverQuota)
	}
	return s.save(ctx, owner, records)
}

func recoverable(err error) bool {
	return errors.Is(err, kv.ErrCapacity) || errors.Is(err, errOverQuota)
}

// Put stores rec in owner's namespace under the given limits. On a capacity
// or quota failure it evicts least recently accessed records down to the
// retention floor, then reduces rec's payload, retrying after each step.
// The only terminal failure is common.ErrQuotaExceededOnWrite.
func (s *Store) Put(ctx context.Context, owner string, rec models.StoredRecord, limits policy.Limits) (PutResult, error) {
	unlock := s.lock(owner)
	defer unlock()

	records, err := s.load(ctx, owner)
	if err != nil {
		return PutResult{}, err
	}

	now := s.now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Owner = owner
	for _, r := range records {
		if r.ID == rec.ID {
			rec.CreatedAt = r.CreatedAt
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.LastAccess = now
	rec.Size = int64(len(rec.Payload))
	if rec.FileSize <= 0 {
		rec.FileSize = rec.Size
	}

	res := PutResult{Record: rec}

	err = s.write(ctx, owner, upsert(records, rec), limits)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, errTooManyFiles) {
		s.metrics.WriteFailures.Inc()
		return PutResult{}, fmt.Errorf("store %s: %w", rec.Name, common.ErrFileCountExceeded)
	}
	if !recoverable(err) {
		return PutResult{}, err
	}
	s.log.Debug(ctx, "write does not fit, evicting", "identity", owner, "record", rec.ID, "err", err)

	kept, evicted, err := s.evict(ctx, owner, records, rec, limits)
	if err == nil {
		res.Evicted = ids(evicted)
		s.notifyEvicted(ctx, owner, evicted)
		return res, nil
	}
	if !recoverable(err) {
		return PutResult{}, err
	}

	reduced, ok := s.cfg.Optimizer.Reduce(rec.Payload)
	if ok {
		rec.OriginalSize = rec.Size
		rec.FileSize = max(1, rec.FileSize*int64(len(reduced))/rec.Size)
		rec.Payload = reduced
		rec.Size = int64(len(reduced))
		rec.Reduced = true

		err = s.write(ctx, owner, upsert(kept, rec), limits)
		if err == nil {
			s.metrics.Reductions.Inc()
			s.log.Info(ctx, "record stored reduced",
				"identity", owner, "record", rec.ID, "size", rec.Size, "original_size", rec.OriginalSize)
			res.Record = rec
			res.Reduced = true
			res.Evicted = ids(evicted)
			s.notifyEvicted(ctx, owner, evicted)
			return res, nil
		}
		if !recoverable(err) {
			return PutResult{}, err
		}
	}

	s.metrics.WriteFailures.Inc()
	s.log.Warn(ctx, "record could not be stored", "identity", owner, "record", rec.ID, "size", rec.Size, "err", err)
	return PutResult{}, fmt.Errorf("store %s: %w", rec.Name, common.ErrQuotaExceededOnWrite)
}

// evict removes one record per round, least recently accessed first, and
// retries the write after each round. Each round must shrink the namespace;
// otherwise eviction stops. It returns the surviving records and the evicted
// ones, whether or not the final write succeeded.
func (s *Store) evict(ctx context.Context, owner string, records []models.StoredRecord, rec models.StoredRecord, limits policy.Limits) ([]models.StoredRecord, []models.StoredRecord, error) {
	var others []models.StoredRecord
	for _, r := range records {
		if r.ID != rec.ID {
			others = append(others, r)
		}
	}
	sort.SliceStable(others, func(i, j int) bool { return others[i].LastAccess.Before(others[j].LastAccess) })

	evictable := len(others) - s.cfg.RetentionFloor
	if evictable <= 0 {
		return others, nil, errOverQuota
	}

	var (
		evicted []models.StoredRecord
		err     error
	)
	before := namespaceBytes(others)
	for i := 0; i < evictable; i++ {
		victim := others[0]
		remaining := others[1:]

		after := namespaceBytes(remaining)
		if after >= before {
			s.log.Warn(ctx, "eviction made no progress", "identity", owner, "record", victim.ID)
			break
		}
		others, before = remaining, after
		evicted = append(evicted, victim)

		err = s.write(ctx, owner, upsert(others, rec), limits)
		if err == nil || !recoverable(err) {
			return others, evicted, err
		}
	}
	if err == nil {
		err = errOverQuota
	}
	return others, evicted, err
}

func (s *Store) notifyEvicted(ctx context.Context, owner string, evicted []models.StoredRecord) {
	for _, r := range evicted {
		s.metrics.Evictions.Inc()
		s.metrics.EvictedBytes.Add(float64(r.Size))
		s.log.Info(ctx, "record evicted", "identity", owner, "record", r.ID, "size", r.Size)
		for _, o := range s.observers {
			o(ctx, owner, r)
		}
	}
}

func ids(records []models.StoredRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// Get returns owner's record id and refreshes its LastAccess.
func (s *Store) Get(ctx context.Context, owner, id string) (*models.StoredRecord, error) {
	unlock := s.lock(owner)
	defer unlock()

	records, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		records[i].LastAccess = s.now().UTC()
		if err := s.save(ctx, owner, records); err != nil {
			s.log.Warn(ctx, "last access not updated", "identity", owner, "record", id, "err", err)
		}
		rec := records[i]
		return &rec, nil
	}
	return nil, fmt.Errorf("record %s: %w", id, common.ErrorNotFound)
}

// List returns owner's records, oldest first.
func (s *Store) List(ctx context.Context, owner string) ([]models.StoredRecord, error) {
	unlock := s.lock(owner)
	defer unlock()

	records, err := s.load(ctx, owner)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

// Delete removes owner's record id.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	unlock := s.lock(owner)
	defer unlock()

	records, err := s.load(ctx, owner)
	if err != nil {
		return err
	}
	out := records[:0]
	found := false
	for _, r := range records {
		if r.ID == id {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		return fmt.Errorf("record %s: %w", id, common.ErrorNotFound)
	}
	return s.save(ctx, owner, out)
}

// Usage returns owner's record count and the bytes charged to its quota.
func (s *Store) Usage(ctx context.Context, owner string) (int, int64, error) {
	unlock := s.lock(owner)
	defer unlock()

	records, err := s.load(ctx, owner)
	if err != nil {
		return 0, 0, err
	}
	count, bytes := totals(records)
	return count, bytes, nil
}
