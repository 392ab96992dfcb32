// Package identity resolves the stable anonymous identity of this client.
//
// Resolution tries, in order: the id persisted by an earlier session, a
// fingerprint of the environment, and finally a synthesized random id. The
// winner is persisted so later sessions resolve to the same id even when
// the environment changes. When the stored id cannot be read, the fallback
// serves this session only and the stored id is left untouched. Concurrent
// first calls share a single computation.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/metrics"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/kv"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/NadirInab/datavis-sub001/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const DefaultThreshold = 0.5

const (
	SourcePersisted   = "persisted"
	SourceFingerprint = "fingerprint"
	SourceSynthesized = "synthesized"
)

type Option func(*Resolver)

// WithSignals replaces the environment signal source.
func WithSignals(s SignalSource) Option {
	return func(r *Resolver) { r.signals = s }
}

// WithThreshold sets the minimum fingerprint confidence.
func WithThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

type Resolver struct {
	kv        kv.Repository
	log       logging.Logger
	metrics   *metrics.Metrics
	signals   SignalSource
	threshold float64
	now       func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	resolved *models.Identity
}

func NewResolver(store kv.Repository, log logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		kv:        store,
		log:       log,
		signals:   EnvironmentSignals,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.metrics = metrics.OrDiscard(r.metrics)
	return r
}

// Resolve returns the identity id. It never fails: every failure along the
// chain is logged and the next fallback is used.
func (r *Resolver) Resolve(ctx context.Context) string {
	return r.Identity(ctx).ID
}

// Identity is Resolve with the identity's kind and creation time.
func (r *Resolver) Identity(ctx context.Context) models.Identity {
	r.mu.Lock()
	if r.resolved != nil {
		id := *r.resolved
		r.mu.Unlock()
		return id
	}
	r.mu.Unlock()

	v, _, _ := r.group.Do("identity", func() (any, error) {
		r.mu.Lock()
		if r.resolved != nil {
			id := *r.resolved
			r.mu.Unlock()
			return id, nil
		}
		r.mu.Unlock()

		id := r.resolve(ctx)

		r.mu.Lock()
		r.resolved = &id
		r.mu.Unlock()
		return id, nil
	})
	return v.(models.Identity)
}

func (r *Resolver) resolve(ctx context.Context) models.Identity {
	fp := Compute(r.signals(ctx))
	if fp.ID == "" || fp.Confidence < r.threshold {
		r.log.Warn(ctx, "fingerprint unavailable",
			"confidence", fp.Confidence, "err", common.ErrIdentityResolutionFailed)
		fp.ID = ""
	}

	persisted, ok, readErr := r.loadPersisted(ctx)
	if ok {
		r.metrics.IdentitySource.WithLabelValues(SourcePersisted).Inc()
		return persisted
	}

	source := SourceFingerprint
	idValue := fp.ID
	if idValue == "" {
		source = SourceSynthesized
		idValue = r.synthesize()
	}

	id := models.Identity{ID: idValue, Kind: models.KindVisitor, CreatedAt: r.now().UTC()}
	if readErr != nil {
		// A stored id may still exist; never overwrite it.
		r.log.Warn(ctx, "persisted identity unreadable, using a session identity",
			"identity", id.ID, "source", source, "err", readErr)
		r.metrics.IdentitySource.WithLabelValues(source).Inc()
		return id
	}
	if err := r.persist(ctx, id); err != nil {
		r.log.Warn(ctx, "identity not persisted", "identity", id.ID, "err", err)
	}
	r.metrics.IdentitySource.WithLabelValues(source).Inc()
	r.log.Info(ctx, "identity resolved", "identity", id.ID, "source", source)
	return id
}

// loadPersisted reports ok=false with a nil error only when no id is stored.
func (r *Resolver) loadPersisted(ctx context.Context) (models.Identity, bool, error) {
	raw, err := r.kv.Get(ctx, common.IdentityKey)
	if err != nil {
		return models.Identity{}, false, err
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return models.Identity{}, false, nil
	}

	out := models.Identity{ID: id, Kind: models.KindVisitor}
	if created, err := r.kv.Get(ctx, common.IdentityCreatedKey); err == nil && created != nil {
		if t, err := time.Parse(time.RFC3339Nano, string(created)); err == nil {
			out.CreatedAt = t
		}
	}
	return out, true, nil
}

func (r *Resolver) persist(ctx context.Context, id models.Identity) error {
	if err := r.kv.Set(ctx, common.IdentityKey, []byte(id.ID)); err != nil {
		return err
	}
	return r.kv.Set(ctx, common.IdentityCreatedKey, []byte(id.CreatedAt.Format(time.RFC3339Nano)))
}

func (r *Resolver) synthesize() string {
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("v_%d_%s", r.now().UnixMilli(), salt[:12])
}

// Reset forgets the persisted identity. The next Resolve starts over.
func (r *Resolver) Reset(ctx context.Context) error {
	r.mu.Lock()
	r.resolved = nil
	r.mu.Unlock()

	if err := r.kv.Delete(ctx, common.IdentityKey); err != nil {
		return err
	}
	return r.kv.Delete(ctx, common.IdentityCreatedKey)
}
