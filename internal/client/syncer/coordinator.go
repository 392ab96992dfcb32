// Package syncer mirrors local writes to the remote file API.
//
// Local writes are authoritative. Mirror attempts the remote call in the
// background; when the remote is unreachable, or when earlier operations of
// the same identity are still pending, the operation is appended to that
// identity's durable FIFO queue instead. Drain replays a queue in order,
// skipping operations whose idempotency key was already applied, so each
// operation reaches the remote at most once per successful application.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/client"
	"github.com/NadirInab/datavis-sub001/internal/client/metrics"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/syncqueue"
	"github.com/NadirInab/datavis-sub001/internal/logging"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 8
)

var (
	ErrDrainInProgress = errors.New("drain already in progress")
	ErrNoRemote        = errors.New("no remote configured")
)

type Config struct {
	// Timeout bounds each remote call.
	Timeout time.Duration
	// MaxAttempts is the number of failed attempts after which a task is
	// moved to the dead-letter table.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// DrainResult counts what one Drain did.
type DrainResult struct {
	Applied   int
	Skipped   int
	Requeued  int
	Dead      int
	Remaining int
}

type Coordinator struct {
	remote  client.Remote
	queue   syncqueue.Repository
	log     logging.Logger
	metrics *metrics.Metrics
	cfg     Config

	locks    sync.Map // identity -> *sync.Mutex
	lanes    sync.Map // identity -> *lane
	online   atomic.Bool
	inflight sync.WaitGroup
}

// New returns a coordinator. A nil remote keeps every operation local.
func New(remote client.Remote, queue syncqueue.Repository, log logging.Logger, m *metrics.Metrics, cfg Config) *Coordinator {
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		remote:  remote,
		queue:   queue,
		log:     log,
		metrics: metrics.OrDiscard(m),
		cfg:     cfg.withDefaults(),
	}
}

// lane runs one identity's mirrored operations in submission order.
type lane struct {
	mu      sync.Mutex
	ops     []*models.SyncTask
	running bool
}

// Mirror schedules t and returns immediately. Operations of one identity
// reach the remote in the order they were mirrored.
func (c *Coordinator) Mirror(ctx context.Context, t *models.SyncTask) {
	if c.remote == nil || t == nil {
		return
	}
	v, _ := c.lanes.LoadOrStore(t.Identity, &lane{})
	l := v.(*lane)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, t)
	if l.running {
		return
	}
	l.running = true
	c.inflight.Add(1)
	go c.runLane(context.WithoutCancel(ctx), l)
}

func (c *Coordinator) runLane(ctx context.Context, l *lane) {
	defer c.inflight.Done()
	for {
		l.mu.Lock()
		if len(l.ops) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		t := l.ops[0]
		l.ops = l.ops[1:]
		l.mu.Unlock()

		c.mirror(ctx, t)
	}
}

// Wait blocks until every scheduled Mirror has finished.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

func (c *Coordinator) mirror(ctx context.Context, t *models.SyncTask) {
	pending, err := c.queue.Count(ctx, t.Identity)
	if err != nil {
		c.log.Warn(ctx, "sync queue count failed", "identity", t.Identity, "error", err)
	}
	if pending > 0 {
		c.enqueue(ctx, t, "queued behind pending operations")
		return
	}

	if applied, err := c.queue.IsApplied(ctx, t.IdempotencyKey); err == nil && applied {
		c.metrics.SyncSkipped.Inc()
		return
	}

	err = c.apply(ctx, t)
	switch {
	case err == nil:
		if c.setOnline(true) {
			c.drainInBackground(ctx)
		}
		if err := c.queue.MarkApplied(ctx, t.IdempotencyKey); err != nil {
			c.log.Warn(ctx, "record applied key failed", "key", t.IdempotencyKey, "error", err)
		}
		c.metrics.SyncApplied.Inc()
	case errors.Is(err, client.ErrUnavailable):
		c.setOnline(false)
		t.LastError = err.Error()
		c.enqueue(ctx, t, "remote unavailable")
	default:
		t.Attempts = 1
		t.LastError = err.Error()
		c.enqueue(ctx, t, "remote call failed")
	}
}

// drainInBackground replays the other identities' queues after a direct
// call found the remote reachable again.
func (c *Coordinator) drainInBackground(ctx context.Context) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.DrainAll(ctx); err != nil {
			c.log.Warn(ctx, "drain after reconnect failed", "error", err)
		}
	}()
}

func (c *Coordinator) enqueue(ctx context.Context, t *models.SyncTask, why string) {
	if err := c.queue.Enqueue(ctx, t); err != nil {
		c.log.Error(ctx, "sync task lost", "identity", t.Identity, "key", t.IdempotencyKey, "error", err)
		return
	}
	c.metrics.SyncQueued.Inc()
	c.log.Info(ctx, "sync task queued", "identity", t.Identity, "key", t.IdempotencyKey, "reason", why)
}

func (c *Coordinator) apply(ctx context.Context, t *models.SyncTask) error {
	op, err := t.Unwrap()
	if err != nil {
		return fmt.Errorf("decode task %d: %w", t.Seq, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	switch v := op.(type) {
	case models.UploadOp:
		return c.remote.Upload(ctx, &client.UploadRequest{
			Owner:          v.Owner,
			RecordID:       v.RecordID,
			Name:           v.Name,
			Format:         v.Format,
			Data:           v.Data,
			IdempotencyKey: t.IdempotencyKey,
		})
	case models.DeleteOp:
		return c.remote.Delete(ctx, v.Owner, v.RecordID, t.IdempotencyKey)
	default:
		return fmt.Errorf("unsupported operation %q", t.Operation)
	}
}

func (c *Coordinator) lock(identity string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(identity, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Drain replays identity's queue head first. It processes at most the tasks
// queued when it started and stops early, returning client.ErrUnavailable,
// when the remote goes away.
func (c *Coordinator) Drain(ctx context.Context, identity string) (DrainResult, error) {
	var res DrainResult
	if c.remote == nil {
		return res, ErrNoRemote
	}

	mu := c.lock(identity)
	if !mu.TryLock() {
		return res, ErrDrainInProgress
	}
	defer mu.Unlock()

	n, err := c.queue.Count(ctx, identity)
	if err != nil {
		return res, err
	}

	for i := 0; i < n; i++ {
		t, err := c.queue.Head(ctx, identity)
		if err != nil {
			return res, err
		}
		if t == nil {
			break
		}

		applied, err := c.queue.IsApplied(ctx, t.IdempotencyKey)
		if err != nil {
			return res, err
		}
		if applied {
			if err := c.queue.Remove(ctx, t); err != nil {
				return res, err
			}
			res.Skipped++
			c.metrics.SyncSkipped.Inc()
			continue
		}

		callErr := c.apply(ctx, t)
		if callErr == nil {
			c.setOnline(true)
			if err := c.queue.Complete(ctx, t); err != nil {
				return res, err
			}
			res.Applied++
			c.metrics.SyncApplied.Inc()
			continue
		}

		t.Attempts++
		t.LastError = callErr.Error()

		if t.Attempts >= c.cfg.MaxAttempts {
			c.log.Error(ctx, "sync task exhausted its attempts",
				"identity", identity, "key", t.IdempotencyKey, "attempts", t.Attempts, "error", callErr)
			if err := c.queue.Bury(ctx, t); err != nil {
				return res, err
			}
			res.Dead++
			c.metrics.SyncDead.Inc()
			continue
		}

		if errors.Is(callErr, client.ErrUnavailable) {
			c.setOnline(false)
			if err := c.queue.UpdateAttempts(ctx, t); err != nil {
				return res, err
			}
			res.Remaining, _ = c.queue.Count(ctx, identity)
			return res, callErr
		}

		c.log.Warn(ctx, "sync task failed, requeued", "identity", identity, "key", t.IdempotencyKey,
			"attempts", t.Attempts, "error", callErr)
		if err := c.queue.Requeue(ctx, t); err != nil {
			return res, err
		}
		res.Requeued++
	}

	res.Remaining, err = c.queue.Count(ctx, identity)
	return res, err
}

// DrainAll drains every identity with queued tasks. Identities already
// being drained are skipped.
func (c *Coordinator) DrainAll(ctx context.Context) error {
	ids, err := c.queue.Identities(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		res, err := c.Drain(ctx, id)
		switch {
		case errors.Is(err, ErrDrainInProgress):
			continue
		case err != nil:
			return fmt.Errorf("drain %s: %w", id, err)
		}
		c.log.Info(ctx, "sync queue drained", "identity", id,
			"applied", res.Applied, "skipped", res.Skipped, "requeued", res.Requeued,
			"dead", res.Dead, "remaining", res.Remaining)
	}
	return nil
}

// Pending returns identity's queued tasks in order.
func (c *Coordinator) Pending(ctx context.Context, identity string) ([]*models.SyncTask, error) {
	return c.queue.List(ctx, identity)
}

// Dead returns identity's dead-lettered tasks.
func (c *Coordinator) Dead(ctx context.Context, identity string) ([]*models.SyncTask, error) {
	return c.queue.Dead(ctx, identity)
}

// Online reports the reachability observed by the last remote call.
func (c *Coordinator) Online() bool {
	return c.online.Load()
}

// setOnline records reachability and reports whether it changed from
// offline to online.
func (c *Coordinator) setOnline(v bool) bool {
	prev := c.online.Swap(v)
	if v {
		c.metrics.Online.Set(1)
	} else {
		c.metrics.Online.Set(0)
	}
	if prev != v {
		c.log.Info(context.Background(), "remote reachability changed", "online", v)
	}
	return v && !prev
}
