package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/client"
	"github.com/NadirInab/datavis-sub001/internal/client/metrics"
	"github.com/NadirInab/datavis-sub001/internal/client/migrations"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/syncqueue"
	"github.com/NadirInab/datavis-sub001/internal/dbx"
	"github.com/NadirInab/datavis-sub001/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu      sync.Mutex
	err     error
	pingErr error
	writes  []string // idempotency keys that reached the remote successfully
	calls   int
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeRemote) set(err error) {
	f.mu.Lock()
	f.err = err
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) do(key string) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, key)
	return nil
}

func (f *fakeRemote) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...), f.calls
}

func (f *fakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) Upload(_ context.Context, req *client.UploadRequest) error {
	return f.do(req.IdempotencyKey)
}

func (f *fakeRemote) Delete(_ context.Context, _, _, key string) error { return f.do(key) }

func (f *fakeRemote) List(context.Context, string) ([]models.RemoteFile, error) { return nil, nil }
func (f *fakeRemote) SetAccessToken(string)                                     {}
func (f *fakeRemote) Close() error                                              { return nil }

func setup(t *testing.T, remote client.Remote, cfg Config) (*Coordinator, syncqueue.Repository) {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Run(ctx, db))

	q := syncqueue.NewSQLiteRepository(db)
	return New(remote, q, logging.Nop(), metrics.Discard(), cfg), q
}

func upload(t *testing.T, owner, id string, rev int64) *models.SyncTask {
	t.Helper()
	task, err := models.UploadTask(&models.StoredRecord{
		ID: id, Owner: owner, Name: id + ".csv", Format: "csv",
		Payload: []byte(`{"rows":[]}`), UpdatedAt: time.Unix(0, rev),
	})
	require.NoError(t, err)
	return task
}

func TestMirror_OnlineAppliesOnce(t *testing.T) {
	r := &fakeRemote{}
	c, q := setup(t, r, Config{})
	ctx := context.Background()

	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Wait()
	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Wait()

	writes, calls := r.snapshot()
	assert.Equal(t, []string{"upload:r1:1"}, writes)
	assert.Equal(t, 1, calls)
	assert.True(t, c.Online())

	n, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMirror_OfflineQueuesThenDrainsExactlyOnce(t *testing.T) {
	r := &fakeRemote{}
	r.set(client.ErrUnavailable)
	c, q := setup(t, r, Config{})
	ctx := context.Background()

	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Wait()
	assert.False(t, c.Online())

	// a second op queues behind the first without touching the remote
	c.Mirror(ctx, upload(t, "u1", "r2", 1))
	c.Wait()

	pending, err := c.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "upload:r1:1", pending[0].IdempotencyKey)
	assert.Equal(t, "upload:r2:1", pending[1].IdempotencyKey)
	_, calls := r.snapshot()
	assert.Equal(t, 1, calls)

	r.set(nil)
	c.Probe(ctx)
	assert.True(t, c.Online())

	writes, _ := r.snapshot()
	assert.Equal(t, []string{"upload:r1:1", "upload:r2:1"}, writes)

	n, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	// a replay of an applied key is skipped
	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Wait()
	writes, _ = r.snapshot()
	assert.Len(t, writes, 2)
}

func TestMirror_NonNetworkFailureQueuedWithAttempt(t *testing.T) {
	r := &fakeRemote{}
	r.set(errors.New("boom"))
	c, _ := setup(t, r, Config{})
	ctx := context.Background()

	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Wait()

	pending, err := c.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "boom", pending[0].LastError)
}

func TestDrain_StopsWhenOffline(t *testing.T) {
	r := &fakeRemote{}
	c, q := setup(t, r, Config{})
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Enqueue(ctx, upload(t, "u1", id, 1)))
	}

	r.set(client.ErrUnavailable)
	res, err := c.Drain(ctx, "u1")
	require.ErrorIs(t, err, client.ErrUnavailable)
	assert.Equal(t, 3, res.Remaining)

	pending, err := q.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "upload:r1:1", pending[0].IdempotencyKey)
	assert.Equal(t, 1, pending[0].Attempts)
	_, calls := r.snapshot()
	assert.Equal(t, 1, calls)
}

func TestDrain_FailedTaskMovesToTailAndIsBuriedAtMaxAttempts(t *testing.T) {
	r := &fakeRemote{}
	c, q := setup(t, r, Config{MaxAttempts: 2})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, upload(t, "u1", "r1", 1)))
	require.NoError(t, q.Enqueue(ctx, upload(t, "u1", "r2", 1)))

	// r1 fails, r2 succeeds
	failFirst := &failOnce{fakeRemote: r, key: "upload:r1:1"}
	c.remote = failFirst

	res, err := c.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Applied: 1, Requeued: 1, Remaining: 1}, res)

	failFirst.always = true
	res, err = c.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Dead: 1}, res)

	dead, err := c.Dead(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempts)
}

func TestDrain_SkipsAppliedKeys(t *testing.T) {
	r := &fakeRemote{}
	c, q := setup(t, r, Config{})
	ctx := context.Background()

	require.NoError(t, q.MarkApplied(ctx, "upload:r1:1"))
	require.NoError(t, q.Enqueue(ctx, upload(t, "u1", "r1", 1)))

	res, err := c.Drain(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	_, calls := r.snapshot()
	assert.Zero(t, calls)
}

func TestDrain_ConcurrentDrainRejected(t *testing.T) {
	r := &fakeRemote{entered: make(chan struct{}, 1), block: make(chan struct{})}
	c, q := setup(t, r, Config{})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, upload(t, "u1", "r1", 1)))

	done := make(chan error, 1)
	go func() {
		_, err := c.Drain(ctx, "u1")
		done <- err
	}()

	<-r.entered

	_, err := c.Drain(ctx, "u1")
	require.ErrorIs(t, err, ErrDrainInProgress)

	close(r.block)
	require.NoError(t, <-done)
}

func TestNoRemote(t *testing.T) {
	c, q := setup(t, nil, Config{})
	ctx := context.Background()

	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Wait()
	n, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.Drain(ctx, "u1")
	require.ErrorIs(t, err, ErrNoRemote)
}

func TestWatch_DrainsOnReconnect(t *testing.T) {
	r := &fakeRemote{}
	c, q := setup(t, r, Config{})
	require.NoError(t, q.Enqueue(context.Background(), upload(t, "u1", "r1", 1)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Watch(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := q.Count(context.Background(), "u1")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Online())
}

func TestWatch_DrainsQueueLeftByFailureWhileOnline(t *testing.T) {
	r := &fakeRemote{}
	c, q := setup(t, r, Config{})
	ctx := context.Background()

	c.Probe(ctx)
	require.True(t, c.Online())

	failFirst := &failOnce{fakeRemote: r, key: "upload:r1:1"}
	c.remote = failFirst

	c.Mirror(ctx, upload(t, "u1", "r1", 1))
	c.Mirror(ctx, upload(t, "u1", "r2", 1))
	c.Wait()

	n, err := q.Count(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.True(t, c.Online())

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Watch(wctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := q.Count(context.Background(), "u1")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	writes, _ := r.snapshot()
	assert.Equal(t, []string{"upload:r1:1", "upload:r2:1"}, writes)
}

func TestMirror_ReconnectByOtherIdentityDrainsStrandedQueue(t *testing.T) {
	r := &fakeRemote{}
	r.set(client.ErrUnavailable)
	c, q := setup(t, r, Config{})
	ctx := context.Background()

	c.Mirror(ctx, upload(t, "visitor", "r1", 1))
	c.Wait()
	require.False(t, c.Online())

	r.set(nil)
	c.Mirror(ctx, upload(t, "user", "r2", 2))
	c.Wait()

	assert.True(t, c.Online())
	n, err := q.Count(ctx, "visitor")
	require.NoError(t, err)
	assert.Zero(t, n)

	writes, _ := r.snapshot()
	assert.ElementsMatch(t, []string{"upload:r1:1", "upload:r2:2"}, writes)
}

type failOnce struct {
	*fakeRemote
	key    string
	failed bool
	always bool
}

func (f *failOnce) Upload(ctx context.Context, req *client.UploadRequest) error {
	if req.IdempotencyKey == f.key && (f.always || !f.failed) {
		f.failed = true
		return errors.New("rejected")
	}
	return f.fakeRemote.Upload(ctx, req)
}
