package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/auth"
	"github.com/NadirInab/datavis-sub001/internal/client/client"
	"github.com/NadirInab/datavis-sub001/internal/client/gate"
	"github.com/NadirInab/datavis-sub001/internal/client/identity"
	"github.com/NadirInab/datavis-sub001/internal/client/migrations"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/kv"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/syncqueue"
	"github.com/NadirInab/datavis-sub001/internal/client/storage"
	"github.com/NadirInab/datavis-sub001/internal/client/syncer"
	"github.com/NadirInab/datavis-sub001/internal/client/usage"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/NadirInab/datavis-sub001/internal/dbx"
	"github.com/NadirInab/datavis-sub001/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("k")

type fakeRemote struct {
	mu      sync.Mutex
	err     error
	token   string
	uploads []string
	deletes []string
	presign string
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

func (f *fakeRemote) Upload(_ context.Context, req *client.UploadRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, req.RecordID)
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, _, recordID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, recordID)
	return nil
}

func (f *fakeRemote) List(context.Context, string) ([]models.RemoteFile, error) { return nil, nil }
func (f *fakeRemote) Close() error                                              { return nil }

func (f *fakeRemote) SetAccessToken(tok string) {
	f.mu.Lock()
	f.token = tok
	f.mu.Unlock()
}

type presigningRemote struct{ *fakeRemote }

func (p presigningRemote) PresignDownload(_ context.Context, owner, id string, ttl time.Duration) (string, error) {
	return "https://s3.local/" + owner + "/" + id + "?ttl=" + ttl.String(), nil
}

type fixture struct {
	svc    UploadService
	sync   *syncer.Coordinator
	remote *fakeRemote
}

func openQueueDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Run(ctx, db))
	return db
}

func newFixture(t *testing.T, remote client.Remote, capacity int64) fixture {
	t.Helper()
	store, err := kv.OpenBadger("", kv.WithCapacity(capacity))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return buildFixture(t, remote, store, openQueueDB(t))
}

// newSQLiteFixture keeps records in the SQLite medium, which holds
// multi-megabyte namespaces.
func newSQLiteFixture(t *testing.T, remote client.Remote) fixture {
	t.Helper()
	db := openQueueDB(t)
	return buildFixture(t, remote, kv.NewSQLiteRepository(db), db)
}

func buildFixture(t *testing.T, remote client.Remote, store kv.Repository, db *sql.DB) fixture {
	t.Helper()
	log := logging.Nop()

	resolver := identity.NewResolver(store, log, identity.WithSignals(func(context.Context) []identity.Signal {
		return []identity.Signal{{Name: "os", Value: "linux"}, {Name: "arch", Value: "amd64"}, {Name: "tz", Value: "UTC"}}
	}))
	records := storage.NewStore(store, log, storage.Config{})
	tracker := usage.NewTracker(store, log)
	coord := syncer.New(remote, syncqueue.NewSQLiteRepository(db), log, nil, syncer.Config{})

	svc := NewUploadService(Deps{
		Session:  auth.NewSession(auth.NewVerifier(secret), resolver),
		Identity: resolver,
		Gate:     gate.New(policy.Default(), records, tracker, log),
		Store:    records,
		Usage:    tracker,
		Sync:     coord,
		Remote:   remote,
		Log:      log,
	})

	f := fixture{svc: svc, sync: coord}
	if r, ok := remote.(*fakeRemote); ok {
		f.remote = r
	}
	return f
}

func csvRows(rows int) []byte {
	var sb strings.Builder
	sb.WriteString("x,y\n")
	for i := 0; i < rows; i++ {
		sb.WriteString("1,2\n")
	}
	return []byte(sb.String())
}

func TestUpload_VisitorFlow(t *testing.T) {
	f := newFixture(t, &fakeRemote{}, 0)
	ctx := context.Background()

	p := f.svc.Current(ctx)
	require.True(t, p.IsVisitor())
	require.True(t, strings.HasPrefix(p.ID, "fp_"))

	for i := 0; i < 3; i++ {
		res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "a.csv", Data: csvRows(2)})
		require.NoError(t, err)
		require.True(t, res.Decision.Allowed)
		require.NotNil(t, res.Record)
		assert.Equal(t, "csv", res.Record.Format)
		assert.JSONEq(t, `{"header":["x","y"],"rows":[["1","2"],["1","2"]]}`, string(res.Record.Payload))
	}
	f.sync.Wait()

	res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "d.csv", Data: csvRows(1)})
	require.NoError(t, err)
	assert.False(t, res.Decision.Allowed)
	assert.ErrorIs(t, res.Decision.Err(), common.ErrFileCountExceeded)
	assert.Nil(t, res.Record)

	list, err := f.svc.List(ctx, p)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	st, err := f.svc.Stats(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, int64(3), st.Usage.TotalUploads)
	assert.Equal(t, st.Bytes, st.Usage.TotalBytes)
	assert.Zero(t, st.Pending)

	f.remote.mu.Lock()
	assert.Len(t, f.remote.uploads, 3)
	f.remote.mu.Unlock()
}

func TestUpload_GateChargesFileSizeNotPayload(t *testing.T) {
	f := newSQLiteFixture(t, nil)
	ctx := context.Background()
	p := f.svc.Current(ctx)

	// about 1.5 MiB of csv, over 2 MiB once converted
	data := csvRows(400_000)
	require.Less(t, int64(len(data)), 2*policy.MiB)

	res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "big.csv", Data: data})
	require.NoError(t, err)
	require.True(t, res.Decision.Allowed, res.Decision.Detail)
	assert.Greater(t, res.Record.Size, 2*policy.MiB)
	assert.Equal(t, int64(len(data)), res.Record.FileSize)
	assert.Equal(t, 5*policy.MiB-int64(len(data)), res.Decision.RemainingBytes)

	st, err := f.svc.Stats(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), st.Bytes)
	assert.Equal(t, int64(len(data)), st.Usage.TotalBytes)
}

func TestUpload_ConcurrentVisitorUploadsRespectLimits(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	p := f.svc.Current(ctx)

	var (
		wg              sync.WaitGroup
		mu              sync.Mutex
		allowed, denied int
		evicted         []string
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "a.csv", Data: csvRows(2)})
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if res.Decision.Allowed {
				allowed++
				evicted = append(evicted, res.Evicted...)
			} else {
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, allowed)
	assert.Equal(t, 37, denied)
	assert.Empty(t, evicted)

	st, err := f.svc.Stats(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, int64(3), st.Usage.TotalUploads)
}

func TestUpload_FormatRejectedForTier(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.svc.Current(ctx), UploadRequest{Name: "a.tsv", Data: []byte("a\tb\n1\t2\n")})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Decision.Err(), common.ErrFormatRejected)
	require.NotNil(t, res.Decision.Upgrade)
	assert.Equal(t, policy.TierFree, res.Decision.Upgrade.Suggested)
}

func TestUpload_InvalidJSON(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, f.svc.Current(ctx), UploadRequest{Name: "a.json", Data: []byte("{")})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestUpload_SignedInUserMirrorsWithToken(t *testing.T) {
	r := &fakeRemote{}
	f := newFixture(t, r, 0)
	ctx := context.Background()

	tok, err := auth.Issue(secret, "user-1", models.KindUser, policy.TierPro, time.Hour)
	require.NoError(t, err)
	p, err := f.svc.SignIn(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", f.svc.Current(ctx).ID)

	res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "m.xml", Format: "XML", Data: []byte("<a/>")})
	require.NoError(t, err)
	require.True(t, res.Decision.Allowed)
	assert.Equal(t, "xml", res.Record.Format)

	var b map[string]string
	require.NoError(t, json.Unmarshal(res.Record.Payload, &b))
	assert.Equal(t, "base64", b["encoding"])

	require.NoError(t, f.svc.Delete(ctx, p, res.Record.ID))
	f.sync.Wait()

	r.mu.Lock()
	assert.Equal(t, tok, r.token)
	assert.Equal(t, []string{res.Record.ID}, r.uploads)
	assert.Equal(t, []string{res.Record.ID}, r.deletes)
	r.mu.Unlock()

	_, err = f.svc.Get(ctx, p, res.Record.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)

	f.svc.SignOut(ctx)
	assert.True(t, f.svc.Current(ctx).IsVisitor())
	assert.Empty(t, r.token)
}

func TestUpload_OfflineWriteIsLocalAndQueued(t *testing.T) {
	r := &fakeRemote{err: client.ErrUnavailable}
	f := newFixture(t, r, 0)
	ctx := context.Background()
	p := f.svc.Current(ctx)

	res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "a.json", Data: []byte(`{"a":1}`)})
	require.NoError(t, err)
	f.sync.Wait()

	got, err := f.svc.Get(ctx, p, res.Record.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))

	pending, err := f.svc.Pending(ctx, p)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, f.svc.Whoami(ctx).Online)

	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()

	dr, err := f.svc.Sync(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, dr.Applied)
	assert.Equal(t, []string{res.Record.ID}, r.uploads)
}

func TestUpload_TerminalLocalFailure(t *testing.T) {
	// the medium cannot hold even one small record
	f := newFixture(t, nil, 64)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.svc.Current(ctx), UploadRequest{Name: "a.csv", Data: csvRows(20)})
	require.ErrorIs(t, err, common.ErrQuotaExceededOnWrite)
	assert.True(t, res.Decision.Allowed)
	assert.Nil(t, res.Record)
}

func TestShareLink(t *testing.T) {
	r := presigningRemote{&fakeRemote{}}
	f := newFixture(t, r, 0)
	ctx := context.Background()

	_, err := f.svc.ShareLink(ctx, f.svc.Current(ctx), "x", time.Minute)
	require.ErrorIs(t, err, common.ErrFeatureRejected)

	tok, err := auth.Issue(secret, "user-1", models.KindUser, policy.TierPro, time.Hour)
	require.NoError(t, err)
	p, err := f.svc.SignIn(ctx, tok)
	require.NoError(t, err)

	res, err := f.svc.Upload(ctx, p, UploadRequest{Name: "a.json", Data: []byte(`[1,2]`)})
	require.NoError(t, err)
	f.sync.Wait()

	link, err := f.svc.ShareLink(ctx, p, res.Record.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/user-1/"+res.Record.ID+"?ttl=1m0s", link)

	_, err = f.svc.ShareLink(ctx, p, "missing", time.Minute)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestShareLink_Unsupported(t *testing.T) {
	f := newFixture(t, &fakeRemote{}, 0)
	ctx := context.Background()

	tok, err := auth.Issue(secret, "user-1", models.KindUser, policy.TierEnterprise, time.Hour)
	require.NoError(t, err)
	p, err := f.svc.SignIn(ctx, tok)
	require.NoError(t, err)

	_, err = f.svc.ShareLink(ctx, p, "x", time.Minute)
	require.ErrorIs(t, err, ErrShareUnsupported)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, f.svc.Current(ctx), UploadRequest{Name: "a.json", Data: []byte(`1`)})
	require.NoError(t, err)

	n, err := f.svc.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, n)
}
