package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/auth"
	"github.com/NadirInab/datavis-sub001/internal/client/client"
	"github.com/NadirInab/datavis-sub001/internal/client/config"
	"github.com/NadirInab/datavis-sub001/internal/client/gate"
	"github.com/NadirInab/datavis-sub001/internal/client/identity"
	"github.com/NadirInab/datavis-sub001/internal/client/metrics"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories"
	"github.com/NadirInab/datavis-sub001/internal/client/services"
	"github.com/NadirInab/datavis-sub001/internal/client/storage"
	"github.com/NadirInab/datavis-sub001/internal/client/syncer"
	"github.com/NadirInab/datavis-sub001/internal/client/usage"
	"github.com/NadirInab/datavis-sub001/internal/filex"
	"github.com/NadirInab/datavis-sub001/internal/logging"
)

type App struct {
	config  *config.Config
	log     logging.Logger
	svc     services.UploadService
	sync    *syncer.Coordinator
	metrics *metrics.Metrics
	repos   *repositories.Repositories
	remote  client.Remote

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the local store under c.DataDir and wires the engine on top
// of it. The caller owns the returned App and must Close it.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}

	dir, err := filex.EnsureDir(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	c.DataDir = dir

	table := policy.Default()
	if c.TiersFile != "" {
		t, err := policy.Load(c.TiersFile)
		if err != nil {
			return nil, err
		}
		table = t
	}

	repos, err := repositories.InitDatabase(ctx, c.DatabasePath(), repositories.Options{
		Backend:  c.StorageBackend,
		Capacity: c.StorageCapacity,
		Compress: c.Compress,
	})
	if err != nil {
		log.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}

	remote, err := client.New(ctx, client.Settings{
		Kind: c.RemoteKind,
		Addr: c.RemoteAddr,
		S3: client.S3Options{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		},
	})
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	m := metrics.New()

	resolver := identity.NewResolver(repos.KV, log, identity.WithMetrics(m))
	store := storage.NewStore(repos.KV, log, storage.Config{
		RetentionFloor: c.RetentionFloor,
		Optimizer:      storage.Optimizer{MaxRows: c.MaxRows, MaxFieldLength: c.MaxFieldLength},
	}, storage.WithMetrics(m), storage.WithEvictionObserver(func(ctx context.Context, owner string, rec models.StoredRecord) {
		log.Info(ctx, "record evicted", "identity", owner, "record", rec.ID, "name", rec.Name, "size", rec.Size)
	}))
	tracker := usage.NewTracker(repos.KV, log)
	coord := syncer.New(remote, repos.Queue, log, m, syncer.Config{
		Timeout:     c.RemoteTimeout,
		MaxAttempts: c.SyncMaxAttempts,
	})

	svc := services.NewUploadService(services.Deps{
		Session:  auth.NewSession(auth.NewVerifier([]byte(c.AuthSecret)), resolver),
		Identity: resolver,
		Gate:     gate.New(table, store, tracker, log, gate.WithMetrics(m)),
		Store:    store,
		Usage:    tracker,
		Sync:     coord,
		Remote:   remote,
		Log:      log,
	})

	return &App{
		config:  c,
		log:     log,
		svc:     svc,
		sync:    coord,
		metrics: m,
		repos:   repos,
		remote:  remote,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
	}, nil
}

// Close waits for in-flight mirror calls and releases the remote and the
// local store.
func (a *App) Close() error {
	a.sync.Wait()
	var errs []error
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	errs = append(errs, a.repos.Close())
	return errors.Join(errs...)
}

// Run expires stale usage data, starts the background watchers and blocks in
// the REPL until the user exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if n, err := a.svc.Cleanup(ctx, a.config.RetentionDays); err != nil {
		a.log.Warn(ctx, "usage cleanup failed", "error", err)
	} else if n > 0 {
		a.log.Info(ctx, "usage cleanup", "removed", n)
	}

	if a.config.MetricsAddr != "" {
		go a.serveMetrics(ctx, a.config.MetricsAddr)
	}
	go a.sync.Watch(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.status, a.reader)
}

func (a *App) serveMetrics(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error(ctx, "metrics server stopped", "addr", addr, "error", err)
	}
}

func (a *App) principal() models.Principal {
	return a.svc.Current(context.Background())
}

func (a *App) isLoggedIn() bool {
	return !a.principal().IsVisitor()
}

func (a *App) status() string {
	p := a.principal()
	mode := "local"
	if a.remote != nil {
		mode = "offline"
		if a.sync.Online() {
			mode = "online"
		}
	}
	return fmt.Sprintf("%s [%s, %s]", p.ID, p.Tier, mode)
}
