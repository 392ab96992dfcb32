package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/auth"
	"github.com/NadirInab/datavis-sub001/internal/client/client"
	"github.com/NadirInab/datavis-sub001/internal/client/gate"
	"github.com/NadirInab/datavis-sub001/internal/client/identity"
	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/client/storage"
	"github.com/NadirInab/datavis-sub001/internal/client/syncer"
	"github.com/NadirInab/datavis-sub001/internal/client/usage"
	"github.com/NadirInab/datavis-sub001/internal/logging"
)

type UploadService interface {
	SignIn(ctx context.Context, token string) (models.Principal, error)
	SignOut(ctx context.Context)
	Current(ctx context.Context) models.Principal
	Whoami(ctx context.Context) Whoami

	Upload(ctx context.Context, p models.Principal, req UploadRequest) (UploadResult, error)
	List(ctx context.Context, p models.Principal) ([]models.Overview, error)
	Get(ctx context.Context, p models.Principal, id string) (*models.StoredRecord, error)
	Delete(ctx context.Context, p models.Principal, id string) error
	Stats(ctx context.Context, p models.Principal) (Stats, error)
	CheckFeature(p models.Principal, feature string) gate.Decision

	Sync(ctx context.Context, p models.Principal) (syncer.DrainResult, error)
	Pending(ctx context.Context, p models.Principal) ([]*models.SyncTask, error)
	Cleanup(ctx context.Context, retentionDays int) (int, error)
	ShareLink(ctx context.Context, p models.Principal, id string, ttl time.Duration) (string, error)
}

// ErrShareUnsupported is returned by ShareLink when the remote cannot mint
// download links.
var ErrShareUnsupported = errors.New("remote does not support share links")

// Presigner is implemented by remotes that can mint time-limited download
// links (client.S3Client).
type Presigner interface {
	PresignDownload(ctx context.Context, owner, recordID string, ttl time.Duration) (string, error)
}

type UploadRequest struct {
	Name   string
	Format string
	Data   []byte
}

// UploadResult is returned for every upload attempt that reached a decision.
// A denied upload has Decision.Allowed == false and a nil Record.
type UploadResult struct {
	Decision gate.Decision
	Record   *models.StoredRecord
	Evicted  []string
	Reduced  bool
}

type Stats struct {
	Principal models.Principal
	Usage     usage.Stats
	Files     int
	Bytes     int64
	Limits    policy.Limits
	Pending   int
}

type Whoami struct {
	Principal models.Principal
	Device    models.Identity
	Online    bool
}

// Deps are the collaborators of the upload service.
type Deps struct {
	Session  *auth.Session
	Identity *identity.Resolver
	Gate     *gate.Gate
	Store    *storage.Store
	Usage    *usage.Tracker
	Sync     *syncer.Coordinator
	Remote   client.Remote
	Log      logging.Logger
}

type uploadService struct {
	d Deps

	admit sync.Map // identity -> *sync.Mutex
}

func NewUploadService(d Deps) UploadService {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &uploadService{d: d}
}

func (s *uploadService) SignIn(ctx context.Context, token string) (models.Principal, error) {
	p, err := s.d.Session.SignIn(token)
	if err != nil {
		return models.Principal{}, err
	}
	if s.d.Remote != nil {
		s.d.Remote.SetAccessToken(p.Token)
	}
	s.d.Log.Info(ctx, "signed in", "identity", p.ID, "tier", p.Tier)
	return p, nil
}

func (s *uploadService) SignOut(ctx context.Context) {
	s.d.Session.SignOut()
	if s.d.Remote != nil {
		s.d.Remote.SetAccessToken("")
	}
	s.d.Log.Info(ctx, "signed out")
}

func (s *uploadService) Current(ctx context.Context) models.Principal {
	return s.d.Session.Current(ctx)
}

func (s *uploadService) Whoami(ctx context.Context) Whoami {
	return Whoami{
		Principal: s.d.Session.Current(ctx),
		Device:    s.d.Identity.Identity(ctx),
		Online:    s.d.Sync.Online(),
	}
}

// lockIdentity serializes admission for one identity.
func (s *uploadService) lockIdentity(id string) func() {
	m, _ := s.admit.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Upload admits, stores, accounts and mirrors one file. A gate denial is
// returned in the result with a nil error. Quotas are charged in bytes of the
// file as uploaded, not of its stored JSON form.
func (s *uploadService) Upload(ctx context.Context, p models.Principal, req UploadRequest) (UploadResult, error) {
	format := NormalizeFormat(req.Name, req.Format)
	fileSize := int64(len(req.Data))

	payload, err := ToPayload(format, req.Data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("read %s: %w", req.Name, err)
	}

	unlock := s.lockIdentity(p.ID)
	defer unlock()

	decision, err := s.d.Gate.CheckUpload(ctx, p, fileSize, format)
	if err != nil {
		return UploadResult{}, err
	}
	if !decision.Allowed {
		return UploadResult{Decision: decision}, nil
	}

	put, err := s.d.Store.Put(ctx, p.ID, models.StoredRecord{
		Name:     req.Name,
		Format:   format,
		Payload:  payload,
		FileSize: fileSize,
	}, s.d.Gate.Limits(p))
	if err != nil {
		return UploadResult{Decision: decision}, err
	}

	if err := s.d.Usage.RecordUpload(ctx, p.ID, usage.FileInfo{Name: req.Name, Size: put.Record.QuotaBytes()}); err != nil {
		s.d.Log.Warn(ctx, "usage not recorded", "identity", p.ID, "record", put.Record.ID, "err", err)
	}

	task, err := models.UploadTask(&put.Record)
	if err != nil {
		s.d.Log.Error(ctx, "sync task not built", "record", put.Record.ID, "err", err)
	} else {
		s.d.Sync.Mirror(ctx, task)
	}

	rec := put.Record
	return UploadResult{Decision: decision, Record: &rec, Evicted: put.Evicted, Reduced: put.Reduced}, nil
}

func (s *uploadService) List(ctx context.Context, p models.Principal) ([]models.Overview, error) {
	records, err := s.d.Store.List(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]models.Overview, 0, len(records))
	for i := range records {
		out = append(out, records[i].Overview())
	}
	return out, nil
}

func (s *uploadService) Get(ctx context.Context, p models.Principal, id string) (*models.StoredRecord, error) {
	rec, err := s.d.Store.Get(ctx, p.ID, id)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record locally and mirrors the deletion.
func (s *uploadService) Delete(ctx context.Context, p models.Principal, id string) error {
	if err := s.d.Store.Delete(ctx, p.ID, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}

	task, err := models.DeleteTask(p.ID, id)
	if err != nil {
		return err
	}
	s.d.Sync.Mirror(ctx, task)
	return nil
}

func (s *uploadService) Stats(ctx context.Context, p models.Principal) (Stats, error) {
	files, bytes, err := s.d.Store.Usage(ctx, p.ID)
	if err != nil {
		return Stats{}, err
	}
	pending, err := s.d.Sync.Pending(ctx, p.ID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Principal: p,
		Usage:     s.d.Usage.Stats(ctx, p.ID),
		Files:     files,
		Bytes:     bytes,
		Limits:    s.d.Gate.Limits(p),
		Pending:   len(pending),
	}, nil
}

func (s *uploadService) CheckFeature(p models.Principal, feature string) gate.Decision {
	return s.d.Gate.CheckFeature(p, feature)
}

func (s *uploadService) Sync(ctx context.Context, p models.Principal) (syncer.DrainResult, error) {
	return s.d.Sync.Drain(ctx, p.ID)
}

func (s *uploadService) Pending(ctx context.Context, p models.Principal) ([]*models.SyncTask, error) {
	return s.d.Sync.Pending(ctx, p.ID)
}

// Cleanup expires usage ledgers idle for longer than retentionDays.
func (s *uploadService) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	return s.d.Usage.CleanupOldData(ctx, retentionDays)
}

// ShareLink returns a download link for a record that has reached the
// remote.
func (s *uploadService) ShareLink(ctx context.Context, p models.Principal, id string, ttl time.Duration) (string, error) {
	if d := s.d.Gate.CheckFeature(p, policy.FeatureAPISync); !d.Allowed {
		return "", d.Err()
	}
	ps, ok := s.d.Remote.(Presigner)
	if !ok {
		return "", ErrShareUnsupported
	}
	if _, err := s.d.Store.Get(ctx, p.ID, id); err != nil {
		return "", fmt.Errorf("share record %s: %w", id, err)
	}
	return ps.PresignDownload(ctx, p.ID, id, ttl)
}
