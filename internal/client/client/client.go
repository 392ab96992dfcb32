package client

import (
	"context"
	"encoding/json"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
)

// UploadRequest mirrors one stored record to the remote file API.
type UploadRequest struct {
	Owner          string
	RecordID       string
	Name           string
	Format         string
	Data           json.RawMessage
	IdempotencyKey string
}

// Remote is the remote file API the engine mirrors local writes to.
// Implementations map transport failures to ErrUnavailable, auth failures
// to ErrUnauthorized and every other failure to an error wrapping
// common.ErrSyncFailed.
type Remote interface {
	Ping(ctx context.Context) error
	Upload(ctx context.Context, req *UploadRequest) error
	Delete(ctx context.Context, owner, recordID, idempotencyKey string) error
	List(ctx context.Context, owner string) ([]models.RemoteFile, error)
	SetAccessToken(token string)
	Close() error
}
