package models

import (
	"encoding/json"
	"time"
)

// StoredRecord is a persisted file or artifact in an identity's namespace.
// Payload is the serialized JSON document and Size its byte length. FileSize
// is the length of the file as uploaded; quotas are charged in those bytes.
type StoredRecord struct {
	ID         string          `json:"id"`
	Owner      string          `json:"owner"`
	Name       string          `json:"name"`
	Format     string          `json:"format"`
	Payload    json.RawMessage `json:"payload"`
	Size       int64           `json:"size"`
	FileSize   int64           `json:"file_size,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	LastAccess time.Time       `json:"last_access"`

	// Reduced marks a record whose payload the optimizer truncated or
	// downsampled to fit; OriginalSize is the size before reduction.
	Reduced      bool  `json:"reduced,omitempty"`
	OriginalSize int64 `json:"original_size,omitempty"`
}

// QuotaBytes is what the record counts against its owner's byte quota.
// Records written without a FileSize are charged their payload size.
func (r *StoredRecord) QuotaBytes() int64 {
	if r.FileSize > 0 {
		return r.FileSize
	}
	return r.Size
}

// Overview is the listing view of a record, without its payload.
type Overview struct {
	ID         string
	Name       string
	Format     string
	Size       int64
	CreatedAt  time.Time
	LastAccess time.Time
	Reduced    bool
}

func (r *StoredRecord) Overview() Overview {
	return Overview{
		ID:         r.ID,
		Name:       r.Name,
		Format:     r.Format,
		Size:       r.Size,
		CreatedAt:  r.CreatedAt,
		LastAccess: r.LastAccess,
		Reduced:    r.Reduced,
	}
}
