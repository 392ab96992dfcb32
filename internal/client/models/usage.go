package models

import "time"

// UploadEvent is one entry of a ledger's history.
type UploadEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Name      string    `json:"name"`
}

// UsageLedger holds per-identity upload counters. TotalUploads only grows,
// except through an explicit reset.
type UsageLedger struct {
	Identity     string        `json:"identity"`
	TotalUploads int64         `json:"total_uploads"`
	TotalBytes   int64         `json:"total_bytes"`
	History      []UploadEvent `json:"history"`
	FirstUpload  time.Time     `json:"first_upload"`
	LastUpload   time.Time     `json:"last_upload"`
}

// LastActivity is the newest timestamp the ledger knows about.
func (l *UsageLedger) LastActivity() time.Time {
	if !l.LastUpload.IsZero() {
		return l.LastUpload
	}
	return l.FirstUpload
}
