package models

import "time"

// RemoteFile is one entry of the remote file listing.
type RemoteFile struct {
	Owner     string
	RecordID  string
	Name      string
	Size      int64
	UpdatedAt time.Time
}
