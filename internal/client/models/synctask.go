package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Operation classifies a remote mirroring operation.
type Operation string

const (
	OpUpload Operation = "upload"
	OpDelete Operation = "delete"
)

// SyncTask is a pending remote-mirroring operation. Seq orders the
// per-identity FIFO queue; it is assigned by the queue on enqueue.
type SyncTask struct {
	Seq            int64
	Identity       string
	Operation      Operation
	IdempotencyKey string
	Payload        json.RawMessage
	Attempts       int
	EnqueuedAt     time.Time
	LastError      string
}

// UploadOp is the payload of an OpUpload task.
type UploadOp struct {
	Owner    string          `json:"owner"`
	RecordID string          `json:"record_id"`
	Name     string          `json:"name"`
	Format   string          `json:"format"`
	Data     json.RawMessage `json:"data"`
}

// DeleteOp is the payload of an OpDelete task.
type DeleteOp struct {
	Owner    string `json:"owner"`
	RecordID string `json:"record_id"`
}

// WrapTask builds a task around a typed operation payload.
func WrapTask[T any](op Operation, identity, key string, v T) (*SyncTask, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &SyncTask{Identity: identity, Operation: op, IdempotencyKey: key, Payload: b}, nil
}

// Unwrap decodes the payload into UploadOp or DeleteOp according to the
// task's operation.
func (t *SyncTask) Unwrap() (any, error) {
	switch t.Operation {
	case OpUpload:
		var v UploadOp
		if err := json.Unmarshal(t.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	case OpDelete:
		var v DeleteOp
		if err := json.Unmarshal(t.Payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", t.Operation)
	}
}

// UploadTask derives the upload task of a record. The key includes the
// record's revision so a re-saved record is mirrored again while a replay of
// the same revision is not.
func UploadTask(r *StoredRecord) (*SyncTask, error) {
	key := "upload:" + r.ID + ":" + strconv.FormatInt(r.UpdatedAt.UnixNano(), 10)
	return WrapTask(OpUpload, r.Owner, key, UploadOp{
		Owner:    r.Owner,
		RecordID: r.ID,
		Name:     r.Name,
		Format:   r.Format,
		Data:     r.Payload,
	})
}

// DeleteTask derives the delete task of a record.
func DeleteTask(owner, recordID string) (*SyncTask, error) {
	return WrapTask(OpDelete, owner, "delete:"+recordID, DeleteOp{Owner: owner, RecordID: recordID})
}
