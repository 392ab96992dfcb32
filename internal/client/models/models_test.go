package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUploadTask_WrapUnwrap(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	r := &StoredRecord{
		ID: "r1", Owner: "v_1", Name: "sales.csv", Format: "csv",
		Payload: json.RawMessage(`{"rows":[["a"]]}`), UpdatedAt: at,
	}

	task, err := UploadTask(r)
	require.NoError(t, err)
	require.Equal(t, OpUpload, task.Operation)
	require.Equal(t, "v_1", task.Identity)
	require.Equal(t, "upload:r1:1767323045000000006", task.IdempotencyKey)

	out, err := task.Unwrap()
	require.NoError(t, err)
	op, ok := out.(UploadOp)
	require.True(t, ok)
	require.Equal(t, "r1", op.RecordID)
	require.Equal(t, "sales.csv", op.Name)
	require.JSONEq(t, `{"rows":[["a"]]}`, string(op.Data))
}

func TestUploadTask_KeyChangesWithRevision(t *testing.T) {
	r := &StoredRecord{ID: "r1", Owner: "o", Payload: json.RawMessage(`1`), UpdatedAt: time.Unix(1, 0)}
	a, err := UploadTask(r)
	require.NoError(t, err)
	r.UpdatedAt = time.Unix(2, 0)
	b, err := UploadTask(r)
	require.NoError(t, err)
	require.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
}

func TestDeleteTask_WrapUnwrap(t *testing.T) {
	task, err := DeleteTask("v_1", "r9")
	require.NoError(t, err)
	require.Equal(t, "delete:r9", task.IdempotencyKey)

	out, err := task.Unwrap()
	require.NoError(t, err)
	require.Equal(t, DeleteOp{Owner: "v_1", RecordID: "r9"}, out)
}

func TestUnwrap_UnknownOperation(t *testing.T) {
	task := &SyncTask{Operation: Operation("rename"), Payload: json.RawMessage(`{}`)}
	_, err := task.Unwrap()
	require.ErrorContains(t, err, "unknown operation")
}

func TestLedger_LastActivity(t *testing.T) {
	first := time.Unix(100, 0)
	l := &UsageLedger{FirstUpload: first}
	require.Equal(t, first, l.LastActivity())

	last := time.Unix(200, 0)
	l.LastUpload = last
	require.Equal(t, last, l.LastActivity())
}

func TestRecord_Overview(t *testing.T) {
	r := &StoredRecord{ID: "r", Name: "n", Format: "json", Size: 3, Reduced: true, Payload: json.RawMessage(`123`)}
	ov := r.Overview()
	require.Equal(t, "r", ov.ID)
	require.True(t, ov.Reduced)
	require.Equal(t, int64(3), ov.Size)
}
