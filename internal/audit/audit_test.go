package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfutures/fcore/internal/coretypes"
)

func TestWriterAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	runID := uuid.New()

	w, err := NewWriter(dir, runID, time.Now())
	require.NoError(t, err)

	require.NoError(t, w.Append(coretypes.AuditEvent{
		EventType: "order_state_change",
		ExecID:    "exec-1",
		Fields:    map[string]interface{}{"local_id": "abc", "state_to": "SUBMITTING"},
	}))
	require.NoError(t, w.Append(coretypes.AuditEvent{
		EventType: "order_state_change",
		ExecID:    "exec-1",
		Fields:    map[string]interface{}{"local_id": "abc", "state_to": "PENDING"},
	}))

	require.NoError(t, w.Close())

	events, err := ReadAll(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "order_state_change", events[0].EventType)
	require.Equal(t, runID.String(), events[0].RunID)
	require.Equal(t, "PENDING", events[1].Fields["state_to"])
}

func TestWriterRejectsAppendAfterClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, uuid.New(), time.Now())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Append(coretypes.AuditEvent{EventType: "late"})
	require.Error(t, err)
}
