package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow-admin/pkg/store"
)

type memorySink struct {
	mu   sync.Mutex
	rows []*store.ActivityLog
	err  error
}

func (m *memorySink) AppendActivityLog(_ context.Context, row *store.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.rows = append(m.rows, row)

	return nil
}

func (m *memorySink) actionTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.ActionType)
	}

	return out
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestDispatcher_WritesInOrder(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(quietLogger(), sink, Options{})
	require.NoError(t, d.Start(context.Background()))

	d.Record(Entry{ActionType: ActionPauseUserAutomation, TargetUserID: "u1"})
	d.Record(Entry{ActionType: ActionStopUserAutomation, TargetUserID: "u1"})

	require.NoError(t, d.Stop())

	assert.Equal(t, []string{
		ActionPauseUserAutomation,
		ActionStopUserAutomation,
	}, sink.actionTypes())
	require.NotNil(t, sink.rows[0].TargetUserID)
	assert.Equal(t, "u1", *sink.rows[0].TargetUserID)
	assert.Nil(t, sink.rows[0].TargetUserEmail)
}

func TestDispatcher_StampsCreatedAtOnRecord(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := &memorySink{}
	d := NewDispatcher(quietLogger(), sink, Options{
		Now: func() time.Time { return fixed },
	})

	d.Record(Entry{ActionType: ActionLogin})
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())

	require.Len(t, sink.rows, 1)
	assert.True(t, sink.rows[0].CreatedAt.Equal(fixed))
}

func TestDispatcher_SinkFailureIsSwallowed(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	d := NewDispatcher(quietLogger(), sink, Options{})
	require.NoError(t, d.Start(context.Background()))

	d.Record(Entry{ActionType: ActionLogout})

	require.NoError(t, d.Stop())
	assert.Empty(t, sink.actionTypes())
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(quietLogger(), sink, Options{QueueSize: 1})

	// Not started yet: the first entry is buffered, the rest overflow.
	d.Record(Entry{ActionType: ActionLogin})
	d.Record(Entry{ActionType: ActionLogout})
	d.Record(Entry{ActionType: ActionLogout})

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())

	assert.Equal(t, []string{ActionLogin}, sink.actionTypes())
}

func TestDispatcher_RecordAfterStop(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(quietLogger(), sink, Options{})
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop(), "second stop is a no-op")

	assert.NotPanics(t, func() {
		d.Record(Entry{ActionType: ActionLogin})
	})
	assert.Empty(t, sink.actionTypes())
}

func TestEntry_ToModelKeepsMetadata(t *testing.T) {
	row := Entry{
		AdminID:         "a",
		ActionType:      ActionLogin,
		TargetUserEmail: "user@x.com",
		Metadata:        map[string]any{"browser": "Firefox"},
	}.toModel()

	assert.Equal(t, "Firefox", row.Metadata["browser"])
	require.NotNil(t, row.TargetUserEmail)
	assert.Nil(t, row.TargetUserID)
}
