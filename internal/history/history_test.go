package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(context.Background(), dbPath, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})

	return store
}

func TestInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Insert(ctx, Record{RequestID: 30, Operation: OpCopy, OperationID: 7, Approved: true}))
	require.NoError(t, store.Insert(ctx, Record{RequestID: 10, Operation: OpCopy, OperationID: 7}))
	require.NoError(t, store.Insert(ctx, Record{RequestID: 20, Operation: OpCopy, OperationID: 8, Approved: true}))
	require.NoError(t, store.Insert(ctx, Record{RequestID: 10, Operation: OpDeletion, OperationID: 7}))

	ids, err := store.RequestIDs(ctx, OpCopy, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 30}, ids)

	records, err := store.Records(ctx, OpDeletion, 7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, OpDeletion, records[0].Operation)
	assert.False(t, records[0].Approved)

	none, err := store.RequestIDs(ctx, OpDeletion, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInsert_ApprovedAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, store.Insert(ctx, Record{RequestID: 1, Operation: OpCopy, OperationID: 1, Approved: true}))

	records, err := store.Records(ctx, OpCopy, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Approved)
	assert.Equal(t, int64(1700000000), records[0].CreatedAt.Unix())
}

func TestInsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := Record{RequestID: 5, Operation: OpDeletion, OperationID: 3, Approved: true}
	require.NoError(t, store.Insert(ctx, rec))
	require.NoError(t, store.Insert(ctx, rec), "same request for the same operation")

	ids, err := store.RequestIDs(ctx, OpDeletion, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids, "at most one row per request id")
}

func TestInsert_ConflictingOperation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Insert(ctx, Record{RequestID: 5, Operation: OpCopy, OperationID: 3}))

	err := store.Insert(ctx, Record{RequestID: 5, Operation: OpCopy, OperationID: 4})
	require.ErrorIs(t, err, ErrConflict)
}

func TestInsert_RejectsUnknownOperation(t *testing.T) {
	store := newTestStore(t)

	err := store.Insert(context.Background(), Record{RequestID: 1, Operation: "move", OperationID: 1})
	assert.Error(t, err)
}

func TestOpen_ReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, Record{RequestID: 42, Operation: OpCopy, OperationID: 1}))
	require.NoError(t, store.Close())

	store, err = Open(ctx, dbPath, testLogger(t))
	require.NoError(t, err)

	defer store.Close()

	ids, err := store.RequestIDs(ctx, OpCopy, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, ids)
}
