package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deribit-probe/internal/model"
)

func newTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	r, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSaveAndListRuns(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := &model.ProbeRun{
		StartedAt:       started,
		Duration:        1500 * time.Microsecond,
		Endpoint:        "wss://test.deribit.com/ws/api/v2",
		ExpectedVersion: "2.0",
		ReportedVersion: "2.0",
		Outcome:         model.OutcomeMatch,
	}
	second := &model.ProbeRun{
		StartedAt:       started.Add(time.Minute),
		Duration:        2 * time.Second,
		Endpoint:        "wss://test.deribit.com/ws/api/v2",
		ExpectedVersion: "2.0",
		Outcome:         model.OutcomeCancelled,
		Error:           "probe cancelled: context deadline exceeded",
	}

	id1, err := r.SaveRun(ctx, first)
	require.NoError(t, err)
	id2, err := r.SaveRun(ctx, second)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)
	assert.Equal(t, id1, first.ID)

	runs, err := r.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, *second, runs[0])
	assert.Equal(t, *first, runs[1])

	latest, err := r.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, id2, latest[0].ID)
}

func TestListRunsEmpty(t *testing.T) {
	r := newTestRepo(t)

	runs, err := r.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	r, err := NewSQLiteRepo(path)
	require.NoError(t, err)
	_, err = r.SaveRun(context.Background(), &model.ProbeRun{
		StartedAt:       time.Now(),
		Endpoint:        "wss://test.deribit.com/ws/api/v2",
		ExpectedVersion: "2.0",
		Outcome:         model.OutcomeMismatch,
	})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = NewSQLiteRepo(path)
	require.NoError(t, err)
	defer r.Close()

	runs, err := r.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.OutcomeMismatch, runs[0].Outcome)
}
