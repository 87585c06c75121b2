package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sub", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_StartAndOutcome(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordStart(ctx, "run-1", "goal-1", "compute 123 + 456", start))

	r, err := j.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.False(t, r.Finished())
	assert.Nil(t, r.EndedAt)
	assert.True(t, start.Equal(r.StartedAt))

	require.NoError(t, j.RecordOutcome(ctx, &models.Outcome{
		RunID:     "run-1",
		GoalID:    "goal-1",
		Goal:      "compute 123 + 456",
		Status:    models.RunCompleted,
		Result:    "579",
		Rounds:    1,
		StartedAt: start,
		EndedAt:   start.Add(3 * time.Second),
	}))

	r, err = j.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", r.Status)
	assert.True(t, r.Finished())
	assert.Equal(t, "579", r.Result)
	assert.Equal(t, 1, r.Rounds)
	require.NotNil(t, r.EndedAt)
	assert.Equal(t, 3*time.Second, r.EndedAt.Sub(r.StartedAt))
}

func TestJournal_OutcomeWithoutStart(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	now := time.Now()

	require.NoError(t, j.RecordOutcome(ctx, &models.Outcome{
		RunID: "run-x", GoalID: "g", Goal: "g", Status: models.RunStalled,
		Reason: "no further work", StartedAt: now, EndedAt: now,
	}))
	r, err := j.Get(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, "stalled", r.Status)
	assert.Equal(t, "no further work", r.Reason)
}

func TestJournal_List(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.RecordStart(ctx, id, "g-"+id, "goal "+id, base.Add(time.Duration(i)*time.Minute)))
	}

	all, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	two, err := j.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestJournal_GetUnknown(t *testing.T) {
	j := openTest(t)
	_, err := j.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
