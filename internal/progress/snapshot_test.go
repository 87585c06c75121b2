package progress

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

type fakePersister struct {
	snap    Snapshot
	loadErr error
	saved   []Snapshot
}

func (f *fakePersister) Save(_ context.Context, snap Snapshot) error {
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakePersister) Load(_ context.Context) (Snapshot, error) {
	return f.snap, f.loadErr
}

// populated returns a store with a goal, one completed and one pending child.
func populated(t *testing.T) (*Store, string) {
	t.Helper()
	s := newTestStore(t)
	goal, _ := s.CreateTask("", "compute 123 + 456")
	require.NoError(t, s.Assign(goal, "a1"))
	c1, _ := s.CreateTask(goal, "add the numbers")
	_, _ = s.CreateTask(goal, "report the sum")
	require.NoError(t, s.Assign(c1, "a1"))
	require.NoError(t, s.UpdateStatus(c1, models.TaskStatusCompleted, &models.TaskResult{Output: "579"}))
	return s, goal
}

func TestRestore_RoundTrip(t *testing.T) {
	s, goal := populated(t)
	snap := s.Snapshot()

	restored := New(WithLogger(logging.Discard()))
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, snap.Tasks, restored.Snapshot().Tasks)
	assert.True(t, restored.HasAgent("a1"))

	st, err := restored.SubtreeStatus(goal)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, st)
}

func TestSnapshotValidate(t *testing.T) {
	s, _ := populated(t)
	good := s.Snapshot()
	require.NoError(t, good.Validate())

	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		wantErr error
	}{
		{"future schema", func(sn *Snapshot) { sn.SchemaVersion = SchemaVersion + 1 }, ErrUnsupportedSchema},
		{"zero schema", func(sn *Snapshot) { sn.SchemaVersion = 0 }, ErrUnsupportedSchema},
		{"unknown parent", func(sn *Snapshot) { sn.Tasks[1].ParentID = "ghost" }, nil},
		{"unknown child", func(sn *Snapshot) { sn.Tasks[0].Children = append(sn.Tasks[0].Children, "ghost") }, nil},
		{"bad status", func(sn *Snapshot) { sn.Tasks[0].Status = "weird" }, nil},
		{"duplicate task", func(sn *Snapshot) { sn.Tasks = append(sn.Tasks, sn.Tasks[0]) }, nil},
		{"duplicate agent", func(sn *Snapshot) { sn.Agents = append(sn.Agents, sn.Agents[0]) }, nil},
		{"child names another parent", func(sn *Snapshot) { sn.Tasks[2].ParentID = sn.Tasks[1].ID }, ErrMalformedHierarchy},
		{"self child", func(sn *Snapshot) { sn.Tasks[0].Children = append(sn.Tasks[0].Children, sn.Tasks[0].ID) }, ErrMalformedHierarchy},
		{"unlisted child", func(sn *Snapshot) { sn.Tasks[0].Children = sn.Tasks[0].Children[:1] }, ErrMalformedHierarchy},
		{"cycle", makeCycle, ErrMalformedHierarchy},
		{"self parent", makeSelfParent, ErrMalformedHierarchy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := s.Snapshot()
			tt.mutate(&snap)
			err := snap.Validate()
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestSnapshotQueries(t *testing.T) {
	s, goal := populated(t)
	snap := s.Snapshot()

	roots := snap.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, goal, roots[0].ID)

	children := snap.Children(goal)
	require.Len(t, children, 2)
	assert.Equal(t, "add the numbers", children[0].Description)
	assert.Len(t, snap.Descendants(goal), 2)
	assert.Nil(t, snap.Children("ghost"))

	assert.Equal(t, models.TaskStatusRunning, snap.SubtreeStatus(goal))
	assert.Equal(t, models.TaskStatus(""), snap.SubtreeStatus("ghost"))

	rec, ok := snap.Agent("a1")
	require.True(t, ok)
	assert.Equal(t, "analyst", rec.Kind)

	st := snap.Stats()
	assert.Equal(t, Stats{Total: 3, Running: 1, Completed: 1, Pending: 1,
		CompletionRate: 1.0 / 3.0, FailureRate: 0}, st)
}

// makeCycle turns the goal and its first child into each other's parent.
func makeCycle(sn *Snapshot) {
	goal, child := &sn.Tasks[0], &sn.Tasks[1]
	goal.ParentID = child.ID
	child.Children = []string{goal.ID}
}

// makeSelfParent reduces the snapshot to one task that is its own parent
// and child.
func makeSelfParent(sn *Snapshot) {
	t := sn.Tasks[0]
	t.ParentID = t.ID
	t.Children = []string{t.ID}
	sn.Tasks = []models.Task{t}
}

func TestOpen(t *testing.T) {
	s, _ := populated(t)
	good := s.Snapshot()
	corrupt := s.Snapshot()
	corrupt.SchemaVersion = 99
	cyclic := s.Snapshot()
	makeCycle(&cyclic)
	selfChild := s.Snapshot()
	makeSelfParent(&selfChild)

	tests := []struct {
		name      string
		persister Persister
		wantTasks int
	}{
		{"nil persister", nil, 0},
		{"nothing saved", &fakePersister{loadErr: ErrNoSnapshot}, 0},
		{"load error", &fakePersister{loadErr: errors.New("disk on fire")}, 0},
		{"corrupt snapshot", &fakePersister{snap: corrupt}, 0},
		{"cyclic hierarchy", &fakePersister{snap: cyclic}, 0},
		{"self child", &fakePersister{snap: selfChild}, 0},
		{"valid snapshot", &fakePersister{snap: good}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := Open(context.Background(), tt.persister, WithLogger(logging.Discard()))
			require.NotNil(t, store)
			assert.Equal(t, tt.wantTasks, store.Stats().Total)
		})
	}
}

func TestRecoverInterrupted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterAgent(models.AgentRecord{ID: "coord", Kind: models.AgentKindCoordinator}))

	goal, _ := s.CreateTask("", "goal")
	require.NoError(t, s.Assign(goal, "coord"))
	c1, _ := s.CreateTask(goal, "running child")
	c2, _ := s.CreateTask(goal, "pending child")
	require.NoError(t, s.Assign(c1, "a1"))

	recovered, err := s.RecoverInterrupted("interrupted")
	require.NoError(t, err)
	assert.Equal(t, []string{c1}, recovered)

	t1, _ := s.GetTask(c1)
	assert.Equal(t, models.TaskStatusFailed, t1.Status)
	assert.Equal(t, "interrupted", t1.Result.Reason)

	t2, _ := s.GetTask(c2)
	assert.Equal(t, models.TaskStatusPending, t2.Status)

	g, _ := s.GetTask(goal)
	assert.Equal(t, models.TaskStatusRunning, g.Status)
}

func TestReport(t *testing.T) {
	s, _ := populated(t)
	out := Report(s.Snapshot())

	assert.Contains(t, out, "◐ compute 123 + 456 [a1]")
	assert.Contains(t, out, "  ● add the numbers [a1]")
	assert.Contains(t, out, "result: 579")
	assert.Contains(t, out, "  ○ report the sum")
	assert.Contains(t, out, "Tasks: 3 total, 1 pending, 1 running, 1 completed, 0 failed")
	assert.Contains(t, out, "Agents: 1 registered")

	// Goal line comes before its children.
	assert.Less(t, strings.Index(out, "compute 123"), strings.Index(out, "add the numbers"))

	assert.Contains(t, Report(Snapshot{SchemaVersion: SchemaVersion}), "No tasks.")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 8, "abcde..."},
		{"计算一二三四五", 5, "计算..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestStatusSymbol(t *testing.T) {
	assert.Equal(t, "○", StatusSymbol(models.TaskStatusPending))
	assert.Equal(t, "✗", StatusSymbol(models.TaskStatusFailed))
	assert.Equal(t, "?", StatusSymbol("x"))
}
