package progress

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// newTestStore returns a store with sequential IDs and a registered agent "a1".
func newTestStore(t *testing.T) *Store {
	t.Helper()
	n := 0
	s := New(
		WithLogger(logging.Discard()),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("t%d", n)
		}),
	)
	require.NoError(t, s.RegisterAgent(models.AgentRecord{ID: "a1", Kind: "analyst"}))
	return s
}

func TestCreateTask(t *testing.T) {
	s := newTestStore(t)

	goal, err := s.CreateTask("", "compute 123 + 456")
	require.NoError(t, err)

	child, err := s.CreateTask(goal, "compute 123+456", WithPriority(1), WithCapability("calculator"))
	require.NoError(t, err)

	task, err := s.GetTask(child)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, goal, task.ParentID)
	assert.Empty(t, task.AssignedAgent)
	assert.Empty(t, task.Children)
	assert.Nil(t, task.Result)
	assert.Equal(t, 1, task.Priority)
	assert.Equal(t, "calculator", task.Capability)

	parent, err := s.GetTask(goal)
	require.NoError(t, err)
	assert.Equal(t, []string{child}, parent.Children)
}

func TestCreateTask_InvalidParent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateTask("missing", "x")
	assert.ErrorIs(t, err, ErrInvalidParent)

	id, err := s.CreateTask("", "done already")
	require.NoError(t, err)
	require.NoError(t, s.Assign(id, "a1"))
	require.NoError(t, s.UpdateStatus(id, models.TaskStatusCompleted, nil))

	_, err = s.CreateTask(id, "late child")
	assert.ErrorIs(t, err, ErrInvalidParent)
}

func TestCreateTask_ChildrenKeepPlanningOrder(t *testing.T) {
	s := newTestStore(t)
	goal, _ := s.CreateTask("", "goal")

	var want []string
	for i := 0; i < 5; i++ {
		id, err := s.CreateTask(goal, fmt.Sprintf("step %d", i))
		require.NoError(t, err)
		want = append(want, id)
	}

	children, err := s.Children(goal)
	require.NoError(t, err)
	var got []string
	for _, c := range children {
		got = append(got, c.ID)
	}
	assert.Equal(t, want, got)
}

func TestAssign(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateTask("", "task")

	t.Run("unknown task", func(t *testing.T) {
		assert.ErrorIs(t, s.Assign("nope", "a1"), ErrUnknownTask)
	})

	t.Run("unknown agent", func(t *testing.T) {
		assert.ErrorIs(t, s.Assign(id, "ghost"), ErrUnknownAgent)
	})

	t.Run("pending to running", func(t *testing.T) {
		require.NoError(t, s.Assign(id, "a1"))
		task, _ := s.GetTask(id)
		assert.Equal(t, models.TaskStatusRunning, task.Status)
		assert.Equal(t, "a1", task.AssignedAgent)
		assert.NotNil(t, task.StartedAt)
	})

	t.Run("second assign is invalid", func(t *testing.T) {
		assert.ErrorIs(t, s.Assign(id, "a1"), ErrInvalidTransition)
	})
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *Store, id string)
		to      models.TaskStatus
		wantErr error
	}{
		{"pending to completed", func(s *Store, id string) {}, models.TaskStatusCompleted, ErrInvalidTransition},
		{"pending to failed", func(s *Store, id string) {}, models.TaskStatusFailed, ErrInvalidTransition},
		{"pending to running", func(s *Store, id string) {}, models.TaskStatusRunning, nil},
		{"running to completed", func(s *Store, id string) { _ = s.Assign(id, "a1") }, models.TaskStatusCompleted, nil},
		{"running to failed", func(s *Store, id string) { _ = s.Assign(id, "a1") }, models.TaskStatusFailed, nil},
		{"running to pending", func(s *Store, id string) { _ = s.Assign(id, "a1") }, models.TaskStatusPending, ErrInvalidTransition},
		{"completed to failed", func(s *Store, id string) {
			_ = s.Assign(id, "a1")
			_ = s.UpdateStatus(id, models.TaskStatusCompleted, nil)
		}, models.TaskStatusFailed, ErrInvalidTransition},
		{"unknown status", func(s *Store, id string) { _ = s.Assign(id, "a1") }, models.TaskStatus("done"), ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			id, _ := s.CreateTask("", "task")
			tt.prepare(s, id)

			err := s.UpdateStatus(id, tt.to, &models.TaskResult{Output: "out"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			task, _ := s.GetTask(id)
			assert.Equal(t, tt.to, task.Status)
		})
	}
}

func TestUpdateStatus_RecordsResultOnlyWhenTerminal(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateTask("", "task")
	require.NoError(t, s.Assign(id, "a1"))

	task, _ := s.GetTask(id)
	assert.Nil(t, task.Result)
	assert.Nil(t, task.EndedAt)

	require.NoError(t, s.UpdateStatus(id, models.TaskStatusCompleted, &models.TaskResult{Output: "579"}))
	task, _ = s.GetTask(id)
	require.NotNil(t, task.Result)
	assert.Equal(t, "579", task.Result.Output)
	assert.NotNil(t, task.EndedAt)
}

func TestUpdateStatus_UnknownTask(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.UpdateStatus("nope", models.TaskStatusRunning, nil), ErrUnknownTask)
}

func TestUpdateStatus_ParentWaitsForChildren(t *testing.T) {
	s := newTestStore(t)
	goal, _ := s.CreateTask("", "goal")
	require.NoError(t, s.Assign(goal, "a1"))
	c1, _ := s.CreateTask(goal, "c1")
	c2, _ := s.CreateTask(goal, "c2")

	assert.ErrorIs(t, s.UpdateStatus(goal, models.TaskStatusCompleted, nil), ErrInvalidTransition)

	require.NoError(t, s.Assign(c1, "a1"))
	require.NoError(t, s.UpdateStatus(c1, models.TaskStatusCompleted, nil))
	assert.ErrorIs(t, s.UpdateStatus(goal, models.TaskStatusFailed, nil), ErrInvalidTransition)

	require.NoError(t, s.Assign(c2, "a1"))
	require.NoError(t, s.UpdateStatus(c2, models.TaskStatusFailed, nil))
	assert.NoError(t, s.UpdateStatus(goal, models.TaskStatusCompleted, nil))
}

func TestRegisterAgent_Duplicate(t *testing.T) {
	s := newTestStore(t)
	err := s.RegisterAgent(models.AgentRecord{ID: "a1"})
	assert.ErrorIs(t, err, ErrDuplicateAgent)
	assert.True(t, IsInvariantViolation(err))
}

func TestAgentRecordIsImmutable(t *testing.T) {
	s := newTestStore(t)
	caps := []string{"calculator"}
	require.NoError(t, s.RegisterAgent(models.AgentRecord{ID: "a2", Capabilities: caps}))
	caps[0] = "mutated"

	rec, err := s.Agent("a2")
	require.NoError(t, err)
	assert.Equal(t, []string{"calculator"}, rec.Capabilities)
	assert.False(t, rec.CreatedAt.IsZero())

	rec.Capabilities[0] = "mutated again"
	again, _ := s.Agent("a2")
	assert.Equal(t, "calculator", again.Capabilities[0])

	_, err = s.Agent("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestSubtreeStatus(t *testing.T) {
	s := newTestStore(t)
	goal, _ := s.CreateTask("", "goal")
	require.NoError(t, s.Assign(goal, "a1"))
	c1, _ := s.CreateTask(goal, "c1")
	c2, _ := s.CreateTask(goal, "c2")
	g1, _ := s.CreateTask(c1, "grandchild")

	st, err := s.SubtreeStatus(c2)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, st)

	st, _ = s.SubtreeStatus(goal)
	assert.Equal(t, models.TaskStatusRunning, st)

	require.NoError(t, s.Assign(c1, "a1"))
	require.NoError(t, s.Assign(g1, "a1"))
	require.NoError(t, s.UpdateStatus(g1, models.TaskStatusFailed, nil))
	st, _ = s.SubtreeStatus(goal)
	assert.Equal(t, models.TaskStatusRunning, st, "failed descendant with work still running is not terminal")

	require.NoError(t, s.UpdateStatus(c1, models.TaskStatusCompleted, nil))
	require.NoError(t, s.Assign(c2, "a1"))
	require.NoError(t, s.UpdateStatus(c2, models.TaskStatusCompleted, nil))
	require.NoError(t, s.UpdateStatus(goal, models.TaskStatusCompleted, nil))

	st, _ = s.SubtreeStatus(goal)
	assert.Equal(t, models.TaskStatusFailed, st)
	st, _ = s.SubtreeStatus(c2)
	assert.Equal(t, models.TaskStatusCompleted, st)

	_, err = s.SubtreeStatus("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestAggregate(t *testing.T) {
	P, R, C, F := models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusCompleted, models.TaskStatusFailed
	tests := []struct {
		name string
		in   []models.TaskStatus
		want models.TaskStatus
	}{
		{"all completed", []models.TaskStatus{C, C}, C},
		{"completed and failed", []models.TaskStatus{C, F}, F},
		{"all pending", []models.TaskStatus{P, P}, P},
		{"any running", []models.TaskStatus{P, R}, R},
		{"started but not finished", []models.TaskStatus{C, P}, R},
		{"failed with pending", []models.TaskStatus{F, P}, R},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.in))
		})
	}
}

func TestSnapshot_IsPointInTime(t *testing.T) {
	s := newTestStore(t)
	goal, _ := s.CreateTask("", "goal")
	c1, _ := s.CreateTask(goal, "c1")

	snap := s.Snapshot()
	require.NoError(t, s.Assign(c1, "a1"))
	_, _ = s.CreateTask(goal, "c2")

	task, ok := snap.Task(c1)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Len(t, snap.Children(goal), 1)
	assert.Equal(t, SchemaVersion, snap.SchemaVersion)

	// Mutating returned copies does not leak into the snapshot.
	task.Description = "changed"
	again, _ := snap.Task(c1)
	assert.Equal(t, "c1", again.Description)
}

// TestTransitions_RandomSequences drives the store with random calls and
// checks that every observed status change is a legal edge.
func TestTransitions_RandomSequences(t *testing.T) {
	statuses := []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusRunning,
		models.TaskStatusCompleted, models.TaskStatusFailed, "bogus",
	}

	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := newTestStore(t)
		ids := []string{}
		last := map[string]models.TaskStatus{}

		for step := 0; step < 200; step++ {
			switch op := rng.Intn(4); {
			case op == 0 || len(ids) == 0:
				parent := ""
				if len(ids) > 0 && rng.Intn(2) == 0 {
					parent = ids[rng.Intn(len(ids))]
				}
				if id, err := s.CreateTask(parent, "x"); err == nil {
					ids = append(ids, id)
					last[id] = models.TaskStatusPending
				}
			case op == 1:
				_ = s.Assign(ids[rng.Intn(len(ids))], "a1")
			default:
				_ = s.UpdateStatus(ids[rng.Intn(len(ids))], statuses[rng.Intn(len(statuses))], nil)
			}

			for _, task := range s.Snapshot().Tasks {
				prev := last[task.ID]
				if prev != task.Status && !prev.CanTransitionTo(task.Status) {
					t.Fatalf("seed %d: task %s moved %s -> %s", seed, task.ID, prev, task.Status)
				}
				last[task.ID] = task.Status

				if task.Status.Terminal() {
					for _, c := range snapChildren(s, task.ID) {
						if !c.Status.Terminal() {
							t.Fatalf("seed %d: terminal task %s has non-terminal child %s", seed, task.ID, c.ID)
						}
					}
				}
			}
		}
	}
}

func snapChildren(s *Store, id string) []models.Task {
	children, _ := s.Children(id)
	return children
}

func TestConcurrentWritesToDifferentTasks(t *testing.T) {
	s := New(WithLogger(logging.Discard()))
	goal, _ := s.CreateTask("", "goal")

	const workers = 16
	ids := make([]string, workers)
	for i := range ids {
		require.NoError(t, s.RegisterAgent(models.AgentRecord{ID: fmt.Sprintf("w%d", i)}))
		ids[i], _ = s.CreateTask(goal, fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Assign(ids[i], fmt.Sprintf("w%d", i)); err != nil {
				t.Error(err)
				return
			}
			_ = s.Snapshot()
			if err := s.UpdateStatus(ids[i], models.TaskStatusCompleted, &models.TaskResult{Output: "ok"}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	st, err := s.SubtreeStatus(goal)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, st, "goal itself is still pending")
	assert.Equal(t, workers, s.Stats().Completed)
}

func TestConcurrentWritesToSameTask_OneWins(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateTask("", "contended")
	require.NoError(t, s.Assign(id, "a1"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := models.TaskStatusCompleted
			if i%2 == 1 {
				st = models.TaskStatusFailed
			}
			if s.UpdateStatus(id, st, nil) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }), WithLogger(logging.Discard()))
	id, _ := s.CreateTask("", "x")
	task, _ := s.GetTask(id)
	assert.Equal(t, fixed, task.CreatedAt)
}
