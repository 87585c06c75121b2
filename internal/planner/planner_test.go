package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinyan1/aime-reproduction/internal/llm"
	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/retry"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

func newPlanner(c llm.Completer) *Planner {
	return New(c, WithLogger(logging.Discard()), WithRetryPolicy(retry.Policy{Budget: 2}))
}

// goalStore returns a store holding one goal and the goal's ID.
func goalStore(t *testing.T, goal string) (*progress.Store, string) {
	t.Helper()
	store := progress.New(progress.WithLogger(logging.Discard()))
	id, err := store.CreateTask("", goal)
	require.NoError(t, err)
	require.NoError(t, store.RegisterAgent(models.AgentRecord{ID: "worker"}))
	return store, id
}

func finishChild(t *testing.T, store *progress.Store, goalID, desc string, status models.TaskStatus, result *models.TaskResult) string {
	t.Helper()
	id, err := store.CreateTask(goalID, desc)
	require.NoError(t, err)
	require.NoError(t, store.Assign(id, "worker"))
	require.NoError(t, store.UpdateStatus(id, status, result))
	return id
}

func TestPlan_Structured(t *testing.T) {
	store, goalID := goalStore(t, "compute 123 + 456")
	completer := llm.NewScripted(llm.Text(`{"tasks":[{"id":"t1","description":"compute 123+456","tool_type":"calculator","priority":"high"}],"strategy":"sequential","estimated_time":30}`))
	p := newPlanner(completer)

	dec, err := p.Plan(context.Background(), Request{Goal: "compute 123 + 456", GoalID: goalID, Snapshot: store.Snapshot()})
	require.NoError(t, err)

	assert.Equal(t, Structured, dec.Kind)
	assert.Equal(t, Basic, dec.Variant)
	assert.Equal(t, 1, dec.Attempts)
	require.Len(t, dec.Plan.Subtasks, 1)
	assert.Equal(t, Subtask{ID: "t1", Description: "compute 123+456", ToolType: "calculator", Priority: PriorityHigh}, dec.Plan.Subtasks[0])

	calls := completer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "planner", calls[0].Purpose)
	assert.Equal(t, SystemPrompt, calls[0].System)
	assert.Contains(t, calls[0].Prompt, "compute 123 + 456")

	snap := store.Snapshot()
	assert.Len(t, snap.Tasks, 1, "planning never creates tasks")
}

func TestPlan_UnparsableProse(t *testing.T) {
	store, goalID := goalStore(t, "write a haiku")
	prose := "I would start by thinking about the seasons, then write three lines about autumn."
	p := newPlanner(llm.NewScripted(llm.Text(prose)))

	dec, err := p.Plan(context.Background(), Request{Goal: "write a haiku", GoalID: goalID, Snapshot: store.Snapshot()})
	require.NoError(t, err)

	assert.Equal(t, Fallback, dec.Kind)
	require.Len(t, dec.Plan.Subtasks, 1)
	assert.Equal(t, prose, dec.Plan.Subtasks[0].Description)
}

func TestPlan_RetriesTransientFailures(t *testing.T) {
	store, goalID := goalStore(t, "g")
	completer := llm.NewScripted(llm.Fail(llm.Timeout), llm.Fail(llm.RateLimited), llm.Text(`["a", "b"]`))
	p := newPlanner(completer)

	dec, err := p.Plan(context.Background(), Request{Goal: "g", GoalID: goalID, Snapshot: store.Snapshot()})
	require.NoError(t, err)
	assert.Equal(t, 3, dec.Attempts)
	assert.Equal(t, []string{"a", "b"}, dec.Plan.Descriptions())
}

func TestPlan_ExhaustedBudget(t *testing.T) {
	store, goalID := goalStore(t, "g")
	completer := llm.NewScripted(llm.Fail(llm.Transport), llm.Fail(llm.Transport), llm.Fail(llm.Transport), llm.Text("never reached"))
	p := newPlanner(completer)

	dec, err := p.Plan(context.Background(), Request{Goal: "g", GoalID: goalID, Snapshot: store.Snapshot()})
	require.Error(t, err)
	assert.Equal(t, 3, dec.Attempts)
	assert.Equal(t, llm.Transport, llm.KindOf(err))

	var exhausted *retry.ExhaustedError
	assert.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, completer.Remaining())
	assert.Empty(t, p.History(), "failed rounds are not recorded")
}

func TestPlan_Cancelled(t *testing.T) {
	store, goalID := goalStore(t, "g")
	cause := errors.New("global timeout")
	ctx, cancel := context.WithCancelCause(context.Background())
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		cancel(cause)
		return "", llm.NewError(llm.Timeout, ctx.Err())
	})

	_, err := newPlanner(completer).Plan(ctx, Request{Goal: "g", GoalID: goalID, Snapshot: store.Snapshot()})
	assert.ErrorIs(t, err, cause)
}

func TestPlan_NoWork(t *testing.T) {
	store, goalID := goalStore(t, "g")
	finishChild(t, store, goalID, "only step", models.TaskStatusCompleted, &models.TaskResult{Output: "ok"})
	p := newPlanner(llm.NewScripted(llm.Text(`{"tasks": [], "done": true}`)))

	dec, err := p.Plan(context.Background(), Request{Goal: "g", GoalID: goalID, Snapshot: store.Snapshot()})
	require.NoError(t, err)
	assert.Equal(t, NoWork, dec.Kind)
	assert.Equal(t, WithFeedback, dec.Variant)
	assert.Empty(t, dec.Plan.Subtasks)
}

func TestPlan_ReplanPromptCarriesFailures(t *testing.T) {
	store, goalID := goalStore(t, "analyze sales")
	finishChild(t, store, goalID, "load the data", models.TaskStatusCompleted, &models.TaskResult{Output: "42 rows"})
	finishChild(t, store, goalID, "compute the trend", models.TaskStatusFailed,
		&models.TaskResult{Reason: "max iterations reached", Output: strings.Repeat("x", 500)})

	completer := llm.NewScripted(llm.Text(`["compute the trend with data_analysis"]`))
	p := newPlanner(completer)
	prior := &Plan{Subtasks: []Subtask{{Description: "load the data", ToolType: "file_ops"}, {Description: "compute the trend", ToolType: "calculator"}}}

	dec, err := p.Plan(context.Background(), Request{Goal: "analyze sales", GoalID: goalID, Snapshot: store.Snapshot(), Prior: prior})
	require.NoError(t, err)
	assert.Equal(t, Replan, dec.Variant)

	prompt := completer.Calls()[0].Prompt
	assert.Contains(t, prompt, "[completed] load the data => 42 rows")
	assert.Contains(t, prompt, "[failed] compute the trend")
	assert.Contains(t, prompt, "reason: max iterations reached")
	assert.Contains(t, prompt, "## Previous Plan")
	assert.Contains(t, prompt, "2. compute the trend (calculator)")
	assert.NotContains(t, prompt, strings.Repeat("x", 250), "partial output is truncated")
}

func TestSelectVariant(t *testing.T) {
	store, goalID := goalStore(t, "g")
	prior := &Plan{}

	assert.Equal(t, Basic, SelectVariant(Request{GoalID: goalID, Snapshot: store.Snapshot(), Prior: prior}))

	finishChild(t, store, goalID, "a", models.TaskStatusCompleted, &models.TaskResult{Output: "ok"})
	assert.Equal(t, WithFeedback, SelectVariant(Request{GoalID: goalID, Snapshot: store.Snapshot(), Prior: prior}))

	finishChild(t, store, goalID, "b", models.TaskStatusFailed, &models.TaskResult{Reason: "boom"})
	assert.Equal(t, Replan, SelectVariant(Request{GoalID: goalID, Snapshot: store.Snapshot(), Prior: prior}))
	assert.Equal(t, WithFeedback, SelectVariant(Request{GoalID: goalID, Snapshot: store.Snapshot()}))
}

func TestHistory(t *testing.T) {
	store, goalID := goalStore(t, "g")
	completer := llm.NewScripted()
	for i := 0; i < 12; i++ {
		completer.Add("", llm.Text(fmt.Sprintf(`["step %d"]`, i)))
	}
	p := newPlanner(completer)

	for i := 0; i < 12; i++ {
		_, err := p.Plan(context.Background(), Request{Goal: "g", GoalID: goalID, Snapshot: store.Snapshot()})
		require.NoError(t, err)
	}

	history := p.History()
	require.Len(t, history, historyLimit)
	for _, h := range history {
		assert.Equal(t, Structured, h.Kind)
		assert.Equal(t, 1, h.TaskCount)
		assert.Equal(t, "initial", h.State)
	}

	calls := completer.Calls()
	assert.Contains(t, calls[0].Prompt, "## Planning History\nnone")
	last := calls[len(calls)-1].Prompt
	assert.Equal(t, 2, strings.Count(last, "basic plan: 1 task(s)"), "only the last two rounds are shown")

	p.ClearHistory()
	assert.Empty(t, p.History())
}
