package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

func TestCollector_Observe(t *testing.T) {
	c := New()
	step := models.Step{Action: models.Action{Kind: models.ActionTool, Tool: "calculator", Input: "1+1"}}

	for _, ev := range []orchestrator.Event{
		{Type: orchestrator.EventPlanCreated, Count: 2},
		{Type: orchestrator.EventTaskStarted, AgentKind: "analyst"},
		{Type: orchestrator.EventAgentStep, Step: &step},
		{Type: orchestrator.EventTaskCompleted, AgentKind: "analyst", Duration: 2 * time.Second},
		{Type: orchestrator.EventTaskFailed, AgentID: orchestrator.CoordinatorID, Error: "no agent"},
		{Type: orchestrator.EventRunDone, Status: models.RunStalled, Round: 2, Duration: time.Minute},
		{Type: orchestrator.EventRunDone, Error: "duplicate agent"},
	} {
		c.Observe(ev)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.planned))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tasksInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("completed", "analyst")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("failed", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("tool", "calculator")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("stalled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("halted")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.taskDuration))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Observe(orchestrator.Event{Type: orchestrator.EventRunDone, Status: models.RunCompleted, Round: 1})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `aime_runs_total{status="completed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
