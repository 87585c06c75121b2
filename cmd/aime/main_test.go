package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
	"github.com/kelvinyan1/aime-reproduction/internal/publish"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// isolate points every config and data location at temp directories.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Chdir(dir)
	return dir
}

// resetFlags restores every flag to its default, including Changed.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// syncBuffer is shared by the event printer and the logger during a run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out syncBuffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func testdata(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	return path
}

func TestRun_Calculator(t *testing.T) {
	script := testdata(t, "calculator.yaml")
	dir := isolate(t)
	statePath := filepath.Join(dir, "state.json")
	eventsPath := filepath.Join(dir, "events.jsonl")

	out, err := executeCommand(t, "run", "--script", script, "--state", statePath,
		"--events", eventsPath, "--retry-budget", "-1", "compute 123 + 456")
	require.NoError(t, err, out)

	assert.Contains(t, out, "completed in 1 round(s)")
	assert.Contains(t, out, "579")
	assert.Contains(t, out, "analyst_1 started")

	events, err := publish.ReadJSONL(eventsPath)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, orchestrator.EventRunStarted, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, orchestrator.EventRunDone, last.Type)
	assert.Equal(t, models.RunCompleted, last.Status)

	out, err = executeCommand(t, "status", "--state", statePath)
	require.NoError(t, err)
	assert.Contains(t, out, "compute 123 + 456")
	assert.Contains(t, out, "compute 123+456")
	assert.Contains(t, out, "Tasks: 2 total")

	out, err = executeCommand(t, "status", "--state", statePath, "--json", "--log-level", "error")
	require.NoError(t, err)
	var doc statusDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, 2, doc.Stats.Completed)
	assert.Len(t, doc.Snapshot.Tasks, 2)

	out, err = executeCommand(t, "history", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "compute 123 + 456")
}

func TestHistory_Empty(t *testing.T) {
	isolate(t)

	out, err := executeCommand(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestRun_AbortedExitsNonZero(t *testing.T) {
	script := testdata(t, "divide_by_zero.yaml")
	dir := isolate(t)

	out, err := executeCommand(t, "run", "--script", script, "--state", filepath.Join(dir, "state.json"),
		"--retry-budget", "-1", "--max-iterations", "2", "--max-rounds", "2", "compute 1/0")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, out, "aborted after 2 round(s)")
	assert.Contains(t, out, "failed")
}

func TestRunHelp_DescribesStatuses(t *testing.T) {
	isolate(t)

	out, err := executeCommand(t, "run", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "completed  every subtask of the goal completed; the run ends at once")
	assert.NotContains(t, out, "completed and the planner reported no further work")
	assert.Contains(t, out, "stalled    the planner reported no further work but some subtasks failed")
}

func TestRun_RequiresGoal(t *testing.T) {
	isolate(t)

	_, err := executeCommand(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a goal")

	_, err = executeCommand(t, "run", "--resume", "task-1", "another goal")
	require.Error(t, err)
}

func TestStatus_NoState(t *testing.T) {
	dir := isolate(t)

	out, err := executeCommand(t, "status", "--state", filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "No persisted state")
}

func TestStop_WritesSignal(t *testing.T) {
	dir := isolate(t)

	out, err := executeCommand(t, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "Stop requested")
	assert.FileExists(t, filepath.Join(dir, ".aime", "signals", "stop"))
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("AIME_LLM_API_KEY", "sk-ant-REDACTED")

	out, err := executeCommand(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "orchestrator.max_rounds: 8")
	assert.Contains(t, out, "llm.api_key: sk-ant-...1234")
	assert.NotContains(t, out, "secret-value")
}

func TestConfigPath(t *testing.T) {
	dir := isolate(t)

	out, err := executeCommand(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "config", "aime", "config.yaml"))
	assert.Contains(t, out, "project:")
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "aime "), out)
}
