package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/agent"
	"github.com/kelvinyan1/aime-reproduction/internal/planner"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// Defaults applied when an option is not set.
const (
	DefaultMaxRounds = 8
	DefaultMaxAgents = 3
)

// Planner produces the next subtasks for a goal.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (planner.Decision, error)
}

// AgentFactory creates a registered agent for a subtask description.
type AgentFactory interface {
	Create(description string) (*agent.Agent, error)
}

// Journal records runs. Errors are logged and never stop a run.
type Journal interface {
	RecordStart(ctx context.Context, runID, goalID, goal string, startedAt time.Time) error
	RecordOutcome(ctx context.Context, outcome *models.Outcome) error
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Store tracks the task hierarchy.
	Store *progress.Store
	// Planner decomposes the goal.
	Planner Planner
	// Factory creates an agent per subtask.
	Factory AgentFactory
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxRounds   int
	timeout     time.Duration
	parallel    bool
	maxAgents   int
	persister   progress.Persister
	logger      *DebugLogger
	log         *logrus.Entry
	stopWatcher *StopWatcher
	journal     Journal
	eventBuffer int
	emitter     *EventEmitter
}

// WithMaxRounds caps the number of plan/dispatch rounds.
func WithMaxRounds(n int) Option {
	return func(o *orchestratorOptions) { o.maxRounds = n }
}

// WithTimeout sets the wall-clock budget of a run. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.timeout = d }
}

// WithParallel dispatches every pending subtask of a round concurrently.
func WithParallel(b bool) Option {
	return func(o *orchestratorOptions) { o.parallel = b }
}

// WithMaxAgents sets the maximum number of concurrent agents in parallel mode.
func WithMaxAgents(n int) Option {
	return func(o *orchestratorOptions) { o.maxAgents = n }
}

// WithPersister saves a snapshot of the store after every round.
func WithPersister(p progress.Persister) Option {
	return func(o *orchestratorOptions) { o.persister = p }
}

// WithLogger sets the debug trace logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithLog sets the structured logger.
func WithLog(l *logrus.Entry) Option {
	return func(o *orchestratorOptions) { o.log = l }
}

// WithStopWatcher cancels the run when the watcher fires.
func WithStopWatcher(sw *StopWatcher) Option {
	return func(o *orchestratorOptions) { o.stopWatcher = sw }
}

// WithJournal records every run.
func WithJournal(j Journal) Option {
	return func(o *orchestratorOptions) { o.journal = j }
}

// WithEventBuffer sets the event channel size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithEmitter uses an emitter created by the caller, so that agents built
// before the orchestrator can report steps through it.
func WithEmitter(e *EventEmitter) Option {
	return func(o *orchestratorOptions) { o.emitter = e }
}
