package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// CoordinatorID is the agent record the orchestrator registers for itself.
// Goal tasks, and subtasks drained without an agent, are assigned to it.
const CoordinatorID = "coordinator"

var (
	// ErrRunTimeout is the cancellation cause when the run budget elapses.
	ErrRunTimeout = errors.New("run timeout")
	// ErrEmptyGoal is returned by Run for a blank goal.
	ErrEmptyGoal = errors.New("empty goal")
	// ErrNotAGoal is returned by Resume for a task that has a parent.
	ErrNotAGoal = errors.New("task is not a goal")
	// ErrGoalFinished is returned by Resume for a goal that is already terminal.
	ErrGoalFinished = errors.New("goal already finished")
	// ErrBusy is returned when a run is already in progress.
	ErrBusy = errors.New("orchestrator is already running")
)

// Orchestrator coordinates the loop from goal to outcome.
// It wires together: planner -> store -> factory -> agents.
type Orchestrator struct {
	store   *progress.Store
	planner Planner
	factory AgentFactory

	maxRounds int
	maxAgents int
	timeout   time.Duration
	parallel  bool
	persister progress.Persister
	logger    *DebugLogger
	log       *logrus.Entry
	stop      *StopWatcher
	journal   Journal
	events    *EventEmitter
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// New creates an Orchestrator with required dependencies and optional configuration.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.maxRounds <= 0 {
		o.maxRounds = DefaultMaxRounds
	}
	if o.maxAgents <= 0 {
		o.maxAgents = DefaultMaxAgents
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.emitter == nil {
		o.emitter = NewEventEmitter(o.eventBuffer)
	}

	return &Orchestrator{
		store:     req.Store,
		planner:   req.Planner,
		factory:   req.Factory,
		maxRounds: o.maxRounds,
		maxAgents: o.maxAgents,
		timeout:   o.timeout,
		parallel:  o.parallel,
		persister: o.persister,
		logger:    o.logger,
		log:       logging.OrDefault(o.log, "orchestrator"),
		stop:      o.stopWatcher,
		journal:   o.journal,
		events:    o.emitter,
		now:       time.Now,
	}
}

// Events returns the event stream. It is closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.events.Events()
}

// Emitter returns the event emitter, for wiring agent step hooks.
func (o *Orchestrator) Emitter() *EventEmitter {
	return o.events
}

// Close closes the event stream.
func (o *Orchestrator) Close() {
	o.events.Close()
}

// Run creates a goal task and drives it to an outcome. A non-nil error means
// the store rejected an operation and the run was halted; budget, planning
// and agent failures are reported in the Outcome instead.
func (o *Orchestrator) Run(ctx context.Context, goal string) (*models.Outcome, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, ErrEmptyGoal
	}
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	if err := o.ensureCoordinator(); err != nil {
		return nil, err
	}
	goalID, err := o.store.CreateTask("", goal)
	if err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}
	if err := o.store.Assign(goalID, CoordinatorID); err != nil {
		return nil, fmt.Errorf("assign goal: %w", err)
	}
	return o.drive(ctx, goalID, goal)
}

// Resume continues a goal restored from a snapshot. Subtasks left running by
// the previous process are failed first so the planner can retry them.
func (o *Orchestrator) Resume(ctx context.Context, goalID string) (*models.Outcome, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	goal, err := o.store.GetTask(goalID)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	if goal.ParentID != "" {
		return nil, fmt.Errorf("resume %s: %w", goalID, ErrNotAGoal)
	}
	if goal.Status.Terminal() {
		return nil, fmt.Errorf("resume %s (%s): %w", goalID, goal.Status, ErrGoalFinished)
	}

	if err := o.ensureCoordinator(); err != nil {
		return nil, err
	}
	if _, err := o.store.RecoverInterrupted("interrupted by a previous run"); err != nil {
		return nil, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if goal.Status == models.TaskStatusPending {
		if err := o.store.Assign(goalID, CoordinatorID); err != nil {
			return nil, fmt.Errorf("assign goal: %w", err)
		}
	}
	return o.drive(ctx, goalID, goal.Description)
}

func (o *Orchestrator) ensureCoordinator() error {
	if o.store.HasAgent(CoordinatorID) {
		return nil
	}
	err := o.store.RegisterAgent(models.AgentRecord{
		ID:      CoordinatorID,
		Kind:    models.AgentKindCoordinator,
		Persona: "plans subtasks and dispatches agents",
	})
	if err != nil && !errors.Is(err, progress.ErrDuplicateAgent) {
		return fmt.Errorf("register coordinator: %w", err)
	}
	return nil
}

func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrBusy
	}
	o.running = true
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) persist(ctx context.Context) {
	if o.persister == nil {
		return
	}
	if err := o.persister.Save(context.WithoutCancel(ctx), o.store.Snapshot()); err != nil {
		o.log.WithError(err).Warn("failed to save state")
	}
}
