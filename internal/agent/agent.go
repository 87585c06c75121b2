// Package agent runs a single subtask through a bounded
// think/act/observe loop and reports the outcome to the progress store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/capability"
	"github.com/kelvinyan1/aime-reproduction/internal/llm"
	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/retry"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// DefaultMaxIterations bounds the think/act/observe loop.
const DefaultMaxIterations = 5

// Common errors for agent lifecycle management.
var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyRun indicates Run was called on an agent that has already run.
	ErrAlreadyRun = errors.New("agent already ran")
)

// State is the position of an agent in its run.
type State string

const (
	StateStart     State = "start"
	StateThinking  State = "thinking"
	StateActing    State = "acting"
	StateObserving State = "observing"
	StateCompleted State = "completed"
	StateExhausted State = "exhausted"
	StateFailed    State = "failed"
	StateAborted   State = "aborted"
)

// Terminal returns true for states that end a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateExhausted, StateFailed, StateAborted:
		return true
	}
	return false
}

// validTransitions defines the allowed state transitions.
// Key is the current state, value is the set of valid target states.
var validTransitions = map[State]map[State]bool{
	StateStart: {
		StateThinking: true,
		StateFailed:   true,
		StateAborted:  true,
	},
	StateThinking: {
		StateThinking:  true,
		StateActing:    true,
		StateObserving: true,
		StateCompleted: true,
		StateExhausted: true,
		StateAborted:   true,
	},
	StateActing: {
		StateObserving: true,
		StateAborted:   true,
	},
	StateObserving: {
		StateThinking:  true,
		StateCompleted: true,
		StateExhausted: true,
		StateAborted:   true,
	},
}

// Invoker runs a named capability.
type Invoker interface {
	Invoke(ctx context.Context, name, input string) (string, error)
}

// StatusWriter receives the terminal status of the assigned task.
type StatusWriter interface {
	UpdateStatus(taskID string, status models.TaskStatus, result *models.TaskResult) error
}

// StepObserver is called after every recorded step.
type StepObserver func(agentID, taskID string, step models.Step)

// Config describes an agent instance.
type Config struct {
	ID           string
	Kind         string
	Persona      string
	Capabilities []string

	Completer llm.Completer
	Tools     Invoker
	Store     StatusWriter

	// MaxIterations bounds the loop. Zero uses DefaultMaxIterations.
	MaxIterations int
	// Retry applies to completion calls and capability invocations.
	Retry retry.Policy
	// Stop decides when an observation is enough. Nil uses FinishOnly.
	Stop StopPolicy
	// MaxTokens caps each completion.
	MaxTokens int

	OnStep StepObserver
	Log    *logrus.Entry
	now    func() time.Time
}

// Result is the outcome of a run.
type Result struct {
	TaskID string
	State  State
	// Status is the task status that was reported to the store.
	Status models.TaskStatus
	Output string
	Reason string
	Steps  []models.Step
	// CompletionCalls counts every completion request, retries included.
	CompletionCalls int
}

// Agent is a single-use ReAct executor bound to one persona and toolkit.
type Agent struct {
	cfg   Config
	tools map[string]bool

	mu      sync.Mutex
	state   State
	history []models.Step
	prior   []Prior
	calls   int
	log     *logrus.Entry
}

// Prior is the result of an earlier subtask that the agent may build on.
type Prior struct {
	Description string
	Output      string
}

// RunOption adjusts a single Run.
type RunOption func(a *Agent)

// WithPriorResults makes earlier subtask results part of every prompt.
func WithPriorResults(prior ...Prior) RunOption {
	return func(a *Agent) {
		a.prior = append([]Prior(nil), prior...)
	}
}

// New creates an agent in the Start state with an empty history.
func New(cfg Config) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Stop == nil {
		cfg.Stop = FinishOnly()
	}
	// A zero policy means "use the default"; Budget -1 disables retries.
	if cfg.Retry.Budget == 0 && cfg.Retry.Base == 0 && cfg.Retry.Max == 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	cfg.Capabilities = append([]string(nil), cfg.Capabilities...)

	tools := make(map[string]bool, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		tools[c] = true
	}

	return &Agent{
		cfg:   cfg,
		tools: tools,
		state: StateStart,
		log:   logging.OrDefault(cfg.Log, "agent").WithField("agent_id", cfg.ID),
	}
}

// ID returns the agent ID.
func (a *Agent) ID() string { return a.cfg.ID }

// Kind returns the template kind the agent was built from.
func (a *Agent) Kind() string { return a.cfg.Kind }

// Persona returns the role text.
func (a *Agent) Persona() string { return a.cfg.Persona }

// Capabilities returns a copy of the bound toolkit.
func (a *Agent) Capabilities() []string {
	return append([]string(nil), a.cfg.Capabilities...)
}

// Record returns the capability record registered for this agent.
func (a *Agent) Record() models.AgentRecord {
	return models.AgentRecord{
		ID:           a.cfg.ID,
		Kind:         a.cfg.Kind,
		Persona:      a.cfg.Persona,
		Capabilities: a.Capabilities(),
	}
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the recorded steps.
func (a *Agent) History() []models.Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Step(nil), a.history...)
}

// advance moves to the given state. The loop only requests edges from
// validTransitions, so a rejection means the table and the loop disagree.
func (a *Agent) advance(to State) {
	if err := a.transition(to); err != nil {
		a.log.WithError(err).Error("unexpected state transition")
	}
}

func (a *Agent) transition(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !validTransitions[a.state][to] {
		return fmt.Errorf("%s -> %s: %w", a.state, to, ErrInvalidTransition)
	}
	a.state = to
	return nil
}

func (a *Agent) record(taskID string, thought string, action models.Action, obs string, failed bool) models.Step {
	a.mu.Lock()
	step := models.Step{
		Index:       len(a.history),
		Thought:     thought,
		Action:      action,
		Observation: obs,
		Failed:      failed,
		At:          a.cfg.now(),
	}
	a.history = append(a.history, step)
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"task_id": taskID,
		"step":    step.Index,
		"action":  step.Action.Kind,
		"tool":    step.Action.Tool,
	}).Debug("step recorded")

	if a.cfg.OnStep != nil {
		a.cfg.OnStep(a.cfg.ID, taskID, step)
	}
	return step
}

// Run drives taskID to a terminal state. The task must already be assigned
// to this agent. The returned error is non-nil only when the store rejects
// the final status update; every other failure is reported in the Result.
func (a *Agent) Run(ctx context.Context, taskID, description string, opts ...RunOption) (*Result, error) {
	if err := a.transition(StateThinking); err != nil {
		return nil, fmt.Errorf("run %s: %w", a.cfg.ID, ErrAlreadyRun)
	}
	a.mu.Lock()
	for _, opt := range opts {
		opt(a)
	}
	a.mu.Unlock()
	log := a.log.WithField("task_id", taskID)
	log.Info("agent started")

	for iter := 0; iter < a.cfg.MaxIterations; iter++ {
		if ctx.Err() != nil {
			return a.abort(ctx, taskID)
		}

		text, err := a.think(ctx, description)
		if ctx.Err() != nil {
			return a.abort(ctx, taskID)
		}
		if err != nil {
			log.WithError(err).Warn("completion failed, recording no-op step")
			a.record(taskID, "", models.Action{Kind: models.ActionNoop}, "completion failed: "+err.Error(), true)
			continue
		}

		parsed := ParseResponse(text)
		action := parsed.Action
		if action.Kind == models.ActionTool && !a.tools[action.Tool] {
			action = models.Action{Kind: models.ActionAnswer, Input: parsed.ActionText}
		}

		switch action.Kind {
		case models.ActionFinish, models.ActionAnswer:
			a.record(taskID, parsed.Thought, action, action.Input, false)
			a.advance(StateCompleted)
			return a.finish(taskID, StateCompleted, action.Input, "")

		case models.ActionNoop:
			log.Warn("response had no usable action")
			a.record(taskID, parsed.Thought, action, "no action found in response", true)
			continue
		}

		a.advance(StateActing)
		obs, err := a.act(ctx, action)
		if ctx.Err() != nil {
			return a.abort(ctx, taskID)
		}
		failed := err != nil
		if failed {
			obs = "error: " + err.Error()
		}

		a.advance(StateObserving)
		step := a.record(taskID, parsed.Thought, action, obs, failed)
		if !failed && a.cfg.Stop.Done(step) {
			a.advance(StateCompleted)
			return a.finish(taskID, StateCompleted, obs, "")
		}
		a.advance(StateThinking)
	}

	a.advance(StateExhausted)
	reason := fmt.Sprintf("exhausted: max iterations (%d) reached without finishing", a.cfg.MaxIterations)
	return a.finish(taskID, StateExhausted, a.partial(), reason)
}

// think asks the completion service for the next step, under the retry budget.
func (a *Agent) think(ctx context.Context, description string) (string, error) {
	req := llm.Request{
		System:    a.systemPrompt(),
		Prompt:    a.userPrompt(description),
		MaxTokens: a.cfg.MaxTokens,
		Purpose:   "agent",
	}

	policy := a.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		a.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
			"kind":    llm.KindOf(err).String(),
		}).Warn("completion failed, retrying")
	}

	var text string
	_, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		a.mu.Lock()
		a.calls++
		a.mu.Unlock()
		out, err := a.cfg.Completer.Complete(ctx, req)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}

// act invokes a bound capability, retrying execution errors.
func (a *Agent) act(ctx context.Context, action models.Action) (string, error) {
	policy := a.cfg.Retry
	policy.Retryable = func(err error) bool {
		var execErr *capability.ExecutionError
		return errors.As(err, &execErr)
	}
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		a.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"tool":    action.Tool,
		}).Warn("capability failed, retrying")
	}

	var out string
	_, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		res, err := a.cfg.Tools.Invoke(ctx, action.Tool, action.Input)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return "", ex.Err
	}
	return out, err
}

func (a *Agent) abort(ctx context.Context, taskID string) (*Result, error) {
	a.advance(StateAborted)
	reason := "aborted"
	if cause := context.Cause(ctx); cause != nil {
		reason = "aborted: " + cause.Error()
	}
	return a.finish(taskID, StateAborted, a.partial(), reason)
}

// partial returns the last successful observation, if any.
func (a *Agent) partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.history) - 1; i >= 0; i-- {
		s := a.history[i]
		if !s.Failed && strings.TrimSpace(s.Observation) != "" {
			return s.Observation
		}
	}
	return ""
}

func (a *Agent) finish(taskID string, state State, output, reason string) (*Result, error) {
	status := models.TaskStatusCompleted
	if state != StateCompleted {
		status = models.TaskStatusFailed
	}

	steps := a.History()
	a.mu.Lock()
	calls := a.calls
	a.mu.Unlock()

	res := &Result{
		TaskID:          taskID,
		State:           state,
		Status:          status,
		Output:          output,
		Reason:          reason,
		Steps:           steps,
		CompletionCalls: calls,
	}

	log := a.log.WithFields(logrus.Fields{"task_id": taskID, "state": state, "steps": len(steps)})
	if state == StateCompleted {
		log.Info("agent completed")
	} else {
		log.WithField("reason", reason).Warn("agent did not complete")
	}

	if a.cfg.Store == nil {
		return res, nil
	}
	err := a.cfg.Store.UpdateStatus(taskID, status, &models.TaskResult{
		Output: output,
		Reason: reason,
		Steps:  len(steps),
	})
	if err != nil {
		if progress.IsInvariantViolation(err) {
			log.WithError(err).Error("store rejected final status")
		}
		return res, fmt.Errorf("report %s for %s: %w", status, taskID, err)
	}
	return res, nil
}
