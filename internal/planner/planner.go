// Package planner decomposes a goal into subtasks from the current state of
// its task hierarchy.
//
// The planner is read-only with respect to the progress store: it receives a
// snapshot and returns a Decision, and the orchestrator decides what to
// materialize. Replies are parsed into a tagged result (Structured, Fallback
// or NoWork) and parsing never fails.
package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/llm"
	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/retry"
)

const (
	// DefaultMaxTokens caps planner completions.
	DefaultMaxTokens = 1500
	// historyLimit is how many planning rounds are remembered.
	historyLimit = 10
	// historyInPrompt is how many of them are shown to the model.
	historyInPrompt = 2
)

// Request is the input to one planning round.
type Request struct {
	Goal   string
	GoalID string
	// Snapshot is the store state the plan is based on.
	Snapshot progress.Snapshot
	// Prior is the previous plan for this goal, if any.
	Prior *Plan
}

// Decision is the result of one planning round.
type Decision struct {
	ParseResult
	Variant Variant
	// Attempts is the number of completion calls made.
	Attempts int
}

// HistoryEntry records one planning round.
type HistoryEntry struct {
	At        time.Time
	Goal      string
	Variant   Variant
	Kind      ResultKind
	TaskCount int
	State     string
	Elapsed   time.Duration
}

// Planner produces plans through a completer.
type Planner struct {
	completer llm.Completer
	retry     retry.Policy
	maxTokens int
	log       *logrus.Entry
	now       func() time.Time

	mu      sync.Mutex
	history []HistoryEntry
}

// Option configures a Planner.
type Option func(*Planner)

// WithRetryPolicy sets the retry policy for completion calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(pl *Planner) { pl.retry = p }
}

// WithMaxTokens caps planner completions.
func WithMaxTokens(n int) Option {
	return func(pl *Planner) { pl.maxTokens = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *logrus.Entry) Option {
	return func(pl *Planner) { pl.log = l }
}

// New creates a planner.
func New(completer llm.Completer, opts ...Option) *Planner {
	p := &Planner{
		completer: completer,
		retry:     retry.Default(),
		maxTokens: DefaultMaxTokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.OrDefault(p.log, "planner")
	return p
}

// SelectVariant picks the prompt template for req.
func SelectVariant(req Request) Variant {
	if len(req.Snapshot.Children(req.GoalID)) == 0 {
		return Basic
	}
	if req.Prior != nil && len(failedTasks(req.Snapshot, req.GoalID)) > 0 {
		return Replan
	}
	return WithFeedback
}

// Plan asks the model for the next subtasks. A reply that cannot be parsed
// is not an error; it comes back as a Fallback decision. The error is
// non-nil only when every completion attempt failed or ctx ended.
func (p *Planner) Plan(ctx context.Context, req Request) (Decision, error) {
	start := p.now()
	variant := SelectVariant(req)
	prompt := buildPrompt(variant, req, p.recentHistory())

	log := p.log.WithFields(logrus.Fields{"task_id": req.GoalID, "variant": variant.String()})
	log.Debug("planning")

	policy := p.retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).Warn("planner completion failed, retrying")
	}

	var text string
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		text, err = p.completer.Complete(ctx, llm.Request{
			System:    SystemPrompt,
			Prompt:    prompt,
			MaxTokens: p.maxTokens,
			Purpose:   "planner",
		})
		return err
	})
	if err != nil {
		return Decision{Variant: variant, Attempts: attempts}, fmt.Errorf("plan %s: %w", req.GoalID, err)
	}

	res := Parse(text)
	if res.Kind == Fallback {
		log.WithField("reply", progress.Truncate(res.Raw, 80)).Warn("planner reply had no JSON plan, using it as one subtask")
	}

	elapsed := p.now().Sub(start)
	p.remember(HistoryEntry{
		At:        start,
		Goal:      req.Goal,
		Variant:   variant,
		Kind:      res.Kind,
		TaskCount: len(res.Plan.Subtasks),
		State:     stateSummary(req.Snapshot, req.GoalID),
		Elapsed:   elapsed,
	})

	log.WithFields(logrus.Fields{
		"result":   res.Kind.String(),
		"subtasks": len(res.Plan.Subtasks),
		"elapsed":  elapsed.Round(time.Millisecond),
	}).Info("plan ready")

	return Decision{ParseResult: res, Variant: variant, Attempts: attempts}, nil
}

// History returns a copy of the planning history, oldest first.
func (p *Planner) History() []HistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]HistoryEntry(nil), p.history...)
}

// ClearHistory forgets previous rounds.
func (p *Planner) ClearHistory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
}

func (p *Planner) remember(e HistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, e)
	if len(p.history) > historyLimit {
		p.history = append([]HistoryEntry(nil), p.history[len(p.history)-historyLimit:]...)
	}
}

func (p *Planner) recentHistory() []HistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.history)
	if n > historyInPrompt {
		return append([]HistoryEntry(nil), p.history[n-historyInPrompt:]...)
	}
	return append([]HistoryEntry(nil), p.history...)
}
