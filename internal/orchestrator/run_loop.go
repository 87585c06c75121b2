package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kelvinyan1/aime-reproduction/internal/agent"
	"github.com/kelvinyan1/aime-reproduction/internal/planner"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// runState is the bookkeeping of one drive call.
type runState struct {
	runID  string
	goalID string
	goal   string
	log    *logrus.Entry
	rounds int
	prior  *planner.Plan

	mu              sync.Mutex
	failedSincePlan bool
}

func (rs *runState) markFailed() {
	rs.mu.Lock()
	rs.failedSincePlan = true
	rs.mu.Unlock()
}

func (rs *runState) needsReplan() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.failedSincePlan
}

func (rs *runState) planned(p planner.Plan) {
	rs.mu.Lock()
	rs.failedSincePlan = false
	rs.prior = &p
	rs.mu.Unlock()
}

// drive is the main loop. Each round: stop on cancellation or an exhausted
// round budget, finish when every subtask completed, plan when nothing is
// pending or something failed, then dispatch and persist.
func (o *Orchestrator) drive(parent context.Context, goalID, goal string) (*models.Outcome, error) {
	startedAt := o.now()
	rs := &runState{
		runID:  uuid.New().String(),
		goalID: goalID,
		goal:   goal,
	}
	rs.log = o.log.WithFields(logrus.Fields{"run_id": rs.runID, "task_id": goalID})
	o.events.setRunID(rs.runID)

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	if o.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, o.timeout, fmt.Errorf("%w: %s elapsed", ErrRunTimeout, o.timeout))
		defer cancelTimeout()
	}
	if o.stop != nil {
		go func() {
			select {
			case <-o.stop.Done():
				cancel(o.stop.Reason())
			case <-ctx.Done():
			}
		}()
	}

	if o.journal != nil {
		if err := o.journal.RecordStart(ctx, rs.runID, goalID, goal, startedAt); err != nil {
			rs.log.WithError(err).Warn("failed to journal run start")
		}
	}
	rs.log.WithField("goal", progress.Truncate(goal, 80)).Info("run started")
	o.logger.Trace(rs.runID, "started goal %s: %s", goalID, goal)
	o.events.Emit(Event{Type: EventRunStarted, TaskID: goalID, Description: goal})

	for {
		if ctx.Err() != nil {
			return o.finalize(ctx, rs, startedAt, models.RunAborted, context.Cause(ctx).Error())
		}
		if rs.rounds >= o.maxRounds {
			return o.finalize(ctx, rs, startedAt, models.RunAborted,
				fmt.Sprintf("round budget exhausted after %d rounds", rs.rounds))
		}

		children, err := o.store.Children(goalID)
		if err != nil {
			return nil, o.halt(rs, err)
		}
		if len(children) > 0 && allCompleted(children) {
			return o.finalize(ctx, rs, startedAt, models.RunCompleted, "")
		}

		rs.rounds++
		pending := pendingOf(children)
		o.logger.Trace(rs.runID, "round %d: %d children, %d pending", rs.rounds, len(children), len(pending))

		if len(pending) == 0 || rs.needsReplan() {
			created, noWork, err := o.replan(ctx, rs)
			if err != nil {
				return nil, o.halt(rs, err)
			}
			if noWork && len(pending) == 0 {
				return o.finalize(ctx, rs, startedAt, models.RunStalled, stallReason(children))
			}
			pending = append(pending, created...)
		}
		if len(pending) == 0 {
			continue
		}

		if err := o.dispatch(ctx, rs, pending); err != nil {
			return nil, o.halt(rs, err)
		}
		o.persist(ctx)
	}
}

// replan asks the planner for more work and materializes it. Planning
// failures consume the round and are not returned; only store errors are.
func (o *Orchestrator) replan(ctx context.Context, rs *runState) (created []models.Task, noWork bool, err error) {
	rs.mu.Lock()
	prior := rs.prior
	rs.mu.Unlock()

	dec, err := o.planner.Plan(ctx, planner.Request{
		Goal:     rs.goal,
		GoalID:   rs.goalID,
		Snapshot: o.store.Snapshot(),
		Prior:    prior,
	})
	if err != nil {
		if ctx.Err() == nil {
			rs.log.WithError(err).Warn("planning failed, round consumed")
			o.logger.Trace(rs.runID, "round %d: planning failed: %v", rs.rounds, err)
		}
		return nil, false, nil
	}

	if dec.Kind == planner.NoWork {
		rs.log.Info("planner reported no further work")
		o.logger.Trace(rs.runID, "round %d: planner reported no further work", rs.rounds)
		rs.planned(planner.Plan{})
		return nil, true, nil
	}

	for _, st := range dec.Plan.Subtasks {
		id, err := o.store.CreateTask(rs.goalID, st.Description,
			progress.WithPriority(st.Priority),
			progress.WithCapability(st.ToolType))
		if err != nil {
			return created, false, fmt.Errorf("materialize subtask: %w", err)
		}
		task, err := o.store.GetTask(id)
		if err != nil {
			return created, false, err
		}
		created = append(created, task)
	}
	rs.planned(dec.Plan)

	o.events.Emit(Event{
		Type:    EventPlanCreated,
		TaskID:  rs.goalID,
		Round:   rs.rounds,
		Count:   len(created),
		Message: fmt.Sprintf("%s plan (%s), strategy %s", dec.Variant, dec.Kind, dec.Plan.Strategy),
	})
	rs.log.WithFields(logrus.Fields{
		"round":    rs.rounds,
		"subtasks": len(created),
		"result":   dec.Kind.String(),
	}).Info("plan materialized")
	o.logger.Trace(rs.runID, "round %d: %s plan with %d subtask(s)", rs.rounds, dec.Kind, len(created))
	return created, false, nil
}

// dispatch runs one pending subtask, or every pending subtask in parallel
// mode, and returns once they have all finished.
func (o *Orchestrator) dispatch(ctx context.Context, rs *runState, pending []models.Task) error {
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority < pending[j].Priority
	})

	if !o.parallel {
		return o.runTask(ctx, rs, pending[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxAgents)
	for _, task := range pending {
		task := task
		g.Go(func() error {
			return o.runTask(gctx, rs, task)
		})
	}
	return g.Wait()
}

// runTask creates an agent for task, assigns it and runs it to a terminal
// status. Only store errors are returned.
func (o *Orchestrator) runTask(ctx context.Context, rs *runState, task models.Task) error {
	if ctx.Err() != nil {
		return nil
	}
	o.events.Emit(Event{
		Type:        EventTaskQueued,
		TaskID:      task.ID,
		ParentID:    task.ParentID,
		Description: task.Description,
		Round:       rs.rounds,
	})

	a, err := o.factory.Create(task.Description)
	if err != nil {
		if progress.IsInvariantViolation(err) {
			return err
		}
		return o.failWithoutAgent(rs, task, fmt.Sprintf("no agent for subtask: %v", err))
	}

	if err := o.store.Assign(task.ID, a.ID()); err != nil {
		return err
	}
	start := o.now()
	o.events.Emit(Event{
		Type:        EventTaskStarted,
		TaskID:      task.ID,
		ParentID:    task.ParentID,
		AgentID:     a.ID(),
		AgentKind:   a.Kind(),
		Description: task.Description,
		Round:       rs.rounds,
	})
	o.logger.Trace(rs.runID, "task %s -> %s: %s", task.ID, a.ID(), task.Description)

	prior, err := o.priorResults(task)
	if err != nil {
		return err
	}
	res, err := a.Run(ctx, task.ID, task.Description, agent.WithPriorResults(prior...))
	if err != nil {
		return err
	}

	ev := Event{
		TaskID:      task.ID,
		ParentID:    task.ParentID,
		AgentID:     a.ID(),
		AgentKind:   a.Kind(),
		Description: task.Description,
		Round:       rs.rounds,
		Duration:    o.now().Sub(start),
	}
	if res.Status == models.TaskStatusCompleted {
		ev.Type = EventTaskCompleted
		ev.Message = progress.Truncate(res.Output, 120)
	} else {
		ev.Type = EventTaskFailed
		ev.Error = res.Reason
		rs.markFailed()
	}
	o.events.Emit(ev)
	o.logger.Trace(rs.runID, "task %s %s after %d step(s): %s", task.ID, res.Status, len(res.Steps), progress.Truncate(res.Output+res.Reason, 120))
	return nil
}

// priorResultLimit bounds each earlier output carried into an agent prompt.
const priorResultLimit = 500

// priorResults collects the outputs of completed siblings of task, in
// planning order, so later subtasks can build on earlier ones.
func (o *Orchestrator) priorResults(task models.Task) ([]agent.Prior, error) {
	if task.ParentID == "" {
		return nil, nil
	}
	siblings, err := o.store.Children(task.ParentID)
	if err != nil {
		return nil, err
	}
	var prior []agent.Prior
	for _, sib := range siblings {
		if sib.ID == task.ID || sib.Status != models.TaskStatusCompleted || sib.Result == nil {
			continue
		}
		prior = append(prior, agent.Prior{
			Description: sib.Description,
			Output:      progress.Truncate(sib.Result.Output, priorResultLimit),
		})
	}
	return prior, nil
}

// failWithoutAgent closes a subtask that never got an agent.
func (o *Orchestrator) failWithoutAgent(rs *runState, task models.Task, reason string) error {
	if err := o.store.Assign(task.ID, CoordinatorID); err != nil {
		return err
	}
	if err := o.store.UpdateStatus(task.ID, models.TaskStatusFailed, &models.TaskResult{Reason: reason}); err != nil {
		return err
	}
	rs.markFailed()
	rs.log.WithField("subtask", task.ID).Warn(reason)
	o.events.Emit(Event{
		Type:        EventTaskFailed,
		TaskID:      task.ID,
		ParentID:    task.ParentID,
		AgentID:     CoordinatorID,
		Description: task.Description,
		Error:       reason,
		Round:       rs.rounds,
	})
	return nil
}

// finalize drains unfinished subtasks, closes the goal and builds the outcome.
func (o *Orchestrator) finalize(ctx context.Context, rs *runState, startedAt time.Time, status models.RunStatus, reason string) (*models.Outcome, error) {
	children, err := o.store.Children(rs.goalID)
	if err != nil {
		return nil, o.halt(rs, err)
	}
	for _, c := range children {
		switch {
		case c.Status == models.TaskStatusPending:
			if err := o.store.Assign(c.ID, CoordinatorID); err != nil {
				return nil, o.halt(rs, err)
			}
		case c.Status == models.TaskStatusRunning && c.AssignedAgent == CoordinatorID:
		default:
			continue
		}
		err := o.store.UpdateStatus(c.ID, models.TaskStatusFailed, &models.TaskResult{Reason: "not run: " + reason})
		if err != nil {
			return nil, o.halt(rs, err)
		}
	}

	if children, err = o.store.Children(rs.goalID); err != nil {
		return nil, o.halt(rs, err)
	}
	result := joinOutputs(children)
	if status != models.RunCompleted {
		result = withSubtaskSummary(result, children)
	}

	goalStatus := models.TaskStatusCompleted
	goalResult := &models.TaskResult{Output: result}
	if status != models.RunCompleted {
		goalStatus = models.TaskStatusFailed
		goalResult.Reason = reason
	}
	if err := o.store.UpdateStatus(rs.goalID, goalStatus, goalResult); err != nil {
		return nil, o.halt(rs, err)
	}

	outcome := &models.Outcome{
		RunID:     rs.runID,
		GoalID:    rs.goalID,
		Goal:      rs.goal,
		Status:    status,
		Reason:    reason,
		Result:    result,
		Rounds:    rs.rounds,
		StartedAt: startedAt,
		EndedAt:   o.now(),
	}

	o.persist(ctx)
	if o.journal != nil {
		if err := o.journal.RecordOutcome(context.WithoutCancel(ctx), outcome); err != nil {
			rs.log.WithError(err).Warn("failed to journal run outcome")
		}
	}

	o.events.Emit(Event{
		Type:        EventRunDone,
		TaskID:      rs.goalID,
		Description: rs.goal,
		Status:      status,
		Message:     reason,
		Round:       rs.rounds,
		Duration:    outcome.EndedAt.Sub(startedAt),
	})
	rs.log.WithFields(logrus.Fields{
		"status": status,
		"rounds": rs.rounds,
		"reason": reason,
	}).Info("run finished")
	o.logger.Trace(rs.runID, "finished %s after %d round(s): %s", status, rs.rounds, reason)
	return outcome, nil
}

func (o *Orchestrator) halt(rs *runState, err error) error {
	rs.log.WithError(err).Error("store rejected an operation, halting run")
	o.logger.Trace(rs.runID, "HALT: %v", err)
	o.events.Emit(Event{Type: EventRunDone, TaskID: rs.goalID, Error: err.Error(), Round: rs.rounds})
	return fmt.Errorf("run %s: %w", rs.runID, err)
}

func allCompleted(tasks []models.Task) bool {
	for _, t := range tasks {
		if t.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func pendingOf(tasks []models.Task) []models.Task {
	var out []models.Task
	for _, t := range tasks {
		if t.Status == models.TaskStatusPending {
			out = append(out, t)
		}
	}
	return out
}

func stallReason(children []models.Task) string {
	var completed, failed int
	for _, c := range children {
		switch c.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		}
	}
	return fmt.Sprintf("planner found no further work but the goal is not complete (%d completed, %d failed)", completed, failed)
}

// joinOutputs concatenates the outputs of completed tasks in planning order.
func joinOutputs(tasks []models.Task) string {
	var parts []string
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted && t.Result != nil && t.Result.Output != "" {
			parts = append(parts, t.Result.Output)
		}
	}
	return strings.Join(parts, "\n")
}

// withSubtaskSummary appends how many subtasks succeeded and why each
// failed one did not.
func withSubtaskSummary(result string, tasks []models.Task) string {
	completed := 0
	var failures []string
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			reason := ""
			if t.Result != nil {
				reason = t.Result.Reason
			}
			failures = append(failures, fmt.Sprintf("- %s: %s", t.Description, progress.Truncate(reason, 200)))
		}
	}

	var b strings.Builder
	if result != "" {
		b.WriteString(result)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d/%d subtasks succeeded", completed, len(tasks))
	if len(failures) > 0 {
		b.WriteString("\nFailed:\n")
		b.WriteString(strings.Join(failures, "\n"))
	}
	return b.String()
}
