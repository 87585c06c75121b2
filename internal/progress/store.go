// Package progress owns the task hierarchy, task status and agent capability
// records for a run. It is the single source of truth shared by the planner,
// the agents and the orchestrator.
//
// Status transitions are validated centrally. Writes are serialized per task:
// each task carries its own mutex, and a structural lock protects the maps so
// that unrelated agents never wait on each other. Snapshot takes the
// structural lock exclusively and therefore sees a consistent point in time.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// entry is a task plus the lock that serializes writes to it.
type entry struct {
	mu   sync.Mutex
	task models.Task
}

// Store is the in-memory progress store.
//
// Lock order: the structural lock is always taken first; with it held
// shared, a parent's entry lock may be held while child entry locks are
// taken, never the reverse.
type Store struct {
	mu         sync.RWMutex
	tasks      map[string]*entry
	order      []string
	agents     map[string]models.AgentRecord
	agentOrder []string

	now   func() time.Time
	newID func() string
	log   *logrus.Entry
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the task ID generator (mainly for testing).
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the structured logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tasks:  make(map[string]*entry),
		agents: make(map[string]models.AgentRecord),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log, "progress")
	return s
}

// TaskOption sets optional fields on a new task.
type TaskOption func(*models.Task)

// WithPriority records the planner priority.
func WithPriority(p int) TaskOption {
	return func(t *models.Task) { t.Priority = p }
}

// WithCapability records the planner's tool hint.
func WithCapability(name string) TaskOption {
	return func(t *models.Task) { t.Capability = name }
}

// CreateTask adds a pending task under parentID (empty for a root goal)
// and returns its ID. A parent that is unknown or already terminal is
// rejected with ErrInvalidParent.
func (s *Store) CreateTask(parentID, description string, opts ...TaskOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *entry
	if parentID != "" {
		p, ok := s.tasks[parentID]
		if !ok {
			return "", fmt.Errorf("create task under %q: %w", parentID, ErrInvalidParent)
		}
		if p.task.Status.Terminal() {
			return "", fmt.Errorf("create task under %q (%s): %w", parentID, p.task.Status, ErrInvalidParent)
		}
		parent = p
	}

	id := s.newID()
	for _, exists := s.tasks[id]; exists || id == ""; _, exists = s.tasks[id] {
		id = uuid.New().String()
	}

	task := models.Task{
		ID:          id,
		ParentID:    parentID,
		Description: description,
		Status:      models.TaskStatusPending,
		CreatedAt:   s.now(),
	}
	for _, opt := range opts {
		opt(&task)
	}

	s.tasks[id] = &entry{task: task}
	s.order = append(s.order, id)
	if parent != nil {
		// No entry lock is held by anyone while the structural lock is exclusive.
		parent.task.Children = append(parent.task.Children, id)
	}

	s.log.WithFields(logrus.Fields{"task_id": id, "parent_id": parentID}).Debug("task created")
	return id, nil
}

// Assign binds a pending task to a registered agent and marks it running.
func (s *Store) Assign(taskID, agentID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("assign %q: %w", taskID, ErrUnknownTask)
	}
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("assign %q to %q: %w", taskID, agentID, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.task.Status.CanTransitionTo(models.TaskStatusRunning) {
		return fmt.Errorf("assign %q: %s -> %s: %w", taskID, e.task.Status, models.TaskStatusRunning, ErrInvalidTransition)
	}

	now := s.now()
	e.task.Status = models.TaskStatusRunning
	e.task.AssignedAgent = agentID
	e.task.StartedAt = &now

	s.log.WithFields(logrus.Fields{"task_id": taskID, "agent_id": agentID}).Debug("task assigned")
	return nil
}

// UpdateStatus moves a task to status. Terminal statuses record the end
// time and the result, and require every child to be terminal already.
func (s *Store) UpdateStatus(taskID string, status models.TaskStatus, result *models.TaskResult) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("update %q: %w", taskID, ErrUnknownTask)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.task.Status
	if !status.Valid() || !cur.CanTransitionTo(status) {
		return fmt.Errorf("update %q: %s -> %s: %w", taskID, cur, status, ErrInvalidTransition)
	}

	if status.Terminal() {
		for _, childID := range e.task.Children {
			child := s.tasks[childID]
			child.mu.Lock()
			childStatus := child.task.Status
			child.mu.Unlock()
			if !childStatus.Terminal() {
				return fmt.Errorf("update %q: %s -> %s with child %q %s: %w",
					taskID, cur, status, childID, childStatus, ErrInvalidTransition)
			}
		}

		now := s.now()
		e.task.EndedAt = &now
		if result != nil {
			r := *result
			e.task.Result = &r
		} else {
			e.task.Result = &models.TaskResult{}
		}
	}
	e.task.Status = status

	s.log.WithFields(logrus.Fields{"task_id": taskID, "status": status}).Debug("task status updated")
	return nil
}

// GetTask returns a copy of the task.
func (s *Store) GetTask(taskID string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[taskID]
	if !ok {
		return models.Task{}, fmt.Errorf("get %q: %w", taskID, ErrUnknownTask)
	}
	return e.read(), nil
}

// Children returns copies of the task's children in planning order.
func (s *Store) Children(taskID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("children of %q: %w", taskID, ErrUnknownTask)
	}
	parent := e.read()

	children := make([]models.Task, 0, len(parent.Children))
	for _, id := range parent.Children {
		children = append(children, s.tasks[id].read())
	}
	return children, nil
}

// SubtreeStatus aggregates the status of a task and all of its descendants.
// See Aggregate for the rule.
func (s *Store) SubtreeStatus(taskID string) (models.TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return "", fmt.Errorf("subtree status of %q: %w", taskID, ErrUnknownTask)
	}

	var statuses []models.TaskStatus
	stack := []string{taskID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t := s.tasks[id].read()
		statuses = append(statuses, t.Status)
		stack = append(stack, t.Children...)
	}
	return Aggregate(statuses), nil
}

// RegisterAgent stores an agent capability record.
func (s *Store) RegisterAgent(rec models.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[rec.ID]; exists {
		return fmt.Errorf("register %q: %w", rec.ID, ErrDuplicateAgent)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.agents[rec.ID] = rec.Clone()
	s.agentOrder = append(s.agentOrder, rec.ID)

	s.log.WithFields(logrus.Fields{"agent_id": rec.ID, "kind": rec.Kind}).Debug("agent registered")
	return nil
}

// Agent returns a copy of the agent record.
func (s *Store) Agent(agentID string) (models.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.agents[agentID]
	if !ok {
		return models.AgentRecord{}, fmt.Errorf("agent %q: %w", agentID, ErrUnknownAgent)
	}
	return rec.Clone(), nil
}

// HasAgent returns true if agentID is registered.
func (s *Store) HasAgent(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[agentID]
	return ok
}

// Snapshot returns an immutable point-in-time copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SchemaVersion: SchemaVersion,
		TakenAt:       s.now(),
		Tasks:         make([]models.Task, 0, len(s.order)),
		Agents:        make([]models.AgentRecord, 0, len(s.agentOrder)),
	}
	for _, id := range s.order {
		snap.Tasks = append(snap.Tasks, s.tasks[id].task.Clone())
	}
	for _, id := range s.agentOrder {
		snap.Agents = append(snap.Agents, s.agents[id].Clone())
	}
	return snap
}

// Stats returns counts and rates for the current state.
func (s *Store) Stats() Stats {
	return s.Snapshot().Stats()
}

// Restore replaces the store contents with a snapshot.
func (s *Store) Restore(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	tasks := make(map[string]*entry, len(snap.Tasks))
	order := make([]string, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		tasks[t.ID] = &entry{task: t.Clone()}
		order = append(order, t.ID)
	}
	agents := make(map[string]models.AgentRecord, len(snap.Agents))
	agentOrder := make([]string, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		agents[a.ID] = a.Clone()
		agentOrder = append(agentOrder, a.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
	s.order = order
	s.agents = agents
	s.agentOrder = agentOrder
	return nil
}

// read returns a copy of the task under its lock.
func (e *entry) read() models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone()
}

// Aggregate folds a set of statuses into one: completed iff all are
// completed; failed iff all are terminal and at least one failed; running
// if anything has started but not everything is terminal; pending otherwise.
func Aggregate(statuses []models.TaskStatus) models.TaskStatus {
	var pending, running, failed int
	for _, st := range statuses {
		switch st {
		case models.TaskStatusPending:
			pending++
		case models.TaskStatusRunning:
			running++
		case models.TaskStatusFailed:
			failed++
		}
	}

	switch {
	case pending+running == 0 && failed == 0:
		return models.TaskStatusCompleted
	case pending+running == 0:
		return models.TaskStatusFailed
	case running > 0 || pending < len(statuses):
		return models.TaskStatusRunning
	default:
		return models.TaskStatusPending
	}
}
