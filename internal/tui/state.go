package tui

import (
	"fmt"
	"time"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// maxLogLines bounds the activity log.
const maxLogLines = 500

// TaskRow is the display state of one subtask.
type TaskRow struct {
	ID          string
	Description string
	AgentID     string
	AgentKind   string
	Status      models.TaskStatus
	Steps       int
	// Detail is the latest action, output or failure reason.
	Detail   string
	Duration time.Duration
}

// LogLine is one entry of the activity log.
type LogLine struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// RunState folds orchestrator events into what the view displays.
type RunState struct {
	RunID   string
	GoalID  string
	Goal    string
	Round   int
	Planned int
	Steps   int

	Done     bool
	Status   models.RunStatus
	Reason   string
	Duration time.Duration

	Tasks []*TaskRow
	Log   []LogLine

	index map[string]*TaskRow
}

// NewRunState creates an empty RunState.
func NewRunState() *RunState {
	return &RunState{index: make(map[string]*TaskRow)}
}

// Apply updates the state from one event.
func (s *RunState) Apply(ev orchestrator.Event) {
	if ev.RunID != "" {
		s.RunID = ev.RunID
	}
	if ev.Round > s.Round {
		s.Round = ev.Round
	}

	switch ev.Type {
	case orchestrator.EventRunStarted:
		s.GoalID = ev.TaskID
		s.Goal = ev.Description
		s.log(ev, "run", "goal: "+ev.Description)

	case orchestrator.EventPlanCreated:
		s.Planned += ev.Count
		s.log(ev, "plan", fmt.Sprintf("round %d: %d subtask(s), %s", ev.Round, ev.Count, ev.Message))

	case orchestrator.EventTaskQueued:
		row := s.row(ev.TaskID)
		row.Description = ev.Description
		row.Status = models.TaskStatusPending

	case orchestrator.EventTaskStarted:
		row := s.row(ev.TaskID)
		row.Description = ev.Description
		row.AgentID = ev.AgentID
		row.AgentKind = ev.AgentKind
		row.Status = models.TaskStatusRunning
		s.log(ev, "start", fmt.Sprintf("%s -> %s", ev.AgentID, progress.Truncate(ev.Description, 60)))

	case orchestrator.EventAgentStep:
		s.Steps++
		row := s.row(ev.TaskID)
		if row.AgentID == "" {
			row.AgentID = ev.AgentID
		}
		row.Steps++
		if ev.Step != nil {
			row.Detail = describeAction(ev.Step.Action)
			if ev.Step.Failed {
				s.log(ev, "step", fmt.Sprintf("%s: %s", ev.AgentID, progress.Truncate(ev.Step.Observation, 80)))
			}
		}

	case orchestrator.EventTaskCompleted:
		row := s.row(ev.TaskID)
		row.Status = models.TaskStatusCompleted
		row.Detail = ev.Message
		row.Duration = ev.Duration
		s.log(ev, "done", fmt.Sprintf("%s: %s", ev.AgentID, progress.Truncate(ev.Message, 80)))

	case orchestrator.EventTaskFailed:
		row := s.row(ev.TaskID)
		if row.Description == "" {
			row.Description = ev.Description
		}
		row.Status = models.TaskStatusFailed
		row.Detail = ev.Error
		row.Duration = ev.Duration
		s.log(ev, "fail", fmt.Sprintf("%s: %s", ev.TaskID, progress.Truncate(ev.Error, 80)))

	case orchestrator.EventRunDone:
		s.Done = true
		s.Status = ev.Status
		s.Reason = ev.Message
		if ev.Error != "" {
			s.Reason = ev.Error
		}
		s.Duration = ev.Duration
		status := string(ev.Status)
		if status == "" {
			status = "halted"
		}
		s.log(ev, "run", fmt.Sprintf("%s: %s", status, s.Reason))
	}
}

// Counts returns the number of completed, failed and running subtasks.
func (s *RunState) Counts() (completed, failed, running int) {
	for _, t := range s.Tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusRunning:
			running++
		}
	}
	return completed, failed, running
}

// Fraction returns the share of subtasks that reached a terminal status.
func (s *RunState) Fraction() float64 {
	if len(s.Tasks) == 0 {
		return 0
	}
	completed, failed, _ := s.Counts()
	return float64(completed+failed) / float64(len(s.Tasks))
}

func (s *RunState) row(id string) *TaskRow {
	if r, ok := s.index[id]; ok {
		return r
	}
	r := &TaskRow{ID: id, Status: models.TaskStatusPending}
	s.index[id] = r
	s.Tasks = append(s.Tasks, r)
	return r
}

func (s *RunState) log(ev orchestrator.Event, kind, msg string) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.Log = append(s.Log, LogLine{Timestamp: ts, Kind: kind, Message: msg})
	if len(s.Log) > maxLogLines {
		s.Log = s.Log[len(s.Log)-maxLogLines:]
	}
}

func describeAction(a models.Action) string {
	switch a.Kind {
	case models.ActionTool:
		return fmt.Sprintf("%s(%s)", a.Tool, progress.Truncate(a.Input, 40))
	case models.ActionFinish, models.ActionAnswer:
		return "finishing: " + progress.Truncate(a.Input, 40)
	default:
		return string(a.Kind)
	}
}
