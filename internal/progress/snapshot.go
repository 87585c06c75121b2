package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// SchemaVersion is the version tag written with every persisted snapshot.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned for snapshots written by a newer or unknown schema.
var ErrUnsupportedSchema = errors.New("unsupported snapshot schema")

// Snapshot is a point-in-time copy of the store. It does not change when
// the store does, and its accessors return copies.
type Snapshot struct {
	SchemaVersion int                  `json:"schema_version"`
	TakenAt       time.Time            `json:"taken_at"`
	Tasks         []models.Task        `json:"tasks"`
	Agents        []models.AgentRecord `json:"agents"`
}

// ErrMalformedHierarchy is returned for snapshots whose tasks do not form a
// forest.
var ErrMalformedHierarchy = errors.New("malformed task hierarchy")

// Validate checks the schema tag, the referential integrity of the
// hierarchy, and that parent and child links agree and form a forest.
func (s Snapshot) Validate() error {
	if s.SchemaVersion < 1 || s.SchemaVersion > SchemaVersion {
		return fmt.Errorf("schema version %d: %w", s.SchemaVersion, ErrUnsupportedSchema)
	}

	byID := make(map[string]models.Task, len(s.Tasks))
	for _, t := range s.Tasks {
		if _, dup := byID[t.ID]; t.ID == "" || dup {
			return fmt.Errorf("snapshot task id %q missing or duplicated", t.ID)
		}
		if !t.Status.Valid() {
			return fmt.Errorf("snapshot task %q has invalid status %q", t.ID, t.Status)
		}
		byID[t.ID] = t
	}

	listedBy := make(map[string]string, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ParentID != "" {
			if _, ok := byID[t.ParentID]; !ok {
				return fmt.Errorf("snapshot task %q has unknown parent %q", t.ID, t.ParentID)
			}
		}
		for _, c := range t.Children {
			child, ok := byID[c]
			if !ok {
				return fmt.Errorf("snapshot task %q has unknown child %q", t.ID, c)
			}
			if child.ParentID != t.ID {
				return fmt.Errorf("snapshot task %q lists %q whose parent is %q: %w", t.ID, c, child.ParentID, ErrMalformedHierarchy)
			}
			if prev, seen := listedBy[c]; seen {
				return fmt.Errorf("snapshot task %q listed by %q and %q: %w", c, prev, t.ID, ErrMalformedHierarchy)
			}
			listedBy[c] = t.ID
		}
	}
	for _, t := range s.Tasks {
		if t.ParentID != "" && listedBy[t.ID] != t.ParentID {
			return fmt.Errorf("snapshot task %q is not listed by its parent %q: %w", t.ID, t.ParentID, ErrMalformedHierarchy)
		}
	}

	// Every task must be reachable from a root exactly once; anything left
	// over sits on a cycle.
	visited := make(map[string]bool, len(s.Tasks))
	var walk func(id string) error
	walk = func(id string) error {
		if visited[id] {
			return fmt.Errorf("snapshot task %q reached twice: %w", id, ErrMalformedHierarchy)
		}
		visited[id] = true
		for _, c := range byID[id].Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range s.Tasks {
		if t.ParentID == "" {
			if err := walk(t.ID); err != nil {
				return err
			}
		}
	}
	if len(visited) != len(s.Tasks) {
		for _, t := range s.Tasks {
			if !visited[t.ID] {
				return fmt.Errorf("snapshot task %q is on a cycle: %w", t.ID, ErrMalformedHierarchy)
			}
		}
	}

	agents := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if a.ID == "" || agents[a.ID] {
			return fmt.Errorf("snapshot agent id %q missing or duplicated", a.ID)
		}
		agents[a.ID] = true
	}
	return nil
}

// Task returns the task with the given ID.
func (s Snapshot) Task(id string) (models.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t.Clone(), true
		}
	}
	return models.Task{}, false
}

// Agent returns the agent record with the given ID.
func (s Snapshot) Agent(id string) (models.AgentRecord, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return models.AgentRecord{}, false
}

// Roots returns tasks without a parent, in creation order.
func (s Snapshot) Roots() []models.Task {
	var roots []models.Task
	for _, t := range s.Tasks {
		if t.ParentID == "" {
			roots = append(roots, t.Clone())
		}
	}
	return roots
}

// Children returns the children of id in planning order.
func (s Snapshot) Children(id string) []models.Task {
	byID := s.index()
	parent, ok := byID[id]
	if !ok {
		return nil
	}
	children := make([]models.Task, 0, len(parent.Children))
	for _, c := range parent.Children {
		if t, ok := byID[c]; ok {
			children = append(children, t.Clone())
		}
	}
	return children
}

// Descendants returns every task below id, depth first in planning order.
func (s Snapshot) Descendants(id string) []models.Task {
	byID := s.index()
	var out []models.Task
	var walk func(string)
	walk = func(pid string) {
		p, ok := byID[pid]
		if !ok {
			return
		}
		for _, c := range p.Children {
			if t, ok := byID[c]; ok {
				out = append(out, t.Clone())
				walk(c)
			}
		}
	}
	walk(id)
	return out
}

// SubtreeStatus aggregates id and its descendants. Unknown IDs return "".
func (s Snapshot) SubtreeStatus(id string) models.TaskStatus {
	self, ok := s.Task(id)
	if !ok {
		return ""
	}
	statuses := []models.TaskStatus{self.Status}
	for _, d := range s.Descendants(id) {
		statuses = append(statuses, d.Status)
	}
	return Aggregate(statuses)
}

// Stats computes counts and rates over every task in the snapshot.
func (s Snapshot) Stats() Stats {
	var st Stats
	for _, t := range s.Tasks {
		st.Total++
		switch t.Status {
		case models.TaskStatusPending:
			st.Pending++
		case models.TaskStatusRunning:
			st.Running++
		case models.TaskStatusCompleted:
			st.Completed++
		case models.TaskStatusFailed:
			st.Failed++
		}
	}
	if st.Total > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Total)
		st.FailureRate = float64(st.Failed) / float64(st.Total)
	}
	return st
}

func (s Snapshot) index() map[string]models.Task {
	byID := make(map[string]models.Task, len(s.Tasks))
	for _, t := range s.Tasks {
		byID[t.ID] = t
	}
	return byID
}

// Stats summarizes task counts.
type Stats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	Running        int     `json:"running"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	CompletionRate float64 `json:"completion_rate"`
	FailureRate    float64 `json:"failure_rate"`
}
