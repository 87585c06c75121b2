package progress

import (
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// RecoverInterrupted fails every task left running by a previous process,
// deepest first, so that restored hierarchies are consistent again. Tasks
// owned by a coordinator record are left running so their run can resume.
// It returns the IDs of the tasks it failed.
func (s *Store) RecoverInterrupted(reason string) ([]string, error) {
	snap := s.Snapshot()

	coordinators := make(map[string]bool)
	for _, a := range snap.Agents {
		if a.Kind == models.AgentKindCoordinator {
			coordinators[a.ID] = true
		}
	}

	// Children are always created after their parents, so walking creation
	// order backwards visits every child before its parent.
	var recovered []string
	for i := len(snap.Tasks) - 1; i >= 0; i-- {
		t := snap.Tasks[i]
		if t.Status != models.TaskStatusRunning || coordinators[t.AssignedAgent] {
			continue
		}
		if err := s.UpdateStatus(t.ID, models.TaskStatusFailed, &models.TaskResult{Reason: reason}); err != nil {
			return recovered, err
		}
		recovered = append(recovered, t.ID)
	}

	if len(recovered) > 0 {
		s.log.WithField("tasks", len(recovered)).Warn("failed tasks interrupted by a previous run")
	}
	return recovered, nil
}
