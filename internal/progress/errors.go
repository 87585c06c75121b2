package progress

import "errors"

// Contract violations. Callers wrap these with context; match with errors.Is.
var (
	// ErrInvalidParent is returned when a task is created under an unknown parent.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrUnknownTask is returned when a task ID is not in the store.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownAgent is returned when an agent ID has not been registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrInvalidTransition is returned for any illegal status change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateAgent is returned when an agent ID is registered twice.
	ErrDuplicateAgent = errors.New("duplicate agent")
)

// IsInvariantViolation reports whether err is one of the store's contract errors.
// These are programming errors in the caller and are never retried.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvalidParent) ||
		errors.Is(err, ErrUnknownTask) ||
		errors.Is(err, ErrUnknownAgent) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateAgent)
}
