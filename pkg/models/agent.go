package models

import "time"

// AgentKindCoordinator is the kind of the record the orchestrator registers
// for itself. Goal tasks and tasks drained at shutdown are assigned to it.
const AgentKindCoordinator = "coordinator"

// AgentRecord is the capability record of an agent instance.
// Records are created once by the factory and never modified.
type AgentRecord struct {
	// ID is the unique identifier for this agent, e.g. "analyst_1".
	ID string `json:"id"`
	// Kind is the template the agent was built from.
	Kind string `json:"kind"`
	// Persona is the role text the agent reasons under.
	Persona string `json:"persona"`
	// Capabilities lists the tool names the agent may invoke.
	Capabilities []string `json:"capabilities"`
	// CreatedAt is when the agent was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the record.
func (a AgentRecord) Clone() AgentRecord {
	c := a
	if a.Capabilities != nil {
		c.Capabilities = append([]string(nil), a.Capabilities...)
	}
	return c
}

// HasCapability returns true if name is in the record's toolkit.
func (a AgentRecord) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// ActionKind classifies what an agent decided to do in a step.
type ActionKind string

const (
	// ActionTool invokes a capability with an argument.
	ActionTool ActionKind = "tool"
	// ActionFinish is an explicit finish signal from the model.
	ActionFinish ActionKind = "finish"
	// ActionAnswer is a free-text answer naming no bound capability.
	ActionAnswer ActionKind = "answer"
	// ActionNoop records a step that did nothing (parse or completion failure).
	ActionNoop ActionKind = "noop"
)

// Action is the decision made in a reasoning step.
type Action struct {
	Kind  ActionKind `json:"kind"`
	Tool  string     `json:"tool,omitempty"`
	Input string     `json:"input,omitempty"`
}

// String renders the action the way it appears in prompts.
func (a Action) String() string {
	switch a.Kind {
	case ActionTool:
		return a.Tool + ": " + a.Input
	case ActionFinish:
		return "finish: " + a.Input
	case ActionAnswer:
		return "answer: " + a.Input
	default:
		return "none"
	}
}

// Step is one think/act/observe iteration of an agent run.
type Step struct {
	// Index is the zero-based position of the step in the run history.
	Index int `json:"index"`
	// Thought is the reasoning text (or raw model text when unparsable).
	Thought string `json:"thought"`
	// Action is what the agent decided to do.
	Action Action `json:"action"`
	// Observation is the result of the action.
	Observation string `json:"observation"`
	// Failed marks an observation that reports an error rather than a result.
	Failed bool `json:"failed,omitempty"`
	// At is when the step was recorded.
	At time.Time `json:"at"`
}
