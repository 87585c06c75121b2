package agent

import "github.com/kelvinyan1/aime-reproduction/pkg/models"

// StopPolicy decides whether a successful tool observation ends the run.
// An explicit finish from the model always ends it.
type StopPolicy interface {
	Done(step models.Step) bool
}

// StopFunc adapts a function to StopPolicy.
type StopFunc func(step models.Step) bool

// Done calls f.
func (f StopFunc) Done(step models.Step) bool { return f(step) }

// FinishOnly never stops on an observation; the model must finish.
func FinishOnly() StopPolicy {
	return StopFunc(func(models.Step) bool { return false })
}

// ToolResultSufficient stops after the first successful call to one of
// tools, or to any tool when none are named.
func ToolResultSufficient(tools ...string) StopPolicy {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t] = true
	}
	return StopFunc(func(step models.Step) bool {
		if step.Action.Kind != models.ActionTool || step.Failed {
			return false
		}
		return len(set) == 0 || set[step.Action.Tool]
	})
}

// ParseStopPolicy maps a config value to a policy: "finish" (default) or
// "tool_result".
func ParseStopPolicy(name string) StopPolicy {
	if name == "tool_result" {
		return ToolResultSufficient()
	}
	return FinishOnly()
}
