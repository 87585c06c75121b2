package agent

import (
	"fmt"
	"strings"
)

// ResponseFormatPrompt tells the model how to lay out each reply.
const ResponseFormatPrompt = `## Response Format

Reply with exactly one step:

Thought: <your reasoning about what to do next>
Action: <tool>: <input>

When you have the answer, reply instead with:

Thought: <why you are done>
Final Answer: <the answer>

Only use tools from your toolkit. Use one tool per step.
`

// describer is implemented by registries that can explain a tool.
type describer interface {
	Describe(name string) string
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.cfg.Persona))
	b.WriteString("\n\n")
	b.WriteString(ResponseFormatPrompt)
	return b.String()
}

func (a *Agent) userPrompt(description string) string {
	var b strings.Builder

	b.WriteString("## Toolkit\n\n")
	if len(a.cfg.Capabilities) == 0 {
		b.WriteString("(no tools; answer directly)\n")
	}
	d, _ := a.cfg.Tools.(describer)
	for _, name := range a.cfg.Capabilities {
		help := ""
		if d != nil {
			help = d.Describe(name)
		}
		if help != "" {
			fmt.Fprintf(&b, "- %s: %s\n", name, help)
		} else {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}

	a.mu.Lock()
	prior := a.prior
	a.mu.Unlock()
	if len(prior) > 0 {
		b.WriteString("\n## Context\n\nResults of earlier subtasks:\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "- %s: %s\n", strings.TrimSpace(p.Description), strings.TrimSpace(p.Output))
		}
	}

	b.WriteString("\n## Task\n\n")
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\n")

	history := a.History()
	if len(history) > 0 {
		b.WriteString("\n## Previous Steps\n")
		for _, s := range history {
			fmt.Fprintf(&b, "\nStep %d:\n", s.Index+1)
			if s.Thought != "" {
				fmt.Fprintf(&b, "Thought: %s\n", s.Thought)
			}
			fmt.Fprintf(&b, "Action: %s\n", s.Action)
			fmt.Fprintf(&b, "Observation: %s\n", s.Observation)
		}
	}

	b.WriteString("\nWhat is your next step?\n")
	return b.String()
}
