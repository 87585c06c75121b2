package agent

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// Parsed is a model reply split into its parts.
type Parsed struct {
	Thought string
	Action  models.Action
	// ActionText is the raw text after the action marker.
	ActionText string
}

type section int

const (
	sectionNone section = iota
	sectionThought
	sectionAction
	sectionFinal
)

// markers maps line prefixes (lowercase, without the colon) to sections.
var markers = []struct {
	prefix string
	sec    section
}{
	{"final answer", sectionFinal},
	{"finish", sectionFinal},
	{"完成", sectionFinal},
	{"最终答案", sectionFinal},
	{"thought", sectionThought},
	{"思考", sectionThought},
	{"action", sectionAction},
	{"行动", sectionAction},
}

var (
	callPattern  = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*$`)
	colonPattern = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*[:：]\s*(.*)$`)
	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// ParseResponse extracts the thought and action from a reply. Replies with
// neither an action nor a final answer parse as a no-op whose thought is
// the raw text.
func ParseResponse(text string) Parsed {
	text = strings.TrimSpace(text)
	if text == "" {
		return Parsed{Action: models.Action{Kind: models.ActionNoop}}
	}
	if p, ok := parseJSON(text); ok {
		return p
	}

	var thought, action, final strings.Builder
	var cur *strings.Builder
	var sawAction, sawFinal bool

	for _, line := range strings.Split(text, "\n") {
		sec, rest := matchMarker(line)
		switch sec {
		case sectionThought:
			cur = &thought
		case sectionAction:
			cur = &action
			sawAction = true
		case sectionFinal:
			cur = &final
			sawFinal = true
		default:
			if cur != nil {
				cur.WriteString("\n")
				cur.WriteString(line)
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(rest)
	}

	p := Parsed{Thought: strings.TrimSpace(thought.String())}
	switch {
	case sawFinal:
		p.Action = models.Action{Kind: models.ActionFinish, Input: strings.TrimSpace(final.String())}
	case sawAction:
		p.ActionText = strings.TrimSpace(action.String())
		p.Action = parseAction(p.ActionText)
	default:
		if p.Thought == "" {
			p.Thought = text
		}
		p.Action = models.Action{Kind: models.ActionNoop}
	}
	return p
}

// matchMarker reports the section a line opens and the text after the marker.
func matchMarker(line string) (section, string) {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimLeft(trimmed, "*#> ")
	lower := strings.ToLower(trimmed)
	for _, m := range markers {
		if !strings.HasPrefix(lower, m.prefix) {
			continue
		}
		rest := strings.TrimLeft(trimmed[len(m.prefix):], "* ")
		if strings.HasPrefix(rest, ":") {
			return m.sec, strings.TrimSpace(strings.TrimLeft(rest[1:], "* "))
		}
		if strings.HasPrefix(rest, "：") {
			return m.sec, strings.TrimSpace(rest[len("："):])
		}
	}
	return sectionNone, ""
}

// parseAction reads "tool: input", "tool(input)" or "finish: answer".
// Anything else is a free-text answer.
func parseAction(text string) models.Action {
	if text == "" {
		return models.Action{Kind: models.ActionNoop}
	}
	var name, input string
	if m := callPattern.FindStringSubmatch(text); m != nil {
		name, input = m[1], m[2]
	} else if m := colonPattern.FindStringSubmatch(text); m != nil {
		name, input = m[1], m[2]
	} else {
		return models.Action{Kind: models.ActionAnswer, Input: text}
	}

	name = strings.ToLower(name)
	input = unquote(strings.TrimSpace(input))
	switch name {
	case "finish", "final_answer", "answer":
		return models.Action{Kind: models.ActionFinish, Input: input}
	}
	return models.Action{Kind: models.ActionTool, Tool: name, Input: input}
}

// parseJSON accepts {"thought": ..., "action": ..., "input": ...} replies,
// optionally inside a code fence.
func parseJSON(text string) (Parsed, bool) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if !strings.HasPrefix(text, "{") || !gjson.Valid(text) {
		return Parsed{}, false
	}

	fields := gjson.GetMany(text, "thought", "action", "input", "action_input", "final_answer", "answer")
	thought := fields[0].String()
	tool := strings.ToLower(strings.TrimSpace(fields[1].String()))
	input := fields[2].String()
	if !fields[2].Exists() {
		input = fields[3].String()
	}

	p := Parsed{Thought: thought}
	switch {
	case fields[4].Exists():
		p.Action = models.Action{Kind: models.ActionFinish, Input: fields[4].String()}
	case tool == "finish" || tool == "final_answer":
		if !fields[2].Exists() && !fields[3].Exists() {
			input = fields[5].String()
		}
		p.Action = models.Action{Kind: models.ActionFinish, Input: input}
	case tool != "":
		p.ActionText = tool + ": " + input
		p.Action = models.Action{Kind: models.ActionTool, Tool: tool, Input: input}
	case fields[5].Exists():
		p.Action = models.Action{Kind: models.ActionFinish, Input: fields[5].String()}
	default:
		if thought == "" {
			return Parsed{}, false
		}
		p.Action = models.Action{Kind: models.ActionNoop}
	}
	return p, true
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
