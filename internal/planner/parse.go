package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ResultKind tags the outcome of parsing a planner reply.
type ResultKind int

const (
	// Structured is a reply that carried a JSON plan.
	Structured ResultKind = iota
	// Fallback is a reply without a usable plan, kept as one subtask.
	Fallback
	// NoWork is an explicit "nothing left to do" reply.
	NoWork
)

// String returns the kind name.
func (k ResultKind) String() string {
	switch k {
	case Structured:
		return "structured"
	case Fallback:
		return "fallback"
	case NoWork:
		return "no_work"
	default:
		return "unknown"
	}
}

// Priorities used by subtasks. Lower runs first.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// Subtask is one planned unit of work.
type Subtask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	// ToolType is a capability hint such as "calculator" or "general".
	ToolType string `json:"tool_type"`
	Priority int    `json:"priority"`
}

// Plan is an ordered list of subtasks that has not been materialized yet.
type Plan struct {
	Subtasks []Subtask `json:"tasks"`
	Strategy string    `json:"strategy"`
	// EstimatedSeconds is the model's guess at the total runtime.
	EstimatedSeconds int `json:"estimated_time"`
}

// Descriptions returns the subtask descriptions in plan order.
func (p Plan) Descriptions() []string {
	out := make([]string, len(p.Subtasks))
	for i, s := range p.Subtasks {
		out[i] = s.Description
	}
	return out
}

// ParseResult is the tagged outcome of Parse. Plan is set for Structured
// and Fallback, Raw always holds the trimmed reply.
type ParseResult struct {
	Kind ResultKind
	Plan Plan
	Raw  string
}

var (
	fencePattern  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	noWorkPattern = regexp.MustCompile(`(?i)^[\s\p{P}]*(no further work|no_further_work|done|无需进一步工作|已完成)[\s\p{P}]*$`)
)

// Parse turns a planner reply into a plan. It never fails: replies without
// a usable JSON plan become a single subtask holding the raw text.
func Parse(text string) ParseResult {
	raw := strings.TrimSpace(text)
	if raw == "" || noWorkPattern.MatchString(raw) {
		return ParseResult{Kind: NoWork, Raw: raw}
	}

	for _, candidate := range jsonCandidates(raw) {
		if res, ok := parseJSON(candidate); ok {
			res.Raw = raw
			return res
		}
	}
	return fallback(raw)
}

func fallback(raw string) ParseResult {
	return ParseResult{
		Kind: Fallback,
		Raw:  raw,
		Plan: Plan{
			Subtasks: []Subtask{{
				ID:          "task_1",
				Description: raw,
				ToolType:    guessToolType(raw),
				Priority:    PriorityNormal,
			}},
			Strategy:         "sequential",
			EstimatedSeconds: 30,
		},
	}
}

// jsonCandidates returns the JSON fragments worth trying, most specific first.
func jsonCandidates(raw string) []string {
	var out []string
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		out = append(out, m[1])
	}
	out = append(out, raw)

	objStart, objEnd := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	arrStart, arrEnd := strings.Index(raw, "["), strings.LastIndex(raw, "]")
	obj := objStart >= 0 && objEnd > objStart
	arr := arrStart >= 0 && arrEnd > arrStart

	// A top-level array can contain objects; a top-level object can contain
	// arrays. Whichever opens first is the outer value.
	switch {
	case obj && arr && arrStart < objStart:
		out = append(out, raw[arrStart:arrEnd+1], raw[objStart:objEnd+1])
	case obj && arr:
		out = append(out, raw[objStart:objEnd+1], raw[arrStart:arrEnd+1])
	case obj:
		out = append(out, raw[objStart:objEnd+1])
	case arr:
		out = append(out, raw[arrStart:arrEnd+1])
	}
	return out
}

func parseJSON(s string) (ParseResult, bool) {
	s = strings.TrimSpace(s)
	if !gjson.Valid(s) {
		return ParseResult{}, false
	}
	root := gjson.Parse(s)

	switch {
	case root.IsArray():
		return fromTaskList(root, Plan{})

	case root.IsObject():
		if root.Get("done").Bool() {
			return ParseResult{Kind: NoWork}, true
		}
		tasks := root.Get("tasks")
		if !tasks.Exists() {
			tasks = root.Get("subtasks")
		}
		if !tasks.IsArray() {
			return ParseResult{}, false
		}
		plan := Plan{
			Strategy:         root.Get("strategy").String(),
			EstimatedSeconds: seconds(root.Get("estimated_time")),
		}
		return fromTaskList(tasks, plan)
	}
	return ParseResult{}, false
}

func fromTaskList(list gjson.Result, plan Plan) (ParseResult, bool) {
	items := list.Array()
	if len(items) == 0 {
		return ParseResult{Kind: NoWork}, true
	}

	for _, item := range items {
		var st Subtask
		switch {
		case item.Type == gjson.String:
			st.Description = strings.TrimSpace(item.String())
		case item.IsObject():
			for _, field := range []string{"description", "task", "title"} {
				if v := strings.TrimSpace(item.Get(field).String()); v != "" {
					st.Description = v
					break
				}
			}
			st.ID = item.Get("id").String()
			st.ToolType = item.Get("tool_type").String()
			st.Priority = priority(item.Get("priority"))
		}
		if st.Description == "" {
			continue
		}
		plan.Subtasks = append(plan.Subtasks, st)
	}
	if len(plan.Subtasks) == 0 {
		return ParseResult{}, false
	}

	for i := range plan.Subtasks {
		st := &plan.Subtasks[i]
		if st.ID == "" {
			st.ID = fmt.Sprintf("task_%d", i+1)
		}
		if st.ToolType == "" {
			st.ToolType = guessToolType(st.Description)
		}
		if st.Priority == 0 {
			st.Priority = PriorityNormal
		}
	}
	if plan.Strategy == "" {
		plan.Strategy = "sequential"
	}
	if plan.EstimatedSeconds == 0 {
		plan.EstimatedSeconds = 30 * len(plan.Subtasks)
	}
	return ParseResult{Kind: Structured, Plan: plan}, true
}

func priority(v gjson.Result) int {
	if v.Type == gjson.Number {
		if n := int(v.Int()); n >= PriorityHigh && n <= PriorityLow {
			return n
		}
		return PriorityNormal
	}
	switch strings.ToLower(strings.TrimSpace(v.String())) {
	case "high", "高":
		return PriorityHigh
	case "low", "低":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// seconds reads an estimate that models write as 90, "90" or "90 seconds".
func seconds(v gjson.Result) int {
	if v.Type == gjson.Number {
		return int(v.Int())
	}
	fields := strings.Fields(v.String())
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

var toolHints = []struct {
	tool  string
	words []string
}{
	{"search", []string{"搜索", "查找", "检索", "search", "find"}},
	{"calculator", []string{"计算", "数学", "统计", "calc", "comput"}},
	{"data_analysis", []string{"分析", "处理", "analy"}},
	{"file_ops", []string{"文件", "保存", "file", "save"}},
}

func guessToolType(description string) string {
	lower := strings.ToLower(description)
	for _, h := range toolHints {
		for _, w := range h.words {
			if strings.Contains(lower, w) {
				return h.tool
			}
		}
	}
	return "general"
}
