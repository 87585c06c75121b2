package planner

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantKind  ResultKind
		wantDescs []string
	}{
		{
			name:      "tasks object",
			text:      `{"tasks":[{"description":"search for the data"},{"description":"compute the mean"}],"strategy":"sequential"}`,
			wantKind:  Structured,
			wantDescs: []string{"search for the data", "compute the mean"},
		},
		{
			name:      "object inside prose",
			text:      "Here is my plan:\n{\"tasks\":[{\"description\":\"compute 123+456\"}]}\nGood luck!",
			wantKind:  Structured,
			wantDescs: []string{"compute 123+456"},
		},
		{
			name:      "fenced json",
			text:      "```json\n{\"tasks\":[{\"description\":\"a\"}]}\n```",
			wantKind:  Structured,
			wantDescs: []string{"a"},
		},
		{
			name:      "bare string array",
			text:      `["first", "second"]`,
			wantKind:  Structured,
			wantDescs: []string{"first", "second"},
		},
		{
			name:      "array of objects in prose",
			text:      `Plan: [{"task": "collect"}, {"title": "summarize"}] done`,
			wantKind:  Structured,
			wantDescs: []string{"collect", "summarize"},
		},
		{
			name:      "subtasks alias",
			text:      `{"subtasks":["x"]}`,
			wantKind:  Structured,
			wantDescs: []string{"x"},
		},
		{
			name:      "blank descriptions are skipped",
			text:      `["", "  ", "real"]`,
			wantKind:  Structured,
			wantDescs: []string{"real"},
		},
		{
			name:     "empty tasks",
			text:     `{"tasks": []}`,
			wantKind: NoWork,
		},
		{
			name:     "done flag",
			text:     `{"tasks": [{"description": "ignored"}], "done": true}`,
			wantKind: NoWork,
		},
		{
			name:     "empty array",
			text:     `[]`,
			wantKind: NoWork,
		},
		{name: "no further work", text: "NO FURTHER WORK", wantKind: NoWork},
		{name: "done token", text: "Done.", wantKind: NoWork},
		{name: "chinese done", text: "已完成", wantKind: NoWork},
		{name: "empty", text: "  \n ", wantKind: NoWork},
		{
			name:      "prose",
			text:      "First gather the data, then compute the average.",
			wantKind:  Fallback,
			wantDescs: []string{"First gather the data, then compute the average."},
		},
		{
			name:      "json without tasks",
			text:      `{"plan": "do it"}`,
			wantKind:  Fallback,
			wantDescs: []string{`{"plan": "do it"}`},
		},
		{
			name:      "numbers are not tasks",
			text:      "average [1, 2, 3]",
			wantKind:  Fallback,
			wantDescs: []string{"average [1, 2, 3]"},
		},
		{
			name:      "broken json",
			text:      `{"tasks": [{"description": "a"`,
			wantKind:  Fallback,
			wantDescs: []string{`{"tasks": [{"description": "a"`},
		},
		{
			name:      "multi-line prose stays one subtask",
			text:      "step one: search\nstep two: compute",
			wantKind:  Fallback,
			wantDescs: []string{"step one: search\nstep two: compute"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %s, want %s", got.Kind, tt.wantKind)
			}
			descs := got.Plan.Descriptions()
			if len(descs) == 0 && len(tt.wantDescs) == 0 {
				return
			}
			if !reflect.DeepEqual(descs, tt.wantDescs) {
				t.Errorf("descriptions = %q, want %q", descs, tt.wantDescs)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	got := Parse(`{"tasks":[{"description":"search the archive"},{"id":"x","description":"compute totals","priority":"low","tool_type":"calculator"},{"description":"c","priority":1}],"estimated_time":"90 seconds"}`)
	if got.Kind != Structured {
		t.Fatalf("Kind = %s, want structured", got.Kind)
	}
	want := []Subtask{
		{ID: "task_1", Description: "search the archive", ToolType: "search", Priority: PriorityNormal},
		{ID: "x", Description: "compute totals", ToolType: "calculator", Priority: PriorityLow},
		{ID: "task_3", Description: "c", ToolType: "general", Priority: PriorityHigh},
	}
	if !reflect.DeepEqual(got.Plan.Subtasks, want) {
		t.Errorf("Subtasks = %+v, want %+v", got.Plan.Subtasks, want)
	}
	if got.Plan.Strategy != "sequential" {
		t.Errorf("Strategy = %q, want sequential", got.Plan.Strategy)
	}
	if got.Plan.EstimatedSeconds != 90 {
		t.Errorf("EstimatedSeconds = %d, want 90", got.Plan.EstimatedSeconds)
	}
}

func TestGuessToolType(t *testing.T) {
	tests := map[string]string{
		"搜索最新论文":              "search",
		"Calculate the ratio": "calculator",
		"分析趋势":                "data_analysis",
		"save to report.txt":  "file_ops",
		"write a poem":        "general",
	}
	for desc, want := range tests {
		if got := guessToolType(desc); got != want {
			t.Errorf("guessToolType(%q) = %q, want %q", desc, got, want)
		}
	}
}
