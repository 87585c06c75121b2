package factory

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"go.yaml.in/yaml/v3"
)

// Kind is the closed set of agent templates.
type Kind int

const (
	Analyst Kind = iota
	Executor
	Researcher
)

// String returns the kind name used in agent IDs and records.
func (k Kind) String() string {
	switch k {
	case Analyst:
		return "analyst"
	case Executor:
		return "executor"
	case Researcher:
		return "researcher"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "analyst":
		return Analyst, nil
	case "executor":
		return Executor, nil
	case "researcher":
		return Researcher, nil
	default:
		return 0, fmt.Errorf("unknown agent kind %q", s)
	}
}

// UnmarshalYAML reads a kind name.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseKind(value.Value)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalYAML writes the kind name.
func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// Template describes how to build one kind of agent.
type Template struct {
	Kind    Kind   `yaml:"kind"`
	Persona string `yaml:"persona"`
	// Keywords select the template. ASCII keywords match the start of a
	// word; other keywords match anywhere.
	Keywords []string `yaml:"keywords"`
	// Capabilities is the requested toolkit, before intersection with the registry.
	Capabilities []string `yaml:"capabilities"`
	// RequiresCapability fails creation when no requested tool is available.
	RequiresCapability bool `yaml:"requires_capability"`
}

// Matches returns the first keyword found in description.
func (t Template) Matches(description string) (string, bool) {
	lower := strings.ToLower(description)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, kw := range t.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if isASCII(kw) {
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					return kw, true
				}
			}
			continue
		}
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// DefaultTemplates returns the built-in templates in match order. The last
// template is the fallback when nothing matches.
func DefaultTemplates() []Template {
	return []Template{
		{
			Kind: Analyst,
			Persona: `You are a data analysis expert. You are good at:
- numeric calculation and statistical reasoning
- breaking a problem down and thinking it through logically
- quantitative evaluation and comparison
You are rigorous and data driven, and you use your tools for every calculation.`,
			Keywords: []string{
				"analy", "calculat", "comput", "reason", "statistic", "evaluat", "compar", "assess", "estimat", "average", "math",
				"分析", "计算", "推理", "统计", "评估", "比较",
			},
			Capabilities:       []string{"calculator", "data_analysis", "statistics", "visualization", "comparison"},
			RequiresCapability: true,
		},
		{
			Kind: Executor,
			Persona: `You are an execution expert. You are good at:
- carrying out concrete operations
- reading, writing and transforming files and text
- producing well-formatted output
You are results oriented and turn abstract requests into specific actions.`,
			Keywords: []string{
				"execut", "operat", "run", "process", "generat", "creat", "build", "write", "convert", "format", "transform", "save", "implement",
				"执行", "操作", "运行", "处理", "生成", "创建", "构建", "实施", "写入", "转换",
			},
			Capabilities:       []string{"file_ops", "api_calls", "text_processing", "format_converter", "batch_processor"},
			RequiresCapability: true,
		},
		{
			Kind: Researcher,
			Persona: `You are a research expert. You are good at:
- searching for information and collecting sources
- organizing and summarizing what you find
- combining several sources into one answer
You care about accuracy and completeness.`,
			Keywords: []string{
				"search", "find", "collect", "organiz", "summar", "research", "explor", "look", "investigat", "gather",
				"搜索", "查找", "收集", "整理", "总结", "调研", "探索", "研究",
			},
			Capabilities: []string{"search", "web_scraping", "summarizer", "knowledge_base", "citation_manager"},
		},
	}
}

// templateFile is the on-disk layout read by LoadTemplates.
type templateFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplates reads templates from a YAML file. Every kind must appear
// exactly once; the file order is the match order.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	if err := validateTemplates(f.Templates); err != nil {
		return nil, fmt.Errorf("templates %s: %w", path, err)
	}
	return f.Templates, nil
}

func validateTemplates(templates []Template) error {
	seen := make(map[Kind]bool)
	for _, t := range templates {
		if seen[t.Kind] {
			return fmt.Errorf("kind %s defined twice", t.Kind)
		}
		if strings.TrimSpace(t.Persona) == "" {
			return fmt.Errorf("kind %s has no persona", t.Kind)
		}
		seen[t.Kind] = true
	}
	for _, k := range []Kind{Analyst, Executor, Researcher} {
		if !seen[k] {
			return fmt.Errorf("kind %s missing", k)
		}
	}
	return nil
}
