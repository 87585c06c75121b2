package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const summarySentences = 3

// Summarizer keeps the leading sentences of a text.
func Summarizer() Capability {
	return Func{
		ToolName: "summarizer",
		Help:     "shorten a text to its first sentences",
		Fn: func(_ context.Context, input string) (string, error) {
			text := strings.Join(strings.Fields(input), " ")
			if text == "" {
				return "", errors.New("nothing to summarize")
			}
			sentences := splitSentences(text)
			if len(sentences) <= summarySentences {
				return text, nil
			}
			return strings.Join(sentences[:summarySentences], " ") + " ...", nil
		},
	}
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			end := i + utf8.RuneLen(r)
			if s := strings.TrimSpace(text[start:end]); s != "" {
				out = append(out, s)
			}
			start = end
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// TextProcessing applies a simple transformation: "<op> <text>" with op one
// of upper, lower, wordcount, reverse.
func TextProcessing() Capability {
	return Func{
		ToolName: "text_processing",
		Help:     "transform text: upper|lower|wordcount|reverse <text>",
		Fn: func(_ context.Context, input string) (string, error) {
			op, text, _ := strings.Cut(strings.TrimSpace(input), " ")
			switch strings.ToLower(op) {
			case "upper":
				return strings.ToUpper(text), nil
			case "lower":
				return strings.ToLower(text), nil
			case "wordcount":
				return fmt.Sprintf("%d", len(strings.Fields(text))), nil
			case "reverse":
				r := []rune(text)
				for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
					r[i], r[j] = r[j], r[i]
				}
				return string(r), nil
			}
			return "", fmt.Errorf("unknown text operation %q", op)
		},
	}
}
