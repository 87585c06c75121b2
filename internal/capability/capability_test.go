package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{"123+456", "579", false},
		{" 123 + 456 = ", "579", false},
		{"(1 + 2) * 3", "9", false},
		{"-4 + 10", "6", false},
		{"10 / 4", "2.5", false},
		{"10 / 5", "2", false},
		{"1 / 3", "0.3333333333333333", false},
		{"17 % 5", "2", false},
		{"2.5 * 2", "5", false},
		{"99999999999999999999 + 1", "100000000000000000000", false},
		{"1 / 0", "", true},
		{"5 % 0", "", true},
		{"1.5 % 1", "", true},
		{"os.Exit(1)", "", true},
		{"1 +", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Evaluate(%q) = %q, want error", tt.expr, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Evaluate(%q) error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := Builtins(t.TempDir())

	assert.Equal(t, []string{"calculator", "data_analysis", "file_ops", "search", "summarizer", "text_processing"}, r.Names())
	assert.True(t, r.Has("calculator"))
	assert.False(t, r.Has("visualization"))
	assert.NotEmpty(t, r.Describe("calculator"))
	assert.Empty(t, r.Describe("nope"))

	out, err := r.Invoke(context.Background(), "calculator", "123+456")
	require.NoError(t, err)
	assert.Equal(t, "579", out)

	_, err = r.Invoke(context.Background(), "visualization", "x")
	assert.ErrorIs(t, err, ErrUnknownCapability)

	_, err = r.Invoke(context.Background(), "calculator", "abc")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "calculator", execErr.Capability)
}

func TestRegistry_CancelledContext(t *testing.T) {
	cause := errors.New("stop requested")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	_, err := Builtins("").Invoke(ctx, "calculator", "1+1")
	assert.ErrorIs(t, err, cause)
}

func TestRegistry_CustomCapability(t *testing.T) {
	calls := 0
	r := NewRegistry(Func{ToolName: "flaky", Fn: func(ctx context.Context, input string) (string, error) {
		calls++
		return "", errors.New("upstream 503")
	}})

	_, err := r.Invoke(context.Background(), "flaky", "")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "upstream 503")
	assert.Equal(t, 1, calls)
}

func TestDataAnalysis(t *testing.T) {
	c := DataAnalysis()

	out, err := c.Invoke(context.Background(), "2, 4, 4, 4, 5, 5, 7, 9")
	require.NoError(t, err)
	assert.Equal(t, "count=8 sum=40 mean=5 median=4.5 min=2 max=9 stddev=2", out)

	out, err = c.Invoke(context.Background(), "[1.5，2]")
	require.NoError(t, err)
	assert.Equal(t, "count=2 sum=3.5 mean=1.75 median=1.75 min=1.5 max=2 stddev=0.25", out)

	_, err = c.Invoke(context.Background(), "")
	assert.Error(t, err)
	_, err = c.Invoke(context.Background(), "1, two, 3")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/plan.md", "# Plan\nThe retry budget is two.\nNothing else.\n")
	writeFile(t, root, "main.go", "package main\n// retry budget lives elsewhere\n")
	writeFile(t, root, ".git/config", "retry budget\n")

	c := Search(root)

	out, err := c.Invoke(context.Background(), "Retry Budget")
	require.NoError(t, err)
	assert.Contains(t, out, "2 match(es)")
	assert.Contains(t, out, "notes/plan.md:2: The retry budget is two.")
	assert.NotContains(t, out, ".git")

	out, err = c.Invoke(context.Background(), "glob=*.go retry")
	require.NoError(t, err)
	assert.Contains(t, out, "main.go:2")
	assert.NotContains(t, out, "plan.md")

	out, err = c.Invoke(context.Background(), "unicorns")
	require.NoError(t, err)
	assert.Equal(t, `no matches for "unicorns"`, out)

	_, err = c.Invoke(context.Background(), "  ")
	assert.Error(t, err)
}

func TestFileOps(t *testing.T) {
	root := t.TempDir()
	c := FileOps(root)
	ctx := context.Background()

	out, err := c.Invoke(ctx, "write out/result.txt 579")
	require.NoError(t, err)
	assert.Equal(t, "wrote 3 bytes to out/result.txt", out)

	out, err = c.Invoke(ctx, "read out/result.txt")
	require.NoError(t, err)
	assert.Equal(t, "579", out)

	out, err = c.Invoke(ctx, "list out")
	require.NoError(t, err)
	assert.Equal(t, "[FILE] result.txt", out)

	out, err = c.Invoke(ctx, "list . *.md")
	require.NoError(t, err)
	assert.Equal(t, "(empty)", out)

	// Traversal stays inside the root.
	_, err = c.Invoke(ctx, "write ../../escape.txt x")
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, statErr)

	_, err = c.Invoke(ctx, "delete out/result.txt")
	assert.Error(t, err)
	_, err = c.Invoke(ctx, "read")
	assert.Error(t, err)
	_, err = FileOps("").Invoke(ctx, "list")
	assert.Error(t, err)
}

func TestFileOps_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "s3cret")
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := FileOps(root).Invoke(context.Background(), "read link.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside workspace")
}

func TestSummarizer(t *testing.T) {
	c := Summarizer()
	out, err := c.Invoke(context.Background(), "One. Two! Three? Four.")
	require.NoError(t, err)
	assert.Equal(t, "One. Two! Three? ...", out)

	out, err = c.Invoke(context.Background(), "短句。第二句。")
	require.NoError(t, err)
	assert.Equal(t, "短句。第二句。", out)

	_, err = c.Invoke(context.Background(), "   ")
	assert.Error(t, err)
}

func TestTextProcessing(t *testing.T) {
	c := TextProcessing()
	tests := []struct {
		input string
		want  string
	}{
		{"upper hello world", "HELLO WORLD"},
		{"lower HeLLo", "hello"},
		{"wordcount the quick brown fox", "4"},
		{"reverse abc 你好", "好你 cba"},
	}
	for _, tt := range tests {
		got, err := c.Invoke(context.Background(), tt.input)
		if err != nil {
			t.Errorf("Invoke(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Invoke(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	_, err := c.Invoke(context.Background(), "shout hi")
	assert.Error(t, err)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
