package capability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gobwas/glob"
)

const (
	maxSearchResults  = 10
	maxSearchFileSize = 1 << 20
	maxReadBytes      = 64 << 10
)

var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true}

// sandbox confines paths to a root directory.
type sandbox struct {
	root string
}

// resolve maps a user path to an absolute path inside the root.
func (s sandbox) resolve(p string) (string, error) {
	if s.root == "" {
		return "", errors.New("no workspace configured")
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("invalid root: %w", err)
	}
	abs := filepath.Join(root, filepath.Clean("/"+p))

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied - path outside workspace: %s", p)
	}

	// Resolve symlinks that exist and check the target too.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		realRoot, rerr := filepath.EvalSymlinks(root)
		if rerr != nil {
			realRoot = root
		}
		rel, err := filepath.Rel(realRoot, real)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("access denied - symlink target outside workspace: %s", p)
		}
	}
	return abs, nil
}

func (s sandbox) display(abs string) string {
	root, _ := filepath.Abs(s.root)
	if rel, err := filepath.Rel(root, abs); err == nil {
		return filepath.ToSlash(rel)
	}
	return abs
}

// Search finds lines containing a query in text files under root.
// Input is "<query>" or "glob=<pattern> <query>".
func Search(root string) Capability {
	sb := sandbox{root: root}
	return Func{
		ToolName: "search",
		Help:     "search workspace files for text, e.g. search: glob=*.md retry budget",
		Fn: func(ctx context.Context, input string) (string, error) {
			return sb.search(ctx, input)
		},
	}
}

func (s sandbox) search(ctx context.Context, input string) (string, error) {
	pattern := "*"
	query := strings.TrimSpace(input)
	if strings.HasPrefix(query, "glob=") {
		head, rest, _ := strings.Cut(query, " ")
		pattern = strings.TrimPrefix(head, "glob=")
		query = strings.TrimSpace(rest)
	}
	if query == "" {
		return "", errors.New("empty search query")
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("bad glob %q: %w", pattern, err)
	}
	root, err := s.resolve(".")
	if err != nil {
		return "", err
	}

	needle := strings.ToLower(query)
	var hits []string
	errDone := errors.New("done")

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !g.Match(d.Name()) || !isTextFile(path, d) {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		line := 0
		for scanner.Scan() {
			line++
			if strings.Contains(strings.ToLower(scanner.Text()), needle) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", s.display(path), line, strings.TrimSpace(scanner.Text())))
				if len(hits) >= maxSearchResults {
					return errDone
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDone) {
		return "", err
	}

	if len(hits) == 0 {
		return fmt.Sprintf("no matches for %q", query), nil
	}
	return fmt.Sprintf("%d match(es):\n%s", len(hits), strings.Join(hits, "\n")), nil
}

func isTextFile(path string, d fs.DirEntry) bool {
	info, err := d.Info()
	if err != nil || info.Size() > maxSearchFileSize {
		return false
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// FileOps reads, writes and lists files under root.
// Input is "read <path>", "write <path> <content>" or "list [dir] [glob]".
func FileOps(root string) Capability {
	sb := sandbox{root: root}
	return Func{
		ToolName: "file_ops",
		Help:     "file operations in the workspace: read <path> | write <path> <content> | list [dir] [glob]",
		Fn: func(_ context.Context, input string) (string, error) {
			return sb.fileOp(input)
		},
	}
}

func (s sandbox) fileOp(input string) (string, error) {
	op, rest, _ := strings.Cut(strings.TrimSpace(input), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(op) {
	case "read":
		if rest == "" {
			return "", errors.New("read: path required")
		}
		path, err := s.resolve(rest)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", rest, err)
		}
		if len(data) > maxReadBytes {
			data = append(data[:maxReadBytes:maxReadBytes], []byte("\n...(truncated)")...)
		}
		return string(data), nil

	case "write":
		name, content, ok := strings.Cut(rest, " ")
		if !ok || name == "" {
			return "", errors.New("write: path and content required")
		}
		path, err := s.resolve(name)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), s.display(path)), nil

	case "list":
		dir, pattern, _ := strings.Cut(rest, " ")
		if dir == "" {
			dir = "."
		}
		if pattern == "" {
			pattern = "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return "", fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		path, err := s.resolve(dir)
		if err != nil {
			return "", err
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("list %s: %w", dir, err)
		}
		var names []string
		for _, e := range entries {
			if !g.Match(e.Name()) {
				continue
			}
			if e.IsDir() {
				names = append(names, "[DIR]  "+e.Name())
			} else {
				names = append(names, "[FILE] "+e.Name())
			}
		}
		sort.Strings(names)
		if len(names) == 0 {
			return "(empty)", nil
		}
		return strings.Join(names, "\n"), nil
	}
	return "", fmt.Errorf("unknown file operation %q", op)
}
