package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

// ErrScriptExhausted is returned when a scripted backend runs out of replies.
var ErrScriptExhausted = errors.New("script exhausted")

// Reply is one scripted response: text, or a failure of the given kind.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Text returns a reply that succeeds with s.
func Text(s string) Reply { return Reply{Text: s} }

// Fail returns a reply that fails with the given kind.
func Fail(kind ErrorKind) Reply {
	return Reply{Err: NewError(kind, fmt.Errorf("scripted %s", kind))}
}

// Scripted replays canned replies. Replies are queued per request purpose;
// a request whose purpose has no queue draws from the shared queue.
// It is safe for concurrent use.
type Scripted struct {
	mu     sync.Mutex
	queues map[string][]Reply
	calls  []Request
}

// NewScripted returns a backend that replays replies in order for any purpose.
func NewScripted(replies ...Reply) *Scripted {
	s := &Scripted{queues: make(map[string][]Reply)}
	s.Add("", replies...)
	return s
}

// Add queues replies for purpose ("" for the shared queue).
func (s *Scripted) Add(purpose string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[purpose] = append(s.queues[purpose], replies...)
	return s
}

// Calls returns a copy of every request received so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Remaining returns the number of replies not yet consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Complete returns the next reply for the request's purpose.
func (s *Scripted) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	key := req.Purpose
	if len(s.queues[key]) == 0 {
		key = ""
	}
	q := s.queues[key]
	if len(q) == 0 {
		s.mu.Unlock()
		return "", NewError(Transport, ErrScriptExhausted)
	}
	reply := q[0]
	s.queues[key] = q[1:]
	s.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", classify(ctx.Err(), 0)
		case <-timer.C:
		}
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Text, nil
}

// scriptEntry is one item of a script file.
type scriptEntry struct {
	Purpose string `yaml:"purpose"`
	Text    string `yaml:"text"`
	Error   string `yaml:"error"`
	Delay   string `yaml:"delay"`
}

// LoadScript reads a YAML list of replies:
//
//   - purpose: planner
//     text: '{"tasks":[{"description":"compute 123+456"}]}'
//   - purpose: agent
//     error: timeout
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	var entries []scriptEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}

	s := NewScripted()
	for i, e := range entries {
		var reply Reply
		if e.Error != "" {
			kind, err := ParseErrorKind(e.Error)
			if err != nil {
				return nil, fmt.Errorf("script entry %d: %w", i, err)
			}
			reply = Fail(kind)
		} else {
			reply = Text(e.Text)
		}
		if e.Delay != "" {
			d, err := time.ParseDuration(e.Delay)
			if err != nil {
				return nil, fmt.Errorf("script entry %d: delay: %w", i, err)
			}
			reply.Delay = d
		}
		s.Add(e.Purpose, reply)
	}
	return s, nil
}

// ParseErrorKind converts a kind name back to an ErrorKind.
func ParseErrorKind(name string) (ErrorKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "transport":
		return Transport, nil
	case "timeout":
		return Timeout, nil
	case "rate_limited", "ratelimited":
		return RateLimited, nil
	case "unparsable":
		return Unparsable, nil
	default:
		return 0, fmt.Errorf("unknown error kind %q", name)
	}
}
