package llm

import (
	"fmt"
	"sync"
)

// Usage is a point-in-time total of completion token usage.
type Usage struct {
	Calls  int
	Input  int64
	Output int64
}

// Cost estimates the USD cost at $3 per million input and $15 per million
// output tokens. Local backends report the same shape but cost nothing.
func (u Usage) Cost() float64 {
	return float64(u.Input)/1_000_000*3.0 + float64(u.Output)/1_000_000*15.0
}

func (u Usage) String() string {
	return fmt.Sprintf("%d call(s), %d in / %d out tokens", u.Calls, u.Input, u.Output)
}

// TokenTracker accumulates Usage across completion calls. A nil tracker
// ignores additions.
type TokenTracker struct {
	mu    sync.Mutex
	usage Usage
}

func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records one call.
func (t *TokenTracker) Add(input, output int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.usage.Calls++
	t.usage.Input += input
	t.usage.Output += output
	t.mu.Unlock()
}

// Usage returns the totals so far.
func (t *TokenTracker) Usage() Usage {
	if t == nil {
		return Usage{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Tracked is implemented by backends that report token usage.
type Tracked interface {
	Tracker() *TokenTracker
}

// UsageOf returns the usage reported by c, if it tracks any.
func UsageOf(c Completer) (Usage, bool) {
	t, ok := c.(Tracked)
	if !ok {
		return Usage{}, false
	}
	return t.Tracker().Usage(), true
}
