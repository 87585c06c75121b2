// Package capability holds the named tools agents may invoke.
//
// The registry is read-only once built; lookups and invocations are safe
// for concurrent use. Invoke fails with ErrUnknownCapability for unbound
// names and with *ExecutionError when the tool itself fails.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCapability is returned for names that are not registered.
var ErrUnknownCapability = errors.New("unknown capability")

// ExecutionError reports a capability that ran and failed.
type ExecutionError struct {
	Capability string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Capability, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Capability is a named tool that maps text input to text output.
type Capability interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}

// Func adapts a function to Capability.
type Func struct {
	ToolName string
	Help     string
	Fn       func(ctx context.Context, input string) (string, error)
}

// Name returns the tool name.
func (f Func) Name() string { return f.ToolName }

// Description returns the help text.
func (f Func) Description() string { return f.Help }

// Invoke calls Fn.
func (f Func) Invoke(ctx context.Context, input string) (string, error) {
	return f.Fn(ctx, input)
}

// Registry maps capability names to implementations.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry returns a registry holding caps.
func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[string]Capability)}
	for _, c := range caps {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a capability.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Describe returns the help text of name, or "" if unknown.
func (r *Registry) Describe(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.caps[name]; ok {
		return c.Description()
	}
	return ""
}

// Invoke runs the named capability.
func (r *Registry) Invoke(ctx context.Context, name, input string) (string, error) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownCapability)
	}

	if err := ctx.Err(); err != nil {
		return "", context.Cause(ctx)
	}
	out, err := c.Invoke(ctx, input)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return "", err
		}
		return "", &ExecutionError{Capability: name, Err: err}
	}
	return out, nil
}

// Builtins returns a registry with every builtin tool. File tools are
// confined to root.
func Builtins(root string) *Registry {
	return NewRegistry(
		Calculator(),
		DataAnalysis(),
		Search(root),
		Summarizer(),
		FileOps(root),
		TextProcessing(),
	)
}
