// Package llm is the completion service boundary. Agents and the planner
// depend only on Completer; provider adapters translate to the Anthropic
// (direct or Bedrock), OpenAI-compatible and Ollama APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Request is a single prompt-in, text-out completion call.
type Request struct {
	// System is the system prompt.
	System string
	// Prompt is the user prompt.
	Prompt string
	// MaxTokens caps the response length. Zero uses the backend default.
	MaxTokens int
	// Purpose tags the caller ("agent", "planner") for logs and metrics.
	Purpose string
}

// Completer turns a prompt into response text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ErrorKind classifies completion failures.
type ErrorKind int

const (
	// Transport is a connection or server failure.
	Transport ErrorKind = iota
	// Timeout is a call that exceeded its deadline.
	Timeout
	// RateLimited is a provider throttling response.
	RateLimited
	// Unparsable is a response without usable text.
	Unparsable
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	case RateLimited:
		return "rate_limited"
	case Unparsable:
		return "unparsable"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by every backend.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError returns an *Error of the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of a completion error, or Transport for errors
// that were never classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transport
}

// Classify wraps err in an *Error, inferring the kind from context and
// network errors. Errors that are already classified pass through.
func Classify(err error) error {
	return classify(err, 0)
}

// classify is Classify with an HTTP status extracted by a backend.
func classify(err error, status int) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	kind := Transport
	var netErr net.Error
	switch {
	case status == http.StatusTooManyRequests:
		kind = RateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = Timeout
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = Timeout
	}
	return &Error{Kind: kind, Err: err}
}

// errEmptyResponse is wrapped as Unparsable when a backend returns no text.
var errEmptyResponse = errors.New("response contained no text")
