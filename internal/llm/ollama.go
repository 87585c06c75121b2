package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	olla "github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama completes prompts with a local Ollama server.
type Ollama struct {
	client  *olla.Client
	model   string
	tracker *TokenTracker
}

// NewOllama creates an Ollama backend. An empty baseURL targets the default
// local server.
func NewOllama(model, baseURL string) (*Ollama, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{
		client:  olla.NewClient(parsed, hc),
		model:   model,
		tracker: NewTokenTracker(),
	}, nil
}

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

// Tracker returns the token tracker for this backend.
func (o *Ollama) Tracker() *TokenTracker { return o.tracker }

// Complete runs a non-streaming generate call.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	stream := false
	genReq := &olla.GenerateRequest{
		Model:  o.model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: &stream,
	}
	if req.MaxTokens > 0 {
		genReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var text strings.Builder
	err := o.client.Generate(ctx, genReq, func(resp olla.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			o.tracker.Add(int64(resp.PromptEvalCount), int64(resp.EvalCount))
		}
		return nil
	})
	if err != nil {
		var statusErr olla.StatusError
		status := 0
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		return "", classify(err, status)
	}

	if strings.TrimSpace(text.String()) == "" {
		return "", NewError(Unparsable, errEmptyResponse)
	}
	return text.String(), nil
}
