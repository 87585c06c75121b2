// Package factory turns subtask descriptions into configured agents.
//
// Classification is an ordered keyword table: the first template with a
// matching keyword wins, and descriptions that match nothing get a
// researcher. The chosen template's toolkit is intersected with the
// capability registry, and the new agent's record is registered in the
// progress store before the agent is returned.
package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/agent"
	"github.com/kelvinyan1/aime-reproduction/internal/llm"
	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/retry"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// ErrNoCapabilityMatch is returned when a template that requires tools
// ends up with none of them available.
var ErrNoCapabilityMatch = errors.New("no capability match")

// Registrar stores agent records.
type Registrar interface {
	RegisterAgent(rec models.AgentRecord) error
	HasAgent(agentID string) bool
}

// Registry lists and runs capabilities.
type Registry interface {
	agent.Invoker
	Names() []string
}

// Selection is the result of classifying a description.
type Selection struct {
	Kind    Kind
	Keyword string
	Reason  string
}

// Factory creates agents.
type Factory struct {
	templates []Template
	store     Registrar
	registry  Registry
	completer llm.Completer

	maxIterations int
	retry         retry.Policy
	stop          agent.StopPolicy
	maxTokens     int
	onStep        agent.StepObserver
	log           *logrus.Entry

	mu       sync.Mutex
	counters map[Kind]int
}

// Option configures a Factory.
type Option func(*Factory)

// WithTemplates replaces the default templates.
func WithTemplates(t []Template) Option {
	return func(f *Factory) { f.templates = t }
}

// WithMaxIterations sets the loop bound for created agents.
func WithMaxIterations(n int) Option {
	return func(f *Factory) { f.maxIterations = n }
}

// WithRetryPolicy sets the retry policy for created agents.
func WithRetryPolicy(p retry.Policy) Option {
	return func(f *Factory) { f.retry = p }
}

// WithStopPolicy sets the stop policy for created agents.
func WithStopPolicy(p agent.StopPolicy) Option {
	return func(f *Factory) { f.stop = p }
}

// WithMaxTokens caps completions made by created agents.
func WithMaxTokens(n int) Option {
	return func(f *Factory) { f.maxTokens = n }
}

// WithStepObserver attaches a step hook to created agents.
func WithStepObserver(fn agent.StepObserver) Option {
	return func(f *Factory) { f.onStep = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *logrus.Entry) Option {
	return func(f *Factory) { f.log = l }
}

// New creates a factory.
func New(store Registrar, registry Registry, completer llm.Completer, opts ...Option) *Factory {
	f := &Factory{
		templates: DefaultTemplates(),
		store:     store,
		registry:  registry,
		completer: completer,
		retry:     retry.Default(),
		counters:  make(map[Kind]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = logging.OrDefault(f.log, "factory")
	return f
}

// Templates returns the templates in match order.
func (f *Factory) Templates() []Template {
	return append([]Template(nil), f.templates...)
}

// Classify picks the template for description.
func (f *Factory) Classify(description string) Selection {
	return Classify(f.templates, description)
}

// Classify picks the first template with a matching keyword, falling back
// to Researcher.
func Classify(templates []Template, description string) Selection {
	for _, t := range templates {
		if kw, ok := t.Matches(description); ok {
			return Selection{
				Kind:    t.Kind,
				Keyword: kw,
				Reason:  fmt.Sprintf("matched keyword %q", kw),
			}
		}
	}
	return Selection{Kind: Researcher, Reason: "no keyword matched, using fallback"}
}

func (f *Factory) template(k Kind) (Template, bool) {
	for _, t := range f.templates {
		if t.Kind == k {
			return t, true
		}
	}
	return Template{}, false
}

// Create builds and registers an agent for description.
func (f *Factory) Create(description string) (*agent.Agent, error) {
	sel := f.Classify(description)
	tmpl, ok := f.template(sel.Kind)
	if !ok {
		return nil, fmt.Errorf("no template for kind %s", sel.Kind)
	}

	available := make(map[string]bool)
	for _, name := range f.registry.Names() {
		available[name] = true
	}
	var caps, dropped []string
	for _, c := range tmpl.Capabilities {
		if available[c] {
			caps = append(caps, c)
		} else {
			dropped = append(dropped, c)
		}
	}
	if len(dropped) > 0 {
		f.log.WithFields(logrus.Fields{"kind": sel.Kind.String(), "dropped": dropped}).Debug("capabilities not in registry")
	}
	if len(caps) == 0 && tmpl.RequiresCapability {
		return nil, fmt.Errorf("%s template for %q: %w", sel.Kind, truncate(description), ErrNoCapabilityMatch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var id string
	for {
		f.counters[sel.Kind]++
		id = fmt.Sprintf("%s_%d", sel.Kind, f.counters[sel.Kind])
		if !f.store.HasAgent(id) {
			break
		}
	}

	a := agent.New(agent.Config{
		ID:            id,
		Kind:          sel.Kind.String(),
		Persona:       tmpl.Persona,
		Capabilities:  caps,
		Completer:     f.completer,
		Tools:         f.registry,
		Store:         storeWriter(f.store),
		MaxIterations: f.maxIterations,
		Retry:         f.retry,
		Stop:          f.stop,
		MaxTokens:     f.maxTokens,
		OnStep:        f.onStep,
		Log:           f.log.WithField("component", "agent"),
	})

	if err := f.store.RegisterAgent(a.Record()); err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}

	f.log.WithFields(logrus.Fields{
		"agent_id":     id,
		"kind":         sel.Kind.String(),
		"reason":       sel.Reason,
		"capabilities": caps,
	}).Info("agent created")
	return a, nil
}

// storeWriter returns the registrar as a StatusWriter when it is one.
func storeWriter(r Registrar) agent.StatusWriter {
	if w, ok := r.(agent.StatusWriter); ok {
		return w
	}
	return nil
}

func truncate(s string) string {
	return progress.Truncate(s, 60)
}
