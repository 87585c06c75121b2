package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/kelvinyan1/aime-reproduction/internal/agent"
	"github.com/kelvinyan1/aime-reproduction/internal/capability"
	"github.com/kelvinyan1/aime-reproduction/internal/config"
	"github.com/kelvinyan1/aime-reproduction/internal/factory"
	"github.com/kelvinyan1/aime-reproduction/internal/journal"
	"github.com/kelvinyan1/aime-reproduction/internal/llm"
	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/internal/metrics"
	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
	"github.com/kelvinyan1/aime-reproduction/internal/planner"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/publish"
	"github.com/kelvinyan1/aime-reproduction/internal/retry"
	"github.com/kelvinyan1/aime-reproduction/internal/server"
	"github.com/kelvinyan1/aime-reproduction/internal/state"
)

// runtime holds everything a run needs and releases it in Close.
type runtime struct {
	store     *progress.Store
	completer llm.Completer
	backend   state.Backend
	journal   *journal.Journal
	orch      *orchestrator.Orchestrator
	stop      *orchestrator.StopWatcher
	debug     *orchestrator.DebugLogger
	pump      *publish.Pump
	server    *server.Server
	view      *publish.ChanSink
	log       *logrus.Entry

	closers []io.Closer
}

// runtimeOptions selects the optional outputs of a run.
type runtimeOptions struct {
	// view adds a channel sink for the terminal view.
	view bool
	// printer receives a line per task event in headless mode.
	printer io.Writer
}

// stateConfig maps the configuration onto the state backend settings.
func stateConfig(c *config.Config) state.Config {
	return state.Config{
		Backend: c.State.Backend,
		Path:    c.State.Path,
		Keep:    c.State.Keep,
		Redis: state.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Key:      c.Redis.Key,
		},
	}
}

// newRuntime wires store, completer, tools, factory, planner and
// orchestrator together with the configured persistence and event sinks.
func newRuntime(ctx context.Context, c *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{log: logging.For("cli")}
	ready := false
	defer func() {
		if !ready {
			rt.Close()
		}
	}()

	backend, err := state.Open(ctx, stateConfig(c))
	if err != nil {
		return nil, fmt.Errorf("open state backend: %w", err)
	}
	rt.backend = backend
	rt.store = progress.Open(ctx, backend)

	apiKey := c.LLM.APIKey
	if config.NeedsAPIKey(c.LLM.Provider) {
		// A missing key is reported by the provider client itself.
		apiKey, _ = config.GetAPIKey(c)
	}
	completer, err := llm.New(llm.Config{
		Provider:   c.LLM.Provider,
		Model:      c.LLM.Model,
		APIKey:     apiKey,
		BaseURL:    c.LLM.BaseURL,
		AWSRegion:  c.LLM.AWSRegion,
		AWSProfile: c.LLM.AWSProfile,
		ScriptPath: c.LLM.Script,
	})
	if err != nil {
		return nil, fmt.Errorf("create completer: %w", err)
	}
	rt.completer = completer

	policy := retry.Policy{
		Budget: c.Agent.RetryBudget,
		Base:   c.Agent.Backoff,
		Max:    c.Agent.MaxBackoff,
	}
	emitter := orchestrator.NewEventEmitter(c.Events.Buffer)

	factoryOpts := []factory.Option{
		factory.WithMaxIterations(c.Agent.MaxIterations),
		factory.WithRetryPolicy(policy),
		factory.WithStopPolicy(agent.ParseStopPolicy(c.Agent.StopPolicy)),
		factory.WithMaxTokens(c.LLM.MaxTokens),
		factory.WithStepObserver(emitter.StepObserver()),
	}
	if c.Agent.Templates != "" {
		templates, err := factory.LoadTemplates(c.Agent.Templates)
		if err != nil {
			return nil, err
		}
		factoryOpts = append(factoryOpts, factory.WithTemplates(templates))
	}
	agents := factory.New(rt.store, capability.Builtins(c.Capabilities.Root), completer, factoryOpts...)
	plans := planner.New(completer,
		planner.WithRetryPolicy(policy),
		planner.WithMaxTokens(c.LLM.MaxTokens))

	orchOpts := []orchestrator.Option{
		orchestrator.WithMaxRounds(c.Orchestrator.MaxRounds),
		orchestrator.WithTimeout(c.Orchestrator.Timeout),
		orchestrator.WithParallel(c.Orchestrator.Parallel),
		orchestrator.WithMaxAgents(c.Orchestrator.MaxAgents),
		orchestrator.WithPersister(backend),
		orchestrator.WithEmitter(emitter),
	}

	rt.debug, err = orchestrator.NewDebugLogger(c.Orchestrator.DebugLog)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	orchOpts = append(orchOpts, orchestrator.WithLogger(rt.debug))

	if c.Orchestrator.SignalsDir != "" {
		orchestrator.ClearSignals(c.Orchestrator.SignalsDir)
		rt.stop, err = orchestrator.NewStopWatcher(c.Orchestrator.SignalsDir)
		if err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, orchestrator.WithStopWatcher(rt.stop))
	}

	journalPath := c.State.Journal
	if journalPath == "" {
		journalPath = journal.DefaultPath()
	}
	if j, err := journal.Open(journalPath); err != nil {
		// The journal is optional - log warning and continue
		rt.log.WithError(err).Warn("run journal unavailable")
	} else {
		rt.journal = j
		orchOpts = append(orchOpts, orchestrator.WithJournal(j))
	}

	sinks, err := rt.sinks(c, opts)
	if err != nil {
		return nil, err
	}

	rt.orch = orchestrator.New(orchestrator.RequiredConfig{
		Store:   rt.store,
		Planner: plans,
		Factory: agents,
	}, orchOpts...)

	// The pump outlives the run context so that run_done is always delivered.
	rt.pump = publish.NewPump(sinks...)
	rt.pump.Start(context.Background(), rt.orch.Events())
	ready = true
	return rt, nil
}

// sinks builds the event sinks and, when configured, the status server.
func (rt *runtime) sinks(c *config.Config, opts runtimeOptions) (sinks []publish.Sink, err error) {
	defer func() {
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
		}
	}()

	if c.Events.File != "" {
		s, err := publish.NewJSONLSink(c.Events.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(c.Events.KafkaBrokers) > 0 {
		s, err := publish.NewKafkaSink(c.Events.KafkaBrokers, c.Events.KafkaTopic)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}
	if c.Server.Addr != "" {
		collector := metrics.New()
		sinks = append(sinks, collector)
		rt.server = server.New(rt.store, server.WithMetrics(collector.Handler()))
		addr, err := rt.server.Start(c.Server.Addr)
		if err != nil {
			rt.server = nil
			return sinks, fmt.Errorf("start status server: %w", err)
		}
		rt.log.WithField("addr", addr).Info("status server listening")
	}
	if opts.view {
		rt.view = publish.NewChanSink(c.Events.Buffer)
		sinks = append(sinks, rt.view)
	}
	if opts.printer != nil {
		sinks = append(sinks, newPrinter(opts.printer))
	}
	return sinks, nil
}

// finish closes the event stream and waits until every sink has drained.
func (rt *runtime) finish() {
	if rt.orch == nil {
		return
	}
	rt.orch.Close()
	rt.pump.Wait()
}

// Close releases every resource. It is safe to call after finish.
func (rt *runtime) Close() {
	rt.finish()
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := rt.server.Shutdown(ctx); err != nil {
			rt.log.WithError(err).Warn("status server shutdown")
		}
		cancel()
	}
	if rt.stop != nil {
		rt.stop.Close()
	}
	if rt.debug != nil {
		rt.debug.Close()
	}
	if rt.journal != nil {
		rt.journal.Close()
	}
	if rt.backend != nil {
		rt.backend.Close()
	}
}
