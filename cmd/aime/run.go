package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kelvinyan1/aime-reproduction/internal/config"
	"github.com/kelvinyan1/aime-reproduction/internal/llm"
	"github.com/kelvinyan1/aime-reproduction/internal/logging"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// shutdownTimeout bounds the status server shutdown.
const shutdownTimeout = 5 * time.Second

var (
	runParallel      bool
	runMaxRounds     int
	runTimeout       time.Duration
	runMaxIterations int
	runRetryBudget   int
	runProvider      string
	runModel         string
	runStatePath     string
	runBackend       string
	runScript        string
	runTUI           bool
	runServe         string
	runResume        string
	runEventsFile    string
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Drive a goal to completion",
	Long: `Run plans the goal into subtasks, creates an agent per subtask and
re-plans from the results until the goal completes, the planner finds no
further work, or a budget runs out.

The run ends with one of three statuses:
  completed  every subtask of the goal completed; the run ends at once
             without asking the planner again
  stalled    the planner reported no further work but some subtasks failed
  aborted    the round budget, the timeout or a stop signal ended the run

The task tree is persisted after every change. Use --resume <goal-id> to
continue a goal from the persisted state after an interruption.

For offline runs use --provider scripted --script replies.yaml, where the
file lists the completions to return in order.

The process exits non-zero unless the run completed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if runResume != "" && len(args) > 0 {
			return fmt.Errorf("--resume does not take a goal")
		}
		if runResume == "" && len(args) == 0 {
			return fmt.Errorf("requires a goal")
		}
		return nil
	},
	RunE: runGoal,
}

func init() {
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "Dispatch the subtasks of a round concurrently")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "Maximum plan/dispatch rounds (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Wall-clock budget for the run (default from config)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Maximum think/act steps per agent (default from config)")
	runCmd.Flags().IntVar(&runRetryBudget, "retry-budget", 0, "Retries per completion or tool call; negative disables retries")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "Completion provider: anthropic, bedrock, openai, ollama, scripted")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model name for the provider")
	runCmd.Flags().StringVar(&runStatePath, "state", "", "State file or database path")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "State backend: file, sqlite, redis")
	runCmd.Flags().StringVar(&runScript, "script", "", "Reply file for the scripted provider")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live terminal view")
	runCmd.Flags().StringVar(&runServe, "serve", "", "Serve status and metrics on this address, e.g. :8080")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume a persisted goal by task ID")
	runCmd.Flags().StringVar(&runEventsFile, "events", "", "Append run events as JSON lines to this file")
}

// applyRunFlags overrides configuration with the flags that were set.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		c.Orchestrator.Parallel = runParallel
	}
	if flags.Changed("max-rounds") {
		c.Orchestrator.MaxRounds = runMaxRounds
	}
	if flags.Changed("timeout") {
		c.Orchestrator.Timeout = runTimeout
	}
	if flags.Changed("max-iterations") {
		c.Agent.MaxIterations = runMaxIterations
	}
	if flags.Changed("retry-budget") {
		c.Agent.RetryBudget = runRetryBudget
	}
	if flags.Changed("provider") {
		c.LLM.Provider = runProvider
	}
	if flags.Changed("model") {
		c.LLM.Model = runModel
	}
	if flags.Changed("state") {
		c.State.Path = runStatePath
	}
	if flags.Changed("backend") {
		c.State.Backend = runBackend
	}
	if flags.Changed("script") {
		c.LLM.Script = runScript
		if !flags.Changed("provider") {
			c.LLM.Provider = "scripted"
		}
	}
	if flags.Changed("serve") {
		c.Server.Addr = runServe
	}
	if flags.Changed("events") {
		c.Events.File = runEventsFile
	}
}

func runGoal(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, cfg)
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := runtimeOptions{view: runTUI}
	if runTUI {
		// Log lines would corrupt the alt screen.
		if err := logging.Init(cfg.Log.Level, logging.Format(cfg.Log.Format), io.Discard); err != nil {
			return err
		}
	} else {
		opts.printer = out
	}

	rt, err := newRuntime(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	start := func(ctx context.Context) (*models.Outcome, error) {
		if runResume != "" {
			return rt.orch.Resume(ctx, runResume)
		}
		return rt.orch.Run(ctx, strings.Join(args, " "))
	}

	var outcome *models.Outcome
	if runTUI {
		outcome, err = runWithTUI(ctx, cancel, rt, start)
	} else {
		outcome, err = start(ctx)
	}
	rt.finish()
	if err != nil {
		return err
	}

	usage, _ := llm.UsageOf(rt.completer)
	printOutcome(out, outcome, usage)
	if outcome.Status != models.RunCompleted {
		return &exitError{code: 2, msg: fmt.Sprintf("run %s: %s", outcome.Status, outcome.Reason)}
	}
	return nil
}

// printOutcome prints the run status, reason and result, plus token usage
// when the backend reported any.
func printOutcome(w io.Writer, o *models.Outcome, usage llm.Usage) {
	fmt.Fprintln(w)
	switch o.Status {
	case models.RunCompleted:
		printStatus(w, "✓", fmt.Sprintf("completed in %d round(s)", o.Rounds), color.FgGreen)
	case models.RunStalled:
		printStatus(w, "⚠", fmt.Sprintf("stalled after %d round(s): %s", o.Rounds, o.Reason), color.FgYellow)
	default:
		printStatus(w, "✗", fmt.Sprintf("%s after %d round(s): %s", o.Status, o.Rounds, o.Reason), color.FgRed)
	}
	fmt.Fprintf(w, "  goal:   %s\n", o.GoalID)
	fmt.Fprintf(w, "  run:    %s\n", o.RunID)
	fmt.Fprintf(w, "  took:   %s\n", o.EndedAt.Sub(o.StartedAt).Round(time.Millisecond))
	if usage.Calls > 0 {
		fmt.Fprintf(w, "  tokens: %s (~$%.4f)\n", usage, usage.Cost())
	}
	if o.Result != "" {
		fmt.Fprintf(w, "\n%s\n", o.Result)
	}
}
