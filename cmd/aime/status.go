package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/state"
)

var (
	statusStatePath string
	statusBackend   string
	statusJSON      bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted task tree",
	Long: `Display the task tree stored by the last run.

Shows:
  - Every goal with its subtasks, assigned agents and results
  - Task counts by status with completion and failure rates
  - The number of registered agents`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusStatePath, "state", "", "State file or database path")
	statusCmd.Flags().StringVar(&statusBackend, "backend", "", "State backend: file, sqlite, redis")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the snapshot and stats as JSON")
}

// statusDocument is the --json output.
type statusDocument struct {
	Stats    progress.Stats    `json:"stats"`
	Snapshot progress.Snapshot `json:"snapshot"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	sc := stateConfig(cfg)
	if cmd.Flags().Changed("state") {
		sc.Path = statusStatePath
	}
	if cmd.Flags().Changed("backend") {
		sc.Backend = statusBackend
	}

	ctx := context.Background()
	backend, err := state.Open(ctx, sc)
	if err != nil {
		return fmt.Errorf("open state backend: %w", err)
	}
	defer backend.Close()

	out := cmd.OutOrStdout()
	snap, err := backend.Load(ctx)
	if errors.Is(err, progress.ErrNoSnapshot) {
		fmt.Fprintln(out, "No persisted state. Run 'aime run <goal>' to start.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statusDocument{Stats: snap.Stats(), Snapshot: snap})
	}

	fmt.Fprintf(out, "Snapshot taken %s\n\n", snap.TakenAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprint(out, progress.Report(snap))
	return nil
}
