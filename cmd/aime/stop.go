package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the running goal in this directory to stop",
	Long: `Write a stop signal into the signals directory (orchestrator.signals_dir).

A run watching that directory aborts with "stop requested": agents in flight
are cancelled, the task tree is persisted and the run reports its outcome.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Orchestrator.SignalsDir
		if dir == "" {
			return fmt.Errorf("orchestrator.signals_dir is not configured")
		}
		if err := orchestrator.RequestStop(dir); err != nil {
			return fmt.Errorf("write stop signal: %w", err)
		}
		printStatus(cmd.OutOrStdout(), "✓", "Stop requested in "+dir, color.FgGreen)
		return nil
	},
}
