package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kelvinyan1/aime-reproduction/internal/journal"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Long: `List runs recorded in the run journal, newest first.

Runs that never recorded an outcome were interrupted and show as running.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := cfg.State.Journal
	if path == "" {
		path = journal.DefaultPath()
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.List(context.Background(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tROUNDS\tDURATION\tGOAL\tRUN")
	for _, r := range runs {
		duration := "-"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			statusColor(r.Status).Sprint(r.Status),
			r.Rounds,
			duration,
			progress.Truncate(r.Goal, 48),
			r.ID)
	}
	return tw.Flush()
}

func statusColor(status string) *color.Color {
	switch models.RunStatus(status) {
	case models.RunCompleted:
		return color.New(color.FgGreen)
	case models.RunStalled:
		return color.New(color.FgYellow)
	case models.RunAborted:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}
