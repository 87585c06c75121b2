package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/internal/publish"
)

// newPrinter returns a sink that prints one line per plan and task event.
func newPrinter(w io.Writer) publish.Sink {
	return publish.SinkFunc(func(_ context.Context, ev orchestrator.Event) error {
		printEvent(w, ev)
		return nil
	})
}

func printEvent(w io.Writer, ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventPlanCreated:
		printStatus(w, "▸", fmt.Sprintf("round %d: planned %d subtask(s)", ev.Round, ev.Count), color.FgCyan)
	case orchestrator.EventTaskStarted:
		printStatus(w, "●", fmt.Sprintf("%s started: %s", ev.AgentID, progress.Truncate(ev.Description, 70)), color.FgYellow)
	case orchestrator.EventTaskCompleted:
		printStatus(w, "✓", fmt.Sprintf("%s done in %s: %s", ev.AgentID, ev.Duration.Round(time.Millisecond), progress.Truncate(ev.Message, 70)), color.FgGreen)
	case orchestrator.EventTaskFailed:
		printStatus(w, "✗", fmt.Sprintf("%s failed: %s", progress.Truncate(ev.Description, 50), progress.Truncate(ev.Error, 70)), color.FgRed)
	}
}

func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}
