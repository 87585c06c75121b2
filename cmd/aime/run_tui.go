package main

import (
	"context"
	"fmt"

	"github.com/kelvinyan1/aime-reproduction/internal/tui"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

type runResult struct {
	outcome *models.Outcome
	err     error
}

// runWithTUI runs start in the background while the terminal view is shown.
// Quitting the view before the run finishes cancels the run; the call still
// waits for the outcome so that the final state is persisted.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, rt *runtime, start func(context.Context) (*models.Outcome, error)) (*models.Outcome, error) {
	program, _ := tui.NewProgram(rt.view.C(), cancel)

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("PANIC in orchestrator: %v", r)}
			}
		}()
		outcome, err := start(ctx)
		program.Send(tui.DoneMsg{Outcome: outcome, Err: err})
		done <- runResult{outcome: outcome, err: err}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		res := <-done
		if res.err != nil {
			return nil, res.err
		}
		return res.outcome, fmt.Errorf("terminal view: %w", err)
	}

	res := <-done
	return res.outcome, res.err
}
