// Package tui provides a read-only terminal view of a running goal.
//
// The view consumes orchestrator events and shows the planning round, one
// row per subtask with its agent and latest step, and a scrolling activity
// log. It does not accept input besides scrolling and quitting.
//
// Usage:
//
//	sink := publish.NewChanSink(256)
//	program, app := tui.NewProgram(sink.C(), cancel)
//	go func() {
//	    outcome, err := orch.Run(ctx, goal)
//	    program.Send(tui.DoneMsg{Outcome: outcome, Err: err})
//	}()
//	program.Run()
//
// Quitting before the run finishes calls cancel, which aborts the run.
package tui
