package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kelvinyan1/aime-reproduction/internal/orchestrator"
	"github.com/kelvinyan1/aime-reproduction/internal/progress"
	"github.com/kelvinyan1/aime-reproduction/pkg/models"
)

// maxTaskRows bounds the subtask table; older rows scroll off the top.
const maxTaskRows = 12

// EventMsg carries one orchestrator event into the program.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the run returns.
type DoneMsg struct {
	Outcome *models.Outcome
	Err     error
}

// eventsClosedMsg reports that the event channel was closed.
type eventsClosedMsg struct{}

// App is the bubbletea model of the run view.
type App struct {
	state  *RunState
	events <-chan orchestrator.Event
	cancel context.CancelFunc

	spinner spinner.Model
	bar     progressbar.Model
	logView viewport.Model

	width    int
	height   int
	finished bool
	quitting bool
	outcome  *models.Outcome
	err      error

	// Styles
	titleStyle   lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	mutedStyle   lipgloss.Style
	runningStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
	kindStyle    lipgloss.Style
	borderStyle  lipgloss.Style
}

// NewApp creates an App reading events from events. cancel, if non-nil,
// is called when the user quits before the run finished.
func NewApp(events <-chan orchestrator.Event, cancel context.CancelFunc) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &App{
		state:   NewRunState(),
		events:  events,
		cancel:  cancel,
		spinner: s,
		bar:     progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(30)),
		logView: viewport.New(80, 8),
		width:   80,
		height:  24,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		mutedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		kindStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Width(10),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),
	}
}

// NewProgram creates the bubbletea program for the run view.
func NewProgram(events <-chan orchestrator.Event, cancel context.CancelFunc) (*tea.Program, *App) {
	app := NewApp(events, cancel)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// State returns the folded run state.
func (a *App) State() *RunState {
	return a.state
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.listen())
}

// listen waits for the next event on the channel.
func (a *App) listen() tea.Cmd {
	if a.events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-a.events
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !a.finished && a.cancel != nil {
				a.cancel()
			}
			a.quitting = true
			return a, tea.Quit
		}
		var cmd tea.Cmd
		a.logView, cmd = a.logView.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = max(msg.Width, 40)
		a.height = msg.Height
		a.layout()

	case spinner.TickMsg:
		if a.finished {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.state.Apply(msg.Event)
		a.layout()
		return a, a.listen()

	case eventsClosedMsg:
		return a, nil

	case DoneMsg:
		a.finished = true
		a.outcome = msg.Outcome
		a.err = msg.Err
		// Keep the final state on screen until the user quits.
	}

	return a, nil
}

// layout sizes the log viewport to the space left under the table and
// refreshes its content.
func (a *App) layout() {
	rows := len(a.state.Tasks)
	if rows > maxTaskRows {
		rows = maxTaskRows
	}
	// Title, goal, status, progress, blank, table header and footer lines.
	used := 9 + rows
	h := a.height - used
	if h < 3 {
		h = 3
	}
	w := a.width - 4
	if w < 20 {
		w = 20
	}
	a.logView.Width = w
	a.logView.Height = h

	atBottom := a.logView.AtBottom()
	a.logView.SetContent(a.renderLog(w))
	if atBottom {
		a.logView.GotoBottom()
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Run view closed.\n"
	}

	var b strings.Builder
	s := a.state

	b.WriteString(a.titleStyle.Render("=== aime ==="))
	if s.RunID != "" {
		b.WriteString(a.mutedStyle.Render("  run " + s.RunID))
	}
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Goal:"))
	b.WriteString(a.valueStyle.Render(progress.Truncate(s.Goal, a.width-14)))
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Status:"))
	b.WriteString(a.renderStatus())
	b.WriteString("\n")

	completed, failed, running := s.Counts()
	b.WriteString(a.labelStyle.Render("Tasks:"))
	b.WriteString(fmt.Sprintf("%s completed, %s failed, %s running, %d total  ",
		a.doneStyle.Render(fmt.Sprintf("%d", completed)),
		a.failedStyle.Render(fmt.Sprintf("%d", failed)),
		a.runningStyle.Render(fmt.Sprintf("%d", running)),
		len(s.Tasks)))
	b.WriteString(a.bar.ViewAs(s.Fraction()))
	b.WriteString("\n\n")

	b.WriteString(a.renderTasks())
	b.WriteString(a.borderStyle.Render(a.logView.View()))
	b.WriteString("\n")

	if a.finished {
		b.WriteString(a.mutedStyle.Render("Run finished. Press q to exit."))
	} else {
		b.WriteString(a.mutedStyle.Render("Press q to abort the run, arrows to scroll the log"))
	}
	b.WriteString("\n")

	return b.String()
}

func (a *App) renderStatus() string {
	s := a.state
	switch {
	case a.finished && a.err != nil:
		return a.failedStyle.Render("halted: " + a.err.Error())
	case a.finished && a.outcome != nil:
		return a.outcomeStyle(a.outcome.Status).Render(fmt.Sprintf("%s after %d round(s): %s",
			a.outcome.Status, a.outcome.Rounds, progress.Truncate(a.outcome.Reason, 60)))
	case s.Done:
		return a.outcomeStyle(s.Status).Render(fmt.Sprintf("%s: %s", s.Status, progress.Truncate(s.Reason, 60)))
	default:
		return fmt.Sprintf("%s round %d, %d step(s)", a.spinner.View(), s.Round, s.Steps)
	}
}

func (a *App) outcomeStyle(status models.RunStatus) lipgloss.Style {
	if status == models.RunCompleted {
		return a.doneStyle
	}
	return a.failedStyle
}

func (a *App) renderTasks() string {
	tasks := a.state.Tasks
	if len(tasks) == 0 {
		return a.mutedStyle.Render("  waiting for a plan...") + "\n"
	}
	if len(tasks) > maxTaskRows {
		tasks = tasks[len(tasks)-maxTaskRows:]
	}

	descWidth := (a.width - 40) / 2
	if descWidth < 16 {
		descWidth = 16
	}

	var b strings.Builder
	for _, t := range tasks {
		kind := t.AgentKind
		if kind == "" {
			kind = "-"
		}
		line := fmt.Sprintf("  %s %s %s  %s",
			a.taskIcon(t.Status),
			a.kindStyle.Render(kind),
			progress.Truncate(t.Description, descWidth),
			a.mutedStyle.Render(progress.Truncate(t.Detail, descWidth)))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) taskIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return a.doneStyle.Render("✓")
	case models.TaskStatusFailed:
		return a.failedStyle.Render("✗")
	case models.TaskStatusRunning:
		return a.runningStyle.Render("●")
	default:
		return a.mutedStyle.Render("○")
	}
}

func (a *App) renderLog(width int) string {
	lines := make([]string, 0, len(a.state.Log))
	for _, l := range a.state.Log {
		msg := progress.Truncate(l.Message, width-16)
		lines = append(lines, fmt.Sprintf("%s %-5s %s",
			a.mutedStyle.Render(l.Timestamp.Format(time.TimeOnly)), l.Kind, msg))
	}
	return strings.Join(lines, "\n")
}
