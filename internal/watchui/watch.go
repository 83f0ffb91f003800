package watchui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/runwatch/internal/jobstate"
	"github.com/amishk599/runwatch/internal/model"
)

const maxResultLines = 40

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Width(10)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	failureStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Padding(0, 0, 0, 2)
)

// Job is the part of the polling machine the watch view drives.
type Job interface {
	Store() *jobstate.Store
	Cancel()
	Done() <-chan struct{}
}

// Outcome is what the watch view saw when it exited.
type Outcome struct {
	State     jobstate.State
	Recent    []model.Snapshot // recent runs, when a history refresh arrived
	Cancelled bool
}

// stateChangedMsg signals that the store has a newer state than the view.
type stateChangedMsg struct{}

// loopDoneMsg is sent when the polling loop has exited.
type loopDoneMsg struct{}

type watchModel struct {
	store   *jobstate.Store
	latest  *atomic.Pointer[jobstate.State]
	changed <-chan struct{}
	done    <-chan struct{}
	runs    <-chan []model.Snapshot
	cancel  func()

	spinner    spinner.Model
	state      jobstate.State
	recent     []model.Snapshot
	cancelling bool
	cancelled  bool
	finished   bool
}

func newWatchModel(job Job, latest *atomic.Pointer[jobstate.State], changed <-chan struct{}, runs <-chan []model.Snapshot) watchModel {
	return watchModel{
		store:   job.Store(),
		latest:  latest,
		changed: changed,
		done:    job.Done(),
		runs:    runs,
		cancel:  job.Cancel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
		state:   *latest.Load(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForChange(), m.waitForLoop())
}

func (m watchModel) waitForChange() tea.Cmd {
	changed := m.changed
	return func() tea.Msg {
		<-changed
		return stateChangedMsg{}
	}
}

func (m watchModel) waitForLoop() tea.Cmd {
	done := m.done
	return func() tea.Msg {
		<-done
		return loopDoneMsg{}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateChangedMsg:
		m.state = *m.latest.Load()
		return m, m.waitForChange()

	case loopDoneMsg:
		m.state = m.store.State()
		select {
		case runs := <-m.runs:
			m.recent = runs
		default:
		}
		m.cancelled = m.cancelling
		m.finished = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancelling {
				// second press: stop waiting for the in-flight call
				m.cancelled = true
				m.finished = true
				return m, tea.Quit
			}
			m.cancelling = true
			// Cancel writes to the store, whose observers feed this program,
			// so it must not run inside Update.
			cancel := m.cancel
			return m, func() tea.Msg {
				cancel()
				return nil
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	st := m.state
	if st.Snapshot != nil {
		b.WriteString(labelStyle.Render("Task") + string(st.Snapshot.Handle) + "\n")
	}

	switch {
	case st.Snapshot != nil && st.Snapshot.Status == model.StatusCompleted:
		b.WriteString(successStyle.Render("✓ Agent run completed") + "\n")
		if res := formatResult(st.Snapshot.Result); res != "" {
			b.WriteString(resultStyle.Render(res) + "\n")
		}
		if len(m.recent) > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("%d recent runs refreshed", len(m.recent))) + "\n")
		}

	case st.Snapshot != nil && st.Snapshot.Status == model.StatusFailed:
		b.WriteString(failureStyle.Render("✗ Agent run failed") + "\n")
		b.WriteString(resultStyle.Render(st.Snapshot.Error) + "\n")

	case m.cancelled || (st.Phase == jobstate.PhaseIdle && m.cancelling):
		b.WriteString(warnStyle.Render("Polling stopped. The job keeps running on the server.") + "\n")
		if st.Snapshot != nil {
			b.WriteString(dimStyle.Render(fmt.Sprintf("Last seen status: %s. Resume with: runwatch watch %s", st.Snapshot.Status, st.Snapshot.Handle)) + "\n")
		}

	case st.Phase == jobstate.PhaseRetrying:
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), warnStyle.Render("Connection problem, retrying")))
		b.WriteString(dimStyle.Render(fmt.Sprintf("%s (attempt %s)", st.TransientError, formatAttempt(st.Attempt))) + "\n")

	case st.Phase == jobstate.PhaseSubmitting:
		b.WriteString(fmt.Sprintf("%s Submitting job...\n", m.spinner.View()))

	default:
		status := model.StatusPending
		if st.Snapshot != nil {
			status = st.Snapshot.Status
		}
		b.WriteString(fmt.Sprintf("%s Job %s %s\n", m.spinner.View(), status, dimStyle.Render("(attempt "+formatAttempt(st.Attempt)+")")))
	}

	if !m.finished {
		hint := "q cancel polling"
		if m.cancelling {
			hint = "waiting for the last status call... q again to quit now"
		}
		b.WriteString(dimStyle.Render(hint) + "\n")
	}
	return b.String()
}

func formatAttempt(a float64) string {
	return fmt.Sprintf("%g", a)
}

// formatResult pretty-prints a JSON result, truncated to maxResultLines.
func formatResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) > maxResultLines {
		lines = append(lines[:maxResultLines], "…")
	}
	return strings.Join(lines, "\n")
}

// RunWatch renders the job's progress inline until the polling loop exits
// or the user stops it. runs may be nil; when set, a refreshed history list
// received before the loop exits is reported in the Outcome.
func RunWatch(job Job, runs <-chan []model.Snapshot) (Outcome, error) {
	var latest atomic.Pointer[jobstate.State]
	changed := make(chan struct{}, 1)
	unsubscribe := job.Store().Subscribe(func(st jobstate.State) {
		latest.Store(&st)
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	initial := job.Store().State()
	latest.CompareAndSwap(nil, &initial)

	p := tea.NewProgram(newWatchModel(job, &latest, changed, runs))
	result, err := p.Run()
	if err != nil {
		return Outcome{}, err
	}

	final := result.(watchModel)
	return Outcome{
		State:     final.state,
		Recent:    final.recent,
		Cancelled: final.cancelled,
	}, nil
}
