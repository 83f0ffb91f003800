package watchui

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amishk599/runwatch/internal/jobstate"
	"github.com/amishk599/runwatch/internal/model"
)

type fakeJob struct {
	store     *jobstate.Store
	done      chan struct{}
	cancelled atomic.Bool
}

func newFakeJob() *fakeJob {
	return &fakeJob{store: jobstate.NewStore(), done: make(chan struct{})}
}

func (j *fakeJob) Store() *jobstate.Store { return j.store }
func (j *fakeJob) Cancel()                { j.cancelled.Store(true); j.store.StopPolling() }
func (j *fakeJob) Done() <-chan struct{}  { return j.done }

func newTestModel(job *fakeJob, runs chan []model.Snapshot) watchModel {
	var latest atomic.Pointer[jobstate.State]
	st := job.store.State()
	latest.Store(&st)
	job.store.Subscribe(func(s jobstate.State) { latest.Store(&s) })
	return newWatchModel(job, &latest, make(chan struct{}, 1), runs)
}

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatch_RendersPollingProgress(t *testing.T) {
	job := newFakeJob()
	m := newTestModel(job, nil)

	e := job.store.Reset()
	job.store.Apply(e, func(st *jobstate.State) {
		st.Snapshot = &model.Snapshot{Handle: "t-1", Status: model.StatusRunning}
		st.PollingActive = true
		st.Phase = jobstate.PhasePolling
		st.Attempt = 2.5
	})

	next, _ := m.Update(stateChangedMsg{})
	view := next.(watchModel).View()
	for _, want := range []string{"t-1", "running", "attempt 2.5", "q cancel polling"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestWatch_RendersRetrying(t *testing.T) {
	job := newFakeJob()
	m := newTestModel(job, nil)

	e := job.store.Reset()
	job.store.SetSnapshot(e, model.Snapshot{Handle: "t-1", Status: model.StatusPending})
	job.store.SetAttempt(e, 3)
	job.store.SetTransientError(e, "connection refused")

	next, _ := m.Update(stateChangedMsg{})
	view := next.(watchModel).View()
	if !strings.Contains(view, "retrying") || !strings.Contains(view, "connection refused") {
		t.Errorf("view does not show the retry:\n%s", view)
	}
}

func TestWatch_CompletedQuitsWithResultAndRuns(t *testing.T) {
	job := newFakeJob()
	runs := make(chan []model.Snapshot, 1)
	m := newTestModel(job, runs)

	e := job.store.Reset()
	job.store.Apply(e, func(st *jobstate.State) {
		st.Snapshot = &model.Snapshot{
			Handle: "t-1",
			Status: model.StatusCompleted,
			Result: json.RawMessage(`{"score":87}`),
		}
		st.Phase = jobstate.PhaseCompleted
	})
	runs <- []model.Snapshot{{Handle: "t-1"}, {Handle: "t-0"}}

	next, cmd := m.Update(loopDoneMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("loop exit did not quit the program")
	}

	final := next.(watchModel)
	if final.cancelled {
		t.Error("completed run reported as cancelled")
	}
	if len(final.recent) != 2 {
		t.Errorf("recent = %d runs, want 2", len(final.recent))
	}
	view := final.View()
	if !strings.Contains(view, "completed") || !strings.Contains(view, `"score": 87`) {
		t.Errorf("view missing result:\n%s", view)
	}
	if strings.Contains(view, "q cancel") {
		t.Errorf("finished view still shows key hint:\n%s", view)
	}
}

func TestWatch_FailedShowsError(t *testing.T) {
	job := newFakeJob()
	m := newTestModel(job, nil)

	e := job.store.Reset()
	job.store.Apply(e, func(st *jobstate.State) {
		st.Snapshot = &model.Snapshot{Handle: "t-1", Status: model.StatusFailed, Error: "bad input"}
		st.Phase = jobstate.PhaseFailed
	})

	next, _ := m.Update(loopDoneMsg{})
	view := next.(watchModel).View()
	if !strings.Contains(view, "failed") || !strings.Contains(view, "bad input") {
		t.Errorf("view missing failure:\n%s", view)
	}
}

func TestWatch_QuitKeyCancelsOutsideUpdate(t *testing.T) {
	job := newFakeJob()
	m := newTestModel(job, nil)

	next, cmd := m.Update(key("q"))
	if job.cancelled.Load() {
		t.Fatal("Cancel ran inside Update")
	}
	if cmd == nil {
		t.Fatal("expected cancel command")
	}
	cmd()
	if !job.cancelled.Load() {
		t.Fatal("cancel command did not call Cancel")
	}

	wm := next.(watchModel)
	if !wm.cancelling {
		t.Error("model not marked as cancelling")
	}

	final, _ := wm.Update(loopDoneMsg{})
	if !final.(watchModel).cancelled {
		t.Error("outcome not marked cancelled")
	}
	if !strings.Contains(final.(watchModel).View(), "Polling stopped") {
		t.Errorf("view:\n%s", final.(watchModel).View())
	}
}

func TestWatch_SecondQuitKeyQuitsImmediately(t *testing.T) {
	job := newFakeJob()
	m := newTestModel(job, nil)

	next, _ := m.Update(key("ctrl+c"))
	_, cmd := next.(watchModel).Update(key("ctrl+c"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("second key press did not quit")
	}
}

func TestFormatResult_Truncates(t *testing.T) {
	items := make([]int, 100)
	raw, _ := json.Marshal(items)
	out := formatResult(raw)
	lines := strings.Split(out, "\n")
	if len(lines) != maxResultLines+1 {
		t.Errorf("lines = %d, want %d", len(lines), maxResultLines+1)
	}
	if lines[len(lines)-1] != "…" {
		t.Errorf("last line = %q, want ellipsis", lines[len(lines)-1])
	}
}

func TestPicker_SelectsRun(t *testing.T) {
	m := pickerModel{
		runs:   []model.Snapshot{{Handle: "a", Status: model.StatusCompleted}, {Handle: "b", Status: model.StatusRunning}},
		chosen: -1,
	}

	next, _ := m.Update(key("j"))
	next, _ = next.(pickerModel).Update(key("j")) // already at the end
	next, cmd := next.(pickerModel).Update(tea.KeyMsg{Type: tea.KeyEnter})

	final := next.(pickerModel)
	if final.chosen != 1 {
		t.Errorf("chosen = %d, want 1", final.chosen)
	}
	if cmd == nil {
		t.Error("enter did not quit the picker")
	}
	if !strings.Contains(m.View(), "running") {
		t.Errorf("picker view missing status:\n%s", m.View())
	}
}

func TestRunPicker_NoRuns(t *testing.T) {
	if _, _, err := RunPicker(nil); err == nil {
		t.Fatal("expected error for empty run list")
	}
}
