package watchui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/runwatch/internal/model"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Padding(1, 0, 1, 2)

	pickerItemStyle = lipgloss.NewStyle().
			Padding(0, 0, 0, 4)

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 0, 0, 2)

	pickerHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 0, 0, 2)
)

type pickerModel struct {
	runs   []model.Snapshot
	cursor int
	chosen int // -1 = no choice yet, -2 = quit
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.chosen = -2
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.runs)-1 {
				m.cursor++
			}
		case "enter":
			m.chosen = m.cursor
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render("Recent agent runs"))
	b.WriteString("\n")

	for i, r := range m.runs {
		label := runLabel(r)
		if i == m.cursor {
			b.WriteString(pickerSelectedStyle.Render("> "+label) + "\n")
		} else {
			b.WriteString(pickerItemStyle.Render(label) + "\n")
		}
	}

	b.WriteString(pickerHintStyle.Render("↑/↓/j/k navigate  enter watch  q quit"))
	return b.String()
}

func runLabel(r model.Snapshot) string {
	label := fmt.Sprintf("%s  %-9s", r.Handle, r.Status)
	if !r.CreatedAt.IsZero() {
		label += "  " + r.CreatedAt.Local().Format("Jan 02 15:04")
	}
	return label
}

// RunPicker shows an interactive selector over recent runs. It returns the
// chosen run's handle, or ok=false if the user quit.
func RunPicker(runs []model.Snapshot) (handle model.JobHandle, ok bool, err error) {
	if len(runs) == 0 {
		return "", false, fmt.Errorf("no recent runs to pick from")
	}
	m := pickerModel{
		runs:   runs,
		chosen: -1,
	}

	p := tea.NewProgram(m)
	result, err := p.Run()
	if err != nil {
		return "", false, err
	}

	final := result.(pickerModel)
	if final.chosen < 0 {
		return "", false, nil
	}
	return final.runs[final.chosen].Handle, true, nil
}
