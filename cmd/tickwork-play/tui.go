package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/tickwork"
	"github.com/cbegin/tickwork/internal/draw"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	beatOn     = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Bold(true)
	beatOff    = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

const (
	// flashLength is how long a beat stays lit, in audio seconds.
	flashLength = 0.1
	progressBar = 32
)

// view holds what draw callbacks update. Callbacks run inside Update through
// Frame, so the model never races with them.
type view struct {
	beat      int
	flashedAt float64
	loops     int
	lastEvent string
}

type model struct {
	pl    *tickwork.Player
	name  string
	sched *draw.Scheduler
	view  *view
	err   error
}

type frameMsg time.Time

type eventMsg tickwork.Event

type errMsg struct{ err error }

func newModel(pl *tickwork.Player, name string, sched *draw.Scheduler) (model, error) {
	m := model{pl: pl, name: "tickwork: " + name, sched: sched, view: &view{flashedAt: -1}}
	tr := pl.Transport()
	// every quarter note lights the beat it lands on once the audio gets there
	_, err := tr.ScheduleRepeat(func(_ *tickwork.Context, at float64) error {
		_, err := sched.Schedule(func() {
			m.view.beat = beatOf(tr.Position())
			m.view.flashedAt = at
		}, at)
		return err
	}, tickwork.MustParseTime("4n"), tickwork.MustParseTime("0"), nil)
	if err != nil {
		return model{}, err
	}
	tr.Listen(func(ev tickwork.Event) {
		_, _ = sched.Schedule(func() {
			if ev.Kind == tickwork.EventLoop {
				m.view.loops++
			}
			m.view.lastEvent = fmt.Sprintf("%s at %.2fs", ev.Kind, ev.Time)
		}, ev.Time)
	})
	return m, nil
}

// beatOf reads the quarter-note index out of a bars:beats:sixteenths position.
func beatOf(pos string) int {
	parts := strings.Split(pos, ":")
	if len(parts) < 2 {
		return 0
	}
	var beat int
	_, _ = fmt.Sscanf(parts[1], "%d", &beat)
	return beat
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/draw.DefaultFPS, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func listenErrors(pl *tickwork.Player) tea.Cmd {
	return func() tea.Msg {
		return errMsg{<-pl.Errors()}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(frame(), listenErrors(m.pl))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	tr := m.pl.Transport()
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			_ = m.pl.Stop()
			return m, tea.Quit
		case " ":
			if tr.State() == tickwork.Started {
				m.err = m.pl.Pause()
			} else {
				m.err = m.pl.Resume()
			}
		case "s":
			m.err = m.pl.Stop()
		case "l":
			tr.SetLoop(!tr.Loop())
		case "+", "=":
			m.err = tr.SetBPM(tr.BPM() + 5)
		case "-", "_":
			m.err = tr.SetBPM(max(tr.BPM()-5, 5))
		case "up":
			m.pl.SetMasterVolume(m.pl.MasterVolume() + 0.1)
		case "down":
			m.pl.SetMasterVolume(m.pl.MasterVolume() - 0.1)
		}
	case frameMsg:
		m.sched.Frame()
		return m, frame()
	case errMsg:
		m.err = msg.err
		return m, listenErrors(m.pl)
	}
	return m, nil
}

func (m model) View() string {
	tr := m.pl.Transport()
	now := m.pl.Context().CurrentTime()

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.name))
	b.WriteString("\n\n")
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-9s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	row("state", tr.State().String())
	row("position", tr.Position())
	row("tempo", fmt.Sprintf("%.1f bpm", tr.BPM()))
	row("volume", fmt.Sprintf("%.1f", m.pl.MasterVolume()))
	loop := "off"
	if tr.Loop() {
		filled := int(tr.Progress() * float64(progressBar))
		loop = "[" + strings.Repeat("=", filled) + strings.Repeat(" ", progressBar-filled) + "]"
	}
	row("loop", fmt.Sprintf("%s %d", loop, m.view.loops))

	beats := make([]string, tr.TimeSignature())
	lit := m.view.flashedAt >= 0 && now-m.view.flashedAt < flashLength
	for i := range beats {
		if lit && i == m.view.beat {
			beats[i] = beatOn.Render(fmt.Sprintf(" %d ", i+1))
		} else {
			beats[i] = beatOff.Render(fmt.Sprintf(" %d ", i+1))
		}
	}
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, beats...))
	b.WriteString("\n")
	if m.view.lastEvent != "" {
		b.WriteString(labelStyle.Render(m.view.lastEvent))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	out := panelStyle.Render(b.String())
	return out + helpStyle.Render("\nspace play/pause  s stop  l loop  +/- tempo  up/down volume  q quit") + "\n"
}
