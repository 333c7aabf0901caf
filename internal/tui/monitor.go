// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lipsync/internal/analysis"
	"lipsync/internal/events"
)

const (
	logLines = 8
	barWidth = 40
)

var (
	visemeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 2).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8A8A8")).
			Width(12)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type eventMsg struct {
	name events.Name
	ev   events.Event
}

type feedClosedMsg struct{}

// Feed buffers engine events for a Monitor. The listener never blocks the
// engine: events that arrive while the buffer is full are counted and
// dropped.
type Feed struct {
	c         chan eventMsg
	dropped   atomic.Uint64
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewFeed(depth int) *Feed {
	if depth <= 0 {
		depth = 64
	}
	return &Feed{c: make(chan eventMsg, depth)}
}

// Listener is registered with Emitter.OnAny.
func (f *Feed) Listener() events.AnyListener {
	return func(name events.Name, ev events.Event) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.closed {
			return
		}
		select {
		case f.c <- eventMsg{name: name, ev: ev}:
		default:
			f.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to a full buffer.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Close ends the feed; a Monitor reading it quits once the buffer drains.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		close(f.c)
		f.mu.Unlock()
	})
}

func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-f.c
		if !ok {
			return feedClosedMsg{}
		}
		return msg
	}
}

// MonitorModel is a terminal renderer for viseme frames and playback state.
type MonitorModel struct {
	title    string
	feed     *Feed
	frame    analysis.Frame
	pos      events.Position
	frames   uint64
	log      []string
	bar      progress.Model
	quitting bool
}

// NewMonitorModel builds a monitor reading from feed.
func NewMonitorModel(title string, feed *Feed) MonitorModel {
	return MonitorModel{
		title: title,
		feed:  feed,
		frame: analysis.SilentFrame(),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return m.feed.wait()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))) {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		w := msg.Width - labelStyle.GetWidth() - 4
		m.bar.Width = max(10, min(w, 80))

	case feedClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case eventMsg:
		m = m.apply(msg)
		return m, m.feed.wait()
	}
	return m, nil
}

func (m MonitorModel) apply(msg eventMsg) MonitorModel {
	switch ev := msg.ev.(type) {
	case events.Viseme:
		m.frame = ev.Frame
		m.frames++
	case events.Position:
		m.pos = ev
	default:
		line := string(msg.name)
		switch ev := ev.(type) {
		case events.BufferUnderrun:
			line = fmt.Sprintf("%s at %.0fms", msg.name, ev.TimeMs)
		case events.BufferOverflow:
			line = fmt.Sprintf("%s (%d samples)", msg.name, ev.Dropped)
		case events.SourceAttached:
			line = fmt.Sprintf("%s (%s)", msg.name, ev.Kind)
		case events.AnalysisStarted:
			line = fmt.Sprintf("%s (%s)", msg.name, ev.Mode)
		}
		// The slice is copied so the previous model value stays intact.
		log := append(make([]string, 0, logLines), m.log...)
		log = append(log, line)
		if len(log) > logLines {
			log = log[len(log)-logLines:]
		}
		m.log = log
	}
	return m
}

func (m MonitorModel) row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}
	f := m.frame
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.title) + "\n\n")
	sb.WriteString(visemeStyle.Render(fmt.Sprintf("%-3s", f.Viseme)) + "  ")
	sb.WriteString(fmt.Sprintf("%s  %s\n", f.Coarse, dimStyle.Render(f.Viseme.Label())))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%s → %s  %3.0f%%", f.Transition.From, f.Transition.To, f.Transition.Progress*100)) + "\n\n")

	sb.WriteString(m.row("intensity", m.bar.ViewAs(f.Intensity)))
	sb.WriteString(m.row("confidence", m.bar.ViewAs(f.Confidence)))
	sb.WriteString(m.row("open", m.bar.ViewAs(f.Shape.Open)))
	sb.WriteString(m.row("width", m.bar.ViewAs(f.Shape.Width)))
	sb.WriteString(m.row("round", m.bar.ViewAs(f.Shape.Round)))
	sb.WriteString("\n")

	bands := []struct {
		name string
		v    float64
	}{
		{"sub", f.Bands.Sub}, {"low", f.Bands.Low}, {"mid", f.Bands.Mid},
		{"high", f.Bands.High}, {"very high", f.Bands.VeryHigh},
	}
	for _, b := range bands {
		sb.WriteString(m.row(b.name, m.bar.ViewAs(b.v)))
	}
	sb.WriteString("\n")

	state := "stopped"
	if m.pos.IsPlaying {
		state = "playing"
	}
	sb.WriteString(m.row("buffer", m.bar.ViewAs(m.pos.BufferLevel)+fmt.Sprintf(" %5.0fms", m.pos.BufferMs)))
	sb.WriteString(m.row("position", fmt.Sprintf("%.2fs %s", m.pos.TimeMs/1000, state)))
	sb.WriteString(m.row("frames", fmt.Sprintf("%d", m.frames)))
	sb.WriteString("\n")

	for _, line := range m.log {
		sb.WriteString(dimStyle.Render("• "+line) + "\n")
	}
	if n := m.feed.Dropped(); n > 0 {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("(%d events dropped)", n)) + "\n")
	}
	sb.WriteString("\n" + infoStyle.Render("q: Quit"))
	return sb.String()
}

// RunMonitor attaches a monitor to em and blocks until the user quits or
// the feed is closed.
func RunMonitor(title string, em *events.Emitter) error {
	return RunMonitorContext(context.Background(), title, em)
}

// RunMonitorContext is RunMonitor that also returns when ctx ends.
func RunMonitorContext(ctx context.Context, title string, em *events.Emitter) error {
	feed := NewFeed(256)
	id := em.OnAny(feed.Listener())
	defer em.Off(id)

	p := tea.NewProgram(NewMonitorModel(title, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	feed.Close()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
