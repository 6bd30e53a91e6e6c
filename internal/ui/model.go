// Package ui renders a session in the terminal: per-stem spectrum rows,
// transport state and clock, and a song switcher over the library.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/stemcast/stemcast/internal/analysis"
	"github.com/stemcast/stemcast/internal/engine"
	"github.com/stemcast/stemcast/internal/library"
	"github.com/stemcast/stemcast/internal/stem"
	"github.com/stemcast/stemcast/internal/stream"
)

// Model is the bubbletea model for the stemcast TUI.
type Model struct {
	session *engine.Session
	frames  *stream.Broadcaster[stream.Frame]
	lib     *library.Library

	status   engine.Status
	frame    stream.Frame
	notice   string // transient load progress / error line
	noticeAt time.Time

	picking bool // song picker open
	entries []library.Entry
	cursor  int

	width    int
	height   int
	quitting bool

	keys keyMap
	help help.Model

	events   *engine.Listener
	listener *stream.Listener[stream.Frame]
}

type (
	tickMsg  time.Time
	frameMsg stream.Frame
	eventMsg engine.Event
	scanMsg  struct {
		entries []library.Entry
		err     error
	}
	loadDoneMsg struct{ err error }
)

// New builds the TUI model. lib may be nil to disable the song switcher.
func New(session *engine.Session, frames *stream.Broadcaster[stream.Frame], lib *library.Library) Model {
	h := help.New()
	h.ShortSeparator = "  "
	m := Model{
		session: session,
		frames:  frames,
		lib:     lib,
		status:  session.Status(),
		keys:    newKeyMap(),
		help:    h,
	}
	m.events = session.Bus().Subscribe(64)
	m.listener = frames.Subscribe()
	return m
}

// Run drives the TUI until quit.
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitEvent(m.events), waitFrame(m.listener))
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitEvent(l *engine.Listener) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-l.C
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func waitFrame(l *stream.Listener[stream.Frame]) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-l.C
		if !ok {
			return nil
		}
		return frameMsg(f)
	}
}

func scanCmd(lib *library.Library) tea.Cmd {
	return func() tea.Msg {
		entries, err := lib.Scan()
		return scanMsg{entries: entries, err: err}
	}
}

// switchSongCmd swaps the loaded song: stop, eject, load the new
// manifest. Runs in the command goroutine since loading blocks.
func switchSongCmd(s *engine.Session, e library.Entry) tea.Cmd {
	return func() tea.Msg {
		_ = s.Stop()
		if err := s.Eject(); err != nil {
			return loadDoneMsg{err: err}
		}
		return loadDoneMsg{err: s.Load(context.Background(), e.Manifest)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.status = m.session.Status()
		if m.notice != "" && time.Since(m.noticeAt) > 5*time.Second {
			m.notice = ""
		}
		return m, tickCmd()

	case frameMsg:
		m.frame = stream.Frame(msg)
		return m, waitFrame(m.listener)

	case eventMsg:
		return m.handleEvent(engine.Event(msg))

	case scanMsg:
		if msg.err != nil {
			m.setNotice("library scan failed: " + msg.err.Error())
			m.picking = false
			return m, nil
		}
		m.entries = msg.entries
		if m.cursor >= len(m.entries) {
			m.cursor = 0
		}
		return m, nil

	case loadDoneMsg:
		if msg.err != nil {
			m.setNotice("load failed: " + msg.err.Error())
		}
		m.status = m.session.Status()
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	}
	return m, nil
}

func (m Model) handleEvent(e engine.Event) (tea.Model, tea.Cmd) {
	switch e.Type {
	case engine.EventLoadProgress:
		m.setNotice(fmt.Sprintf("loading %s (%d/%d)", e.Stem, e.Index, e.Total))
	case engine.EventLoadError:
		m.setNotice(fmt.Sprintf("%s failed: %s", e.Stem, e.Message))
	}
	m.status = m.session.Status()
	return m, waitEvent(m.events)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.session.Bus().Unsubscribe(m.events)
		m.frames.Unsubscribe(m.listener)
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Library):
		if m.lib == nil {
			return m, nil
		}
		m.picking = !m.picking
		if m.picking {
			return m, scanCmd(m.lib)
		}
		return m, nil
	}

	if m.picking {
		switch {
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Select):
			if m.cursor < len(m.entries) {
				entry := m.entries[m.cursor]
				m.picking = false
				m.setNotice("loading " + entry.Name)
				return m, switchSongCmd(m.session, entry)
			}
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.PlayPause):
		if err := m.session.TogglePlay(); err != nil {
			m.setNotice(err.Error())
		}
		m.status = m.session.Status()
	case key.Matches(msg, m.keys.SeekBack):
		m.seekBy(-5 * time.Second)
	case key.Matches(msg, m.keys.SeekFwd):
		m.seekBy(5 * time.Second)
	case key.Matches(msg, m.keys.Quality):
		m.session.SetQuality(!m.session.Quality())
		m.status = m.session.Status()
	case key.Matches(msg, m.keys.Mute):
		m.toggleMute(msg.String())
	}
	return m, nil
}

func (m *Model) setNotice(s string) {
	m.notice = s
	m.noticeAt = time.Now()
}

func (m *Model) seekBy(d time.Duration) {
	target := m.session.Position() + d
	if target < 0 {
		target = 0
	}
	if err := m.session.Seek(target); err != nil {
		m.setNotice(err.Error())
	}
	m.status = m.session.Status()
}

// toggleMute flips the stem bound to a number key.
func (m *Model) toggleMute(k string) {
	i := int(k[0] - '1')
	if i < 0 || i >= len(stem.Order) {
		return
	}
	n := stem.Order[i]
	muted := false
	for _, st := range m.status.Stems {
		if st.Name == n {
			muted = st.Muted
		}
	}
	if err := m.session.SetMuted(n, !muted); err != nil {
		m.setNotice(err.Error())
		return
	}
	m.status = m.session.Status()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	w := m.width
	if w < 40 {
		w = 80
	}

	var sb strings.Builder
	sb.WriteString("\n  ")
	title := m.status.Title
	if title == "" {
		title = "no song loaded"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("  ")
	sb.WriteString(stateStyle.Render(fmt.Sprintf("[%s · fft %s]", m.status.State, fftLabel(m.status.Quality))))
	sb.WriteString("\n\n")

	clock := formatClock(m.status.Position)
	total := formatClock(m.status.Duration)
	sb.WriteString("  ")
	sb.WriteString(timeStyle.Render(clock))
	sb.WriteString(" ")
	sb.WriteString(progressBar(m.status.Position, m.status.Duration, w-len(clock)-len(total)-8))
	sb.WriteString(" ")
	sb.WriteString(timeStyle.Render(total))
	sb.WriteString("\n\n")

	if m.picking {
		sb.WriteString(m.pickerView())
	} else {
		sb.WriteString(m.stemView(w))
	}

	if m.notice != "" {
		sb.WriteString("\n  ")
		sb.WriteString(noticeStyle.Render(m.notice))
		sb.WriteByte('\n')
	}

	sb.WriteString("\n  ")
	sb.WriteString(m.help.View(m.keys))
	sb.WriteByte('\n')
	return sb.String()
}

// stemView draws one spectrum row per stem lane.
func (m Model) stemView(w int) string {
	barWidth := w - 16
	var sb strings.Builder
	for i, n := range stem.Order {
		st := stemStatusFor(m.status, n)
		sb.WriteString("  ")
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%d %s", i+1, n)))
		sb.WriteString(" ")
		switch {
		case st == nil:
			sb.WriteString(mutedStyle.Render(strings.Repeat("·", barWidth)))
		case st.Failed:
			sb.WriteString(noticeStyle.Render("failed"))
		case st.Muted:
			sb.WriteString(mutedStyle.Render(bars(m.frame.Stems[n.String()], barWidth)))
		default:
			sb.WriteString(stemStyles[n].Render(bars(m.frame.Stems[n.String()], barWidth)))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (m Model) pickerView() string {
	var sb strings.Builder
	sb.WriteString("  ")
	sb.WriteString(titleStyle.Render("library"))
	sb.WriteByte('\n')
	if len(m.entries) == 0 {
		sb.WriteString("  ")
		sb.WriteString(mutedStyle.Render("no stem sets found"))
		sb.WriteByte('\n')
		return sb.String()
	}
	for i, e := range m.entries {
		line := fmt.Sprintf("%s (%d stems)", e.Name, len(e.Manifest.Paths))
		sb.WriteString("  ")
		if i == m.cursor {
			sb.WriteString(cursorStyle.Render("> " + line))
		} else {
			sb.WriteString("  " + line)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func stemStatusFor(st engine.Status, n stem.Name) *engine.StemStatus {
	for i := range st.Stems {
		if st.Stems[i].Name == n {
			return &st.Stems[i]
		}
	}
	return nil
}

func fftLabel(quality string) string {
	if quality == "high" {
		return strconv.Itoa(analysis.FFTHigh)
	}
	return strconv.Itoa(analysis.FFTLow)
}
