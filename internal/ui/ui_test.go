package ui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/audio"
	"github.com/stemcast/stemcast/internal/engine"
	"github.com/stemcast/stemcast/internal/library"
	"github.com/stemcast/stemcast/internal/stem"
	"github.com/stemcast/stemcast/internal/stream"
)

type nullOutput struct{ mu sync.Mutex }

func (o *nullOutput) Start(beep.SampleRate, int) error { return nil }
func (o *nullOutput) Play(beep.Streamer)               {}
func (o *nullOutput) Lock()                            { o.mu.Lock() }
func (o *nullOutput) Unlock()                          { o.mu.Unlock() }
func (o *nullOutput) Suspend() error                   { return nil }
func (o *nullOutput) Resume() error                    { return nil }

func writeStemWAV(t *testing.T, dir string, n stem.Name, d time.Duration) string {
	t.Helper()
	tone, err := generators.SinTone(audio.Rate(), 440)
	if err != nil {
		t.Fatalf("SinTone: %v", err)
	}
	p := filepath.Join(dir, n.String()+".wav")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := wav.Encode(f, beep.Take(audio.Rate().N(d), tone), audio.Format()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

func newLoadedModel(t *testing.T) (Model, *engine.Session) {
	t.Helper()
	dir := t.TempDir()
	m := stem.Manifest{Title: "fixture", Paths: map[stem.Name]string{
		stem.Vocals: writeStemWAV(t, dir, stem.Vocals, 500*time.Millisecond),
		stem.Drums:  writeStemWAV(t, dir, stem.Drums, 500*time.Millisecond),
	}}
	s := engine.NewSession(engine.Config{LoadYield: time.Millisecond}, &nullOutput{}, zerolog.Nop())
	if err := s.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	frames := stream.NewBroadcaster[stream.Frame](4)
	return New(s, frames, nil), s
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// --- Render helpers ---

func TestBars(t *testing.T) {
	if got := bars(nil, 8); got != strings.Repeat("▁", 8) {
		t.Errorf("empty input = %q, want baseline", got)
	}
	if got := bars(make([]byte, 256), 8); got != strings.Repeat("▁", 8) {
		t.Errorf("silence = %q, want baseline", got)
	}

	loud := make([]byte, 256)
	for i := range loud {
		loud[i] = 255
	}
	if got := bars(loud, 8); got != strings.Repeat("█", 8) {
		t.Errorf("full scale = %q, want all blocks", got)
	}

	if got := bars(loud, 0); got != "" {
		t.Errorf("zero width = %q, want empty", got)
	}
}

func TestBarsLowBinsLead(t *testing.T) {
	// energy only in the first bins must show up in the leftmost column
	mags := make([]byte, 256)
	mags[0] = 255
	mags[1] = 255
	got := []rune(bars(mags, 16))
	if got[0] != '█' {
		t.Errorf("first column = %q, want full block", got[0])
	}
	if got[len(got)-1] != '▁' {
		t.Errorf("last column = %q, want baseline", got[len(got)-1])
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{65, "1:05"},
		{3599.9, "59:59"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := formatClock(tt.in); got != tt.want {
			t.Errorf("formatClock(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(0, 0, 10); got != strings.Repeat("─", 10) {
		t.Errorf("no duration = %q", got)
	}
	if got := progressBar(5, 10, 10); got != "━━━━━─────" {
		t.Errorf("half = %q", got)
	}
	if got := progressBar(20, 10, 10); got != strings.Repeat("━", 10) {
		t.Errorf("overrun = %q", got)
	}
}

func TestFFTLabel(t *testing.T) {
	if got := fftLabel("high"); got != "2048" {
		t.Errorf("high = %q", got)
	}
	if got := fftLabel("low"); got != "512" {
		t.Errorf("low = %q", got)
	}
}

// --- Key handling ---

func TestQuitKey(t *testing.T) {
	m, _ := newLoadedModel(t)
	m, cmd := press(t, m, "q")
	if !m.quitting {
		t.Error("q did not quit")
	}
	if cmd == nil {
		t.Error("expected quit command")
	}
}

func TestSpaceTogglesPlayback(t *testing.T) {
	m, s := newLoadedModel(t)

	m, _ = press(t, m, " ")
	if got := s.State(); got != engine.Playing {
		t.Fatalf("state after space = %s, want playing", got)
	}
	if m.status.State != "playing" {
		t.Errorf("model status = %q, want playing", m.status.State)
	}

	m, _ = press(t, m, " ")
	if got := s.State(); got != engine.Ready {
		t.Fatalf("state after second space = %s, want ready", got)
	}
	if m.status.State != "ready" {
		t.Errorf("model status = %q, want ready", m.status.State)
	}
}

func TestSeekKeysMoveWithinBounds(t *testing.T) {
	m, s := newLoadedModel(t)

	// backward from zero clamps to the start
	m, _ = press(t, m, "left")
	if got := s.Position(); got != 0 {
		t.Errorf("position after left = %v, want 0", got)
	}
	// forward past the end clamps to the duration
	m, _ = press(t, m, "right")
	if got, want := s.Position(), 500*time.Millisecond; got != want {
		t.Errorf("position after right = %v, want %v", got, want)
	}
	_ = m
}

func TestNumberKeyTogglesMute(t *testing.T) {
	m, s := newLoadedModel(t)

	m, _ = press(t, m, "1")
	st := s.Status()
	if len(st.Stems) == 0 || st.Stems[0].Name != stem.Vocals || !st.Stems[0].Muted {
		t.Fatalf("vocals not muted: %+v", st.Stems)
	}

	m, _ = press(t, m, "1")
	if s.Status().Stems[0].Muted {
		t.Error("vocals still muted after second press")
	}

	// muting a stem absent from the manifest surfaces in the notice line
	m, _ = press(t, m, "3")
	if m.notice == "" {
		t.Error("expected notice for unknown stem")
	}
}

func TestQualityKey(t *testing.T) {
	m, s := newLoadedModel(t)
	if s.Quality() {
		t.Fatal("expected low quality to start")
	}
	m, _ = press(t, m, "f")
	if !s.Quality() {
		t.Error("f did not raise quality")
	}
	if m.status.Quality != "high" {
		t.Errorf("model quality = %q, want high", m.status.Quality)
	}
}

// --- Library picker ---

func TestPickerSwitchesSong(t *testing.T) {
	root := t.TempDir()
	songDir := filepath.Join(root, "alpha")
	if err := os.MkdirAll(songDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeStemWAV(t, songDir, stem.Vocals, 300*time.Millisecond)
	writeStemWAV(t, songDir, stem.Drums, 300*time.Millisecond)

	s := engine.NewSession(engine.Config{LoadYield: time.Millisecond}, &nullOutput{}, zerolog.Nop())
	frames := stream.NewBroadcaster[stream.Frame](4)
	lib := library.New(root, zerolog.Nop())
	m := New(s, frames, lib)

	m, cmd := press(t, m, "l")
	if !m.picking {
		t.Fatal("picker did not open")
	}
	if cmd == nil {
		t.Fatal("expected scan command")
	}
	next, _ := m.Update(cmd())
	m = next.(Model)
	if len(m.entries) != 1 || m.entries[0].Name != "alpha" {
		t.Fatalf("entries = %+v, want [alpha]", m.entries)
	}

	m, cmd = press(t, m, "enter")
	if m.picking {
		t.Error("picker still open after select")
	}
	if cmd == nil {
		t.Fatal("expected switch command")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)

	if got := s.State(); got != engine.Ready {
		t.Fatalf("state after switch = %s, want ready", got)
	}
	if got := m.status.Title; got != "alpha" {
		t.Errorf("title = %q, want alpha", got)
	}
}

func TestPickerCursorBounds(t *testing.T) {
	m, _ := newLoadedModel(t)
	m.picking = true
	m.entries = []library.Entry{{Name: "a"}, {Name: "b"}}

	m, _ = press(t, m, "up")
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.cursor)
	}
	m, _ = press(t, m, "down")
	m, _ = press(t, m, "down")
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1", m.cursor)
	}
}

func TestPickerKeyWithoutLibrary(t *testing.T) {
	m, _ := newLoadedModel(t)
	m, _ = press(t, m, "l")
	if m.picking {
		t.Error("picker opened without a library")
	}
}

// --- View ---

func TestViewShowsStems(t *testing.T) {
	m, _ := newLoadedModel(t)
	m.width = 80
	view := m.View()
	for _, n := range []string{"vocals", "drums"} {
		if !strings.Contains(view, n) {
			t.Errorf("view missing stem %q", n)
		}
	}
	if !strings.Contains(view, "fixture") {
		t.Error("view missing title")
	}
	if !strings.Contains(view, "0:00") {
		t.Error("view missing clock")
	}
}

func TestViewFrameUpdatesBars(t *testing.T) {
	m, _ := newLoadedModel(t)
	m.width = 60

	mags := make([]byte, 256)
	for i := range mags {
		mags[i] = 255
	}
	next, _ := m.Update(frameMsg(stream.Frame{
		Bins:  256,
		Stems: map[string][]byte{"vocals": mags},
	}))
	m = next.(Model)
	if !strings.Contains(m.View(), "█") {
		t.Error("view missing spectrum blocks after frame")
	}
}
