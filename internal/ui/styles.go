package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stemcast/stemcast/internal/stem"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	stateStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"})
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})
	labelStyle  = lipgloss.NewStyle().Width(9)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#BBBBBB", Dark: "#444444"})
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

	stemStyles = map[stem.Name]lipgloss.Style{
		stem.Vocals: lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
		stem.Drums:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		stem.Bass:   lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		stem.Other:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
	}
)

var barRunes = []rune("▁▂▃▄▅▆▇█")

// bars renders byte magnitudes as one row of block characters. Columns
// map to bins on a square curve so the low end, where most musical
// content sits, gets the most screen space. Empty input draws the
// baseline.
func bars(mags []byte, width int) string {
	if width <= 0 {
		return ""
	}
	if len(mags) == 0 {
		return strings.Repeat(string(barRunes[0]), width)
	}
	var sb strings.Builder
	sb.Grow(width * 3)
	for col := 0; col < width; col++ {
		lo := int(math.Pow(float64(col)/float64(width), 2) * float64(len(mags)))
		hi := int(math.Pow(float64(col+1)/float64(width), 2) * float64(len(mags)))
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(mags) {
			hi = len(mags)
		}
		var peak byte
		for _, v := range mags[lo:hi] {
			if v > peak {
				peak = v
			}
		}
		sb.WriteRune(barRunes[int(peak)*(len(barRunes)-1)/255])
	}
	return sb.String()
}

// formatClock renders seconds as m:ss.
func formatClock(s float64) string {
	if s < 0 {
		s = 0
	}
	t := int(s)
	return fmt.Sprintf("%d:%02d", t/60, t%60)
}

// progressBar renders a playhead bar of the given width.
func progressBar(pos, dur float64, width int) string {
	if width < 2 {
		width = 2
	}
	if dur <= 0 {
		return strings.Repeat("─", width)
	}
	f := pos / dur
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	filled := int(f * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
}
