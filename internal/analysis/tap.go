package analysis

import "github.com/gopxl/beep/v2"

// Tap returns a streamer that passes s through unchanged while feeding the
// analyser ring. It sits between a playback unit and its volume stage, so
// magnitudes keep flowing for muted stems.
func (a *Analyser) Tap(s beep.Streamer) beep.Streamer {
	return &tap{s: s, a: a}
}

type tap struct {
	s beep.Streamer
	a *Analyser
}

func (t *tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	if n > 0 {
		t.a.Feed(samples[:n])
	}
	return n, ok
}

func (t *tap) Err() error { return t.s.Err() }
