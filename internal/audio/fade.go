package audio

import "github.com/gopxl/beep/v2"

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeIn wraps s with a smoothstep attack envelope over its first n samples.
// Fresh playback units get this so restarts at nonzero offsets do not click.
func FadeIn(s beep.Streamer, n int) beep.Streamer {
	if n <= 0 {
		return s
	}
	return &fadeIn{s: s, n: n}
}

type fadeIn struct {
	s   beep.Streamer
	pos int
	n   int
}

func (f *fadeIn) Stream(samples [][2]float64) (int, bool) {
	n, ok := f.s.Stream(samples)
	for i := 0; i < n && f.pos < f.n; i++ {
		gain := Smoothstep(float64(f.pos) / float64(f.n))
		samples[i][0] *= gain
		samples[i][1] *= gain
		f.pos++
	}
	return n, ok
}

func (f *fadeIn) Err() error { return f.s.Err() }
