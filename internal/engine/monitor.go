package engine

import (
	"github.com/gopxl/beep/v2"

	"github.com/stemcast/stemcast/internal/audio"
)

// MonitorTap sits at the end of the master chain. It passes samples through
// untouched and repackages them as 20ms interleaved int16 frames for the
// monitor encoders. Sends are best-effort: the tap runs inside the device
// callback and must never block, so frames drop when no consumer keeps up.
type MonitorTap struct {
	src     beep.Streamer
	frame   []int16
	fill    int
	frameCh chan []int16
}

// NewMonitorTap wraps the root streamer of the output chain.
func NewMonitorTap(src beep.Streamer) *MonitorTap {
	return &MonitorTap{
		src:     src,
		frame:   make([]int16, audio.FrameSamples),
		frameCh: make(chan []int16, 8),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (t *MonitorTap) Frames() <-chan []int16 {
	return t.frameCh
}

// Stream implements beep.Streamer. Only the device goroutine calls it, so
// frame assembly needs no lock; the channel handles the crossing.
func (t *MonitorTap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.src.Stream(samples)
	for _, s := range samples[:n] {
		t.frame[t.fill] = audio.ClipInt16(s[0])
		t.frame[t.fill+1] = audio.ClipInt16(s[1])
		t.fill += 2
		if t.fill == len(t.frame) {
			out := make([]int16, len(t.frame))
			copy(out, t.frame)
			select {
			case t.frameCh <- out:
			default:
			}
			t.fill = 0
		}
	}
	return n, ok
}

// Err implements beep.Streamer.
func (t *MonitorTap) Err() error {
	return t.src.Err()
}
