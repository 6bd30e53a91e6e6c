package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Rate returns the engine sample rate as a beep.SampleRate.
func Rate() beep.SampleRate {
	return beep.SampleRate(SampleRate)
}

// Format is the canonical in-engine sample format. Every decoded stem is
// resampled into it so all buffers share one clock base.
func Format() beep.Format {
	return beep.Format{
		SampleRate:  Rate(),
		NumChannels: Channels,
		Precision:   BitDepth / 8,
	}
}
