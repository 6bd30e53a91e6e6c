package engine

import (
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Output abstracts the audio device a session plays into. The speaker
// implementation binds the process-wide beep speaker; tests substitute a
// manual pump.
type Output interface {
	// Start opens the device at the given rate and buffer length.
	Start(rate beep.SampleRate, bufLen int) error
	// Play hands the device its root streamer. Called once per Start.
	Play(s beep.Streamer)
	// Lock and Unlock guard mutations of anything the device is pulling.
	Lock()
	Unlock()
	// Suspend and Resume pause and restart the device clock.
	Suspend() error
	Resume() error
}

// SpeakerOutput plays through the process-wide beep speaker.
type SpeakerOutput struct{}

func (SpeakerOutput) Start(rate beep.SampleRate, bufLen int) error {
	return speaker.Init(rate, bufLen)
}

func (SpeakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (SpeakerOutput) Lock()                { speaker.Lock() }
func (SpeakerOutput) Unlock()              { speaker.Unlock() }
func (SpeakerOutput) Suspend() error       { return speaker.Suspend() }
func (SpeakerOutput) Resume() error        { return speaker.Resume() }
