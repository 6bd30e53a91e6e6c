// Package engine implements the stem playback engine: sequential buffer
// loading, the synchronized multi-stem transport, per-stem analyser taps,
// and the virtual playhead that is the one authoritative notion of
// position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/analysis"
	"github.com/stemcast/stemcast/internal/audio"
	"github.com/stemcast/stemcast/internal/stem"
)

var (
	// ErrNoStems means no stem decoded successfully; playback is disabled
	// for the session.
	ErrNoStems = errors.New("engine: no stems available")

	// ErrDeviceUnavailable means the output device could not be opened or
	// revived. A later play request retries from scratch.
	ErrDeviceUnavailable = errors.New("engine: output device unavailable")
)

const (
	playheadTick = 250 * time.Millisecond
	declickFade  = 5 * time.Millisecond

	defaultLoadYield     = 150 * time.Millisecond
	defaultSeekThreshold = 60 * time.Second
	defaultDeviceBuffer  = 100 * time.Millisecond
)

// Config holds the knobs a session is created with.
type Config struct {
	Quality        bool          // true selects the high FFT resolution
	ReferenceOrder []stem.Name   // end-of-track reference priority
	MasterGain     float64       // master volume in base-2 units, 0 is unity
	LoadYield      time.Duration // pause between sequential stem loads
	SeekThreshold  time.Duration // duration beyond which seek UI unlocks
	DeviceBuffer   time.Duration // output device buffer length
}

func (c Config) withDefaults() Config {
	if len(c.ReferenceOrder) == 0 {
		c.ReferenceOrder = append([]stem.Name(nil), stem.Order...)
	}
	if c.LoadYield == 0 {
		c.LoadYield = defaultLoadYield
	}
	if c.SeekThreshold == 0 {
		c.SeekThreshold = defaultSeekThreshold
	}
	if c.DeviceBuffer == 0 {
		c.DeviceBuffer = defaultDeviceBuffer
	}
	return c
}

// stemState bundles everything the session tracks per stem. The analyser
// lives for the whole session; the unit is recreated on every play/seek.
type stemState struct {
	name     stem.Name
	locator  string
	buffer   *beep.Buffer
	analyser *analysis.Analyser
	failed   bool
	muted    bool
	unit     *unit
}

type unitDone struct {
	name stem.Name
	gen  int
}

// Session owns the full playback engine for one set of stems.
type Session struct {
	id  uuid.UUID
	log zerolog.Logger
	cfg Config
	out Output
	bus *Bus

	mixer   *beep.Mixer
	master  *effects.Volume
	monitor *MonitorTap

	mu       sync.RWMutex
	state    State
	stems    map[stem.Name]*stemState
	order    []stem.Name
	title    string
	duration time.Duration
	virtual  time.Duration
	startAt  time.Time
	gen      int
	refStem  stem.Name
	refOK    bool
	seekable bool
	loading  bool
	deviceOK bool

	finishedCh chan unitDone
}

// NewSession builds a session around an output device. The device itself is
// opened lazily so creation succeeds even when audio hardware is missing;
// the first play request reports ErrDeviceUnavailable instead.
func NewSession(cfg Config, out Output, log zerolog.Logger) *Session {
	s := &Session{
		id:         uuid.New(),
		cfg:        cfg.withDefaults(),
		out:        out,
		bus:        NewBus(),
		mixer:      &beep.Mixer{},
		stems:      make(map[stem.Name]*stemState),
		finishedCh: make(chan unitDone, 16),
	}
	s.log = log.With().Str("component", "engine").Str("session", s.id.String()[:8]).Logger()
	s.master = &effects.Volume{Streamer: s.mixer, Base: 2, Volume: s.cfg.MasterGain}
	s.monitor = NewMonitorTap(s.master)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Bus returns the session's event bus.
func (s *Session) Bus() *Bus { return s.bus }

// Monitor returns the master-mix PCM tap feeding the monitor encoders.
func (s *Session) Monitor() *MonitorTap { return s.monitor }

// Title returns the loaded manifest title.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// Duration returns the fixed song duration, zero before any stem decoded.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}

// State returns the transport state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// openDevice starts the output and hands it the master chain. Callers hold mu.
func (s *Session) openDevice() error {
	if s.deviceOK {
		return nil
	}
	bufLen := audio.Rate().N(s.cfg.DeviceBuffer)
	if err := s.out.Start(audio.Rate(), bufLen); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.out.Play(s.monitor)
	s.deviceOK = true
	s.log.Info().Int("buffer_samples", bufLen).Msg("output device ready")
	return nil
}

// ensureDevice revives the output before units start: resume a suspended
// device, or recreate it outright after a failure.
func (s *Session) ensureDevice() error {
	if !s.deviceOK {
		return s.openDevice()
	}
	if err := s.out.Resume(); err != nil {
		s.log.Warn().Err(err).Msg("device resume failed, recreating")
		s.deviceOK = false
		return s.openDevice()
	}
	return nil
}

// Run drains asynchronous engine signals: unit completions posted from the
// device goroutine and the playhead tick. Blocks until ctx is done.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(playheadTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case done := <-s.finishedCh:
			s.handleUnitDone(done)
		case <-ticker.C:
			s.mu.RLock()
			playing := s.state == Playing
			pos, dur := s.positionLocked(), s.duration
			s.mu.RUnlock()
			if playing {
				s.bus.Publish(Event{
					Type:     EventPlayhead,
					Position: pos.Seconds(),
					Duration: dur.Seconds(),
				})
			}
		}
	}
}

// Close stops playback and suspends the output device. The session stays
// usable: a later play request resumes the device.
func (s *Session) Close() error {
	s.mu.Lock()
	err := s.stopLocked()
	suspend := s.deviceOK
	s.mu.Unlock()
	if suspend {
		if serr := s.out.Suspend(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// handleUnitDone reacts to a unit finishing on its own. Stale generations
// are discarded; only the reference stem ends the track.
func (s *Session) handleUnitDone(d unitDone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing || d.gen != s.gen {
		return
	}
	if st, ok := s.stems[d.name]; ok && st.unit != nil {
		st.unit = nil
	}
	if !s.refOK || d.name != s.refStem {
		return
	}

	s.log.Info().Str("stem", d.name.String()).Msg("reference stem finished, stopping track")
	s.stopUnitsLocked()
	s.virtual = s.duration
	s.state = Ready
	s.publishStateLocked()
	s.publishPlayheadLocked()
}

// SetMuted toggles one stem's audibility, live unit included. The analyser
// keeps feeding either way so visual layers stay active.
func (s *Session) SetMuted(n stem.Name, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stems[n]
	if !ok {
		return fmt.Errorf("%w: %q", stem.ErrUnknown, n)
	}
	st.muted = muted
	if st.unit != nil {
		s.out.Lock()
		st.unit.vol.Silent = muted
		s.out.Unlock()
	}
	s.log.Debug().Str("stem", n.String()).Bool("muted", muted).Msg("mute toggled")
	return nil
}

// SetQuality switches every analyser between the high (2048) and low (512)
// windows, in place, without touching playback.
func (s *Session) SetQuality(high bool) {
	s.mu.Lock()
	s.cfg.Quality = high
	size := s.fftSizeLocked()
	for _, st := range s.stems {
		if st.analyser == nil {
			continue
		}
		if err := st.analyser.SetFFTSize(size); err != nil {
			s.log.Error().Err(err).Str("stem", st.name.String()).Msg("fft resize failed")
		}
	}
	s.mu.Unlock()
	s.bus.Publish(Event{Type: EventQuality, High: high})
}

// Quality reports whether the high-resolution window is selected.
func (s *Session) Quality() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Quality
}

func (s *Session) fftSizeLocked() int {
	if s.cfg.Quality {
		return analysis.FFTHigh
	}
	return analysis.FFTLow
}

// Magnitudes copies a stem's current byte magnitudes into dst and returns
// it. Unknown or never-started stems yield zeros sized to the active bin
// count, never an error.
func (s *Session) Magnitudes(n stem.Name, dst []byte) []byte {
	s.mu.RLock()
	st, ok := s.stems[n]
	bins := s.fftSizeLocked() / 2
	s.mu.RUnlock()
	if ok && st.analyser != nil {
		return st.analyser.Bytes(dst)
	}
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]
	clear(dst)
	return dst
}

// BandMean returns the mean magnitude over bin range [lo, hi) for a stem.
// Zeros for unknown or never-started stems.
func (s *Session) BandMean(n stem.Name, lo, hi int) float64 {
	s.mu.RLock()
	st, ok := s.stems[n]
	s.mu.RUnlock()
	if !ok || st.analyser == nil {
		return 0
	}
	return st.analyser.MeanRange(lo, hi)
}

// RefreshAnalysers recomputes every stem's snapshot. The spectrum pump
// calls this once per render frame while playing.
func (s *Session) RefreshAnalysers() {
	s.mu.RLock()
	if s.state != Playing {
		s.mu.RUnlock()
		return
	}
	as := make([]*analysis.Analyser, 0, len(s.order))
	for _, n := range s.order {
		if st := s.stems[n]; st.analyser != nil {
			as = append(as, st.analyser)
		}
	}
	s.mu.RUnlock()

	for _, a := range as {
		a.Refresh()
	}
}

// StemStatus is one stem's load and playback condition.
type StemStatus struct {
	Name   stem.Name `json:"name"`
	Loaded bool      `json:"loaded"`
	Failed bool      `json:"failed"`
	Muted  bool      `json:"muted"`
	Active bool      `json:"active"`
}

// Status is a point-in-time snapshot for UIs.
type Status struct {
	Session  string       `json:"session"`
	Title    string       `json:"title,omitempty"`
	State    string       `json:"state"`
	Position float64      `json:"position"`
	Duration float64      `json:"duration"`
	Quality  string       `json:"quality"`
	Seekable bool         `json:"seekable"`
	Stems    []StemStatus `json:"stems"`
}

// Status returns the current snapshot.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quality := "low"
	if s.cfg.Quality {
		quality = "high"
	}
	out := Status{
		Session:  s.id.String(),
		Title:    s.title,
		State:    s.state.String(),
		Position: s.positionLocked().Seconds(),
		Duration: s.duration.Seconds(),
		Quality:  quality,
		Seekable: s.seekable,
	}
	for _, n := range s.order {
		st := s.stems[n]
		out.Stems = append(out.Stems, StemStatus{
			Name:   n,
			Loaded: st.buffer != nil,
			Failed: st.failed,
			Muted:  st.muted,
			Active: st.unit != nil,
		})
	}
	return out
}

func (s *Session) publishStateLocked() {
	s.bus.Publish(Event{Type: EventPlayState, State: s.state.String()})
}

func (s *Session) publishPlayheadLocked() {
	s.bus.Publish(Event{
		Type:     EventPlayhead,
		Position: s.positionLocked().Seconds(),
		Duration: s.duration.Seconds(),
	})
}
