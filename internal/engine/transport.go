package engine

import "time"

// State is the transport state of a session.
type State int

const (
	// Idle means no stem has decoded yet; play requests are rejected.
	Idle State = iota
	// Ready means buffers exist and playback is stopped.
	Ready
	// Playing means units are live and the playhead advances.
	Playing
	// Seeking is the transient stop+restart composite inside a seek; it is
	// never a resting state.
	Seeking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Seeking:
		return "seeking"
	}
	return "unknown"
}

// Play starts all loaded stems at the given offset with one shared start
// instant. Rejected with ErrNoStems before any stem decoded. A playing
// session ignores the request.
func (s *Session) Play(offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked(offset)
}

func (s *Session) playLocked(offset time.Duration) error {
	if s.state == Playing {
		return nil
	}
	if s.state == Idle || s.loadedLocked() == 0 {
		return ErrNoStems
	}
	if err := s.ensureDevice(); err != nil {
		return err
	}

	offset = s.clampLocked(offset)
	if s.duration > 0 && offset >= s.duration {
		// nothing left to play from here
		s.virtual = s.duration
		s.state = Ready
		s.publishStateLocked()
		return nil
	}

	started := s.startUnitsLocked(offset)
	if started == 0 {
		s.deviceOK = false
		return ErrDeviceUnavailable
	}

	s.startAt = time.Now().Add(-offset)
	s.virtual = offset
	s.state = Playing
	s.log.Info().Dur("offset", offset).Int("units", started).Msg("playback started")
	s.publishStateLocked()
	return nil
}

// Stop halts playback and freezes the playhead at its current value.
// Idempotent: stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.state != Playing {
		return nil
	}
	s.virtual = s.clampLocked(time.Since(s.startAt))
	s.stopUnitsLocked()
	s.state = Ready
	s.log.Info().Dur("position", s.virtual).Msg("playback stopped")
	s.publishStateLocked()
	return nil
}

// TogglePlay flips between playing and stopped, resuming from the frozen
// playhead.
func (s *Session) TogglePlay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		return s.stopLocked()
	}
	return s.playLocked(s.virtual)
}

// Seek moves the virtual playhead to t, clamped to [0, duration]. While
// playing, live units are stopped and restarted at t under one lock so no
// observer sees playhead and audio disagree. While stopped, only the
// stored playhead moves.
func (s *Session) Seek(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		return ErrNoStems
	}
	t = s.clampLocked(t)

	if s.state != Playing {
		s.virtual = t
		s.publishPlayheadLocked()
		return nil
	}

	s.state = Seeking
	s.stopUnitsLocked()

	if s.duration > 0 && t >= s.duration {
		// seek straight to the end behaves like a natural finish
		s.virtual = s.duration
		s.state = Ready
		s.publishStateLocked()
		s.publishPlayheadLocked()
		return nil
	}

	started := s.startUnitsLocked(t)
	if started == 0 {
		s.virtual = t
		s.state = Ready
		s.deviceOK = false
		s.publishStateLocked()
		return ErrDeviceUnavailable
	}

	s.startAt = time.Now().Add(-t)
	s.virtual = t
	s.state = Playing
	s.log.Debug().Dur("target", t).Msg("seek applied")
	s.publishPlayheadLocked()
	return nil
}

// Position returns the virtual playhead. This is the single derivation
// point for elapsed time: now minus the rebased start instant while
// playing, the stored value otherwise. Safe in every transport state.
func (s *Session) Position() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionLocked()
}

func (s *Session) positionLocked() time.Duration {
	if s.state == Playing {
		return s.clampLocked(time.Since(s.startAt))
	}
	return s.clampLocked(s.virtual)
}

func (s *Session) clampLocked(t time.Duration) time.Duration {
	if t < 0 {
		return 0
	}
	if s.duration > 0 && t > s.duration {
		return s.duration
	}
	return t
}

func (s *Session) loadedLocked() int {
	n := 0
	for _, st := range s.stems {
		if st.buffer != nil {
			n++
		}
	}
	return n
}
