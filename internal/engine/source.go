package engine

import (
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"github.com/stemcast/stemcast/internal/audio"
	"github.com/stemcast/stemcast/internal/stem"
)

// unit is one single-use playback handle: a buffer slice routed through the
// stem's analyser tap and volume stage into the shared mixer. Once stopped
// it is discarded, never restarted.
type unit struct {
	ctrl *beep.Ctrl
	vol  *effects.Volume
	from int
	gen  int
}

// startUnitsLocked creates and starts one unit per loaded stem at offset,
// all against the same device timeline. It also picks the end-of-track
// reference: the first stem of the configured priority order that got a
// unit. Returns the number of units started. Callers hold mu.
func (s *Session) startUnitsLocked(offset time.Duration) int {
	s.gen++
	gen := s.gen
	from := audio.Rate().N(offset)
	fade := audio.Rate().N(declickFade)
	started := 0

	s.out.Lock()
	for _, n := range s.order {
		st := s.stems[n]
		if st.buffer == nil || from >= st.buffer.Len() {
			continue
		}
		u := s.newUnit(st, from, fade, gen)
		s.mixer.Add(u.ctrl)
		st.unit = u
		started++
	}
	s.out.Unlock()

	s.refOK = false
	for _, n := range s.cfg.ReferenceOrder {
		if st, ok := s.stems[n]; ok && st.unit != nil {
			s.refStem = n
			s.refOK = true
			break
		}
	}
	if !s.refOK && started > 0 {
		s.log.Warn().Msg("no reference stem active, automatic end-of-track stop unavailable")
	}
	return started
}

// newUnit builds the per-stem chain: buffer slice, declick fade, analyser
// tap, volume, then a completion callback. The callback posts to the run
// loop instead of acting on the spot because it fires on the device
// goroutine under the device lock.
func (s *Session) newUnit(st *stemState, from, fade, gen int) *unit {
	base := st.buffer.Streamer(from, st.buffer.Len())
	tapped := st.analyser.Tap(audio.FadeIn(base, fade))
	vol := &effects.Volume{Streamer: tapped, Base: 2, Silent: st.muted}

	name := st.name
	done := beep.Callback(func() {
		select {
		case s.finishedCh <- unitDone{name: name, gen: gen}:
		default:
		}
	})
	return &unit{
		ctrl: &beep.Ctrl{Streamer: beep.Seq(vol, done)},
		vol:  vol,
		from: from,
		gen:  gen,
	}
}

// stopUnitsLocked discards every live unit. Masking the control's streamer
// silences the unit at once, suppresses its completion callback, and lets
// the mixer drop it on the next pull. Callers hold mu.
func (s *Session) stopUnitsLocked() {
	s.out.Lock()
	for _, n := range s.order {
		if st := s.stems[n]; st.unit != nil {
			st.unit.ctrl.Streamer = nil
			st.unit = nil
		}
	}
	s.out.Unlock()
}

// activeUnits returns the stems with a live unit, in canonical order.
func (s *Session) activeUnits() []stem.Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stem.Name, 0, len(s.order))
	for _, n := range s.order {
		if s.stems[n].unit != nil {
			out = append(out, n)
		}
	}
	return out
}
