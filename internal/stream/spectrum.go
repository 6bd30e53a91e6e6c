package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/engine"
	"github.com/stemcast/stemcast/internal/stem"
)

// DefaultFrameInterval paces the spectral feed at roughly 30 frames/s.
const DefaultFrameInterval = 33 * time.Millisecond

// Frame is one spectral feed snapshot: byte magnitudes per stem plus the
// playhead they were read at. The magnitude slices marshal as base64.
type Frame struct {
	Position float64           `json:"position"`
	Duration float64           `json:"duration"`
	Bins     int               `json:"bins"`
	Stems    map[string][]byte `json:"stems"`
}

// Pump drives the spectral feed: while the session plays it refreshes the
// analysers once per tick and emits one Frame with every stem's
// magnitudes. Never-started stems appear as zeros, so consumers can
// render a fixed set of lanes.
type Pump struct {
	session  *engine.Session
	interval time.Duration
	out      chan Frame
	log      zerolog.Logger
}

// NewPump creates a spectrum pump over a session.
func NewPump(s *engine.Session, interval time.Duration, log zerolog.Logger) *Pump {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Pump{
		session:  s,
		interval: interval,
		out:      make(chan Frame, 4),
		log:      log.With().Str("component", "spectrum").Logger(),
	}
}

// Frames returns the channel of outgoing spectrum frames, the source for a
// Broadcaster.
func (p *Pump) Frames() <-chan Frame {
	return p.out
}

// Run ticks until ctx is done. Frames are dropped rather than queued when
// the broadcast side falls behind.
func (p *Pump) Run(ctx context.Context) {
	defer close(p.out)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Debug().Dur("interval", p.interval).Msg("spectrum pump running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.session.State() != engine.Playing {
				continue
			}
			p.session.RefreshAnalysers()
			select {
			case p.out <- p.snapshot():
			default:
			}
		}
	}
}

func (p *Pump) snapshot() Frame {
	f := Frame{
		Position: p.session.Position().Seconds(),
		Duration: p.session.Duration().Seconds(),
		Stems:    make(map[string][]byte, len(stem.Order)),
	}
	for _, n := range stem.Order {
		m := p.session.Magnitudes(n, nil)
		if f.Bins == 0 {
			f.Bins = len(m)
		}
		f.Stems[n.String()] = m
	}
	return f
}
