package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/stemcast/stemcast/internal/analysis"
	"github.com/stemcast/stemcast/internal/audio"
	"github.com/stemcast/stemcast/internal/stem"
)

// Load runs one sequential pass over the manifest: fetch, decode, store,
// one stem at a time, yielding between stems to bound peak memory. A stem
// that fails is logged, reported on the bus, and skipped; it never aborts
// its siblings. Returns ErrNoStems when nothing decoded; the session then
// stays Idle. Cancellation is only honored between stems, a started stem
// always runs to completion or failure.
func (s *Session) Load(ctx context.Context, m stem.Manifest) error {
	order := m.Stems()
	if len(order) == 0 {
		return ErrNoStems
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return errors.New("engine: load already in progress")
	}
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("engine: load rejected in state %s", s.state)
	}
	s.loading = true
	s.title = m.Title
	s.order = order
	size := s.fftSizeLocked()
	for _, n := range order {
		a, err := analysis.New(size)
		if err != nil {
			s.loading = false
			s.mu.Unlock()
			return err
		}
		s.stems[n] = &stemState{name: n, locator: m.Paths[n], analyser: a}
	}
	s.mu.Unlock()

	total := len(order)
	for i, n := range order {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				s.log.Warn().Err(err).Msg("load pass interrupted")
				break
			}
			if s.cfg.LoadYield > 0 {
				time.Sleep(s.cfg.LoadYield)
			}
		}

		s.bus.Publish(Event{Type: EventLoadProgress, Stem: n, Index: i + 1, Total: total})
		s.log.Info().Str("stem", n.String()).Int("index", i+1).Int("total", total).Msg("loading stem")

		buf, err := s.fetchDecode(ctx, s.stems[n].locator)
		if err != nil {
			s.log.Warn().Err(err).Str("stem", n.String()).Msg("stem load failed, continuing")
			s.markFailed(n)
			s.bus.Publish(Event{Type: EventLoadError, Stem: n, Message: err.Error()})
			continue
		}
		s.storeBuffer(n, buf)
	}

	s.mu.Lock()
	s.loading = false
	loaded := s.loadedLocked()
	if loaded == 0 {
		s.mu.Unlock()
		s.log.Error().Msg("no stem decoded, session unusable")
		return ErrNoStems
	}
	s.state = Ready
	s.mu.Unlock()

	s.log.Info().Int("loaded", loaded).Int("total", total).Msg("load pass complete")
	s.mu.RLock()
	s.publishStateLocked()
	s.mu.RUnlock()
	return nil
}

// Eject drops the loaded song and returns the session to Idle so a new
// manifest can be loaded. Live units stop first. Rejected while a load
// pass is running.
func (s *Session) Eject() error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return errors.New("engine: load in progress")
	}
	if s.state == Idle && len(s.stems) == 0 {
		s.mu.Unlock()
		return nil
	}

	s.stopUnitsLocked()
	s.gen++
	clear(s.stems)
	s.order = nil
	s.title = ""
	s.duration = 0
	s.virtual = 0
	s.refStem = ""
	s.refOK = false
	wasSeekable := s.seekable
	s.seekable = false
	s.state = Idle
	s.mu.Unlock()

	s.log.Info().Msg("song ejected")
	if wasSeekable {
		s.bus.Publish(Event{Type: EventSeekEnabled, Enabled: false})
	}
	s.mu.RLock()
	s.publishStateLocked()
	s.publishPlayheadLocked()
	s.mu.RUnlock()
	return nil
}

// fetchDecode resolves one locator to a decoded buffer. Local paths decode
// directly; URLs stream through the native decoders when the extension is
// known and spool to a temp file for the ffmpeg fallback otherwise.
func (s *Session) fetchDecode(ctx context.Context, locator string) (*beep.Buffer, error) {
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		return audio.DecodeFile(locator)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", locator, resp.Status)
	}

	ext := urlExt(locator)
	if audio.KnownExt(ext) {
		buf, err := audio.Decode(resp.Body, ext)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", locator, err)
		}
		return buf, nil
	}

	// unknown extension: spool so ffmpeg can probe the container
	tmp, err := os.CreateTemp("", "stemcast-*"+ext)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("spool %s: %w", locator, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return audio.DecodeFile(tmp.Name())
}

func urlExt(locator string) string {
	u, err := url.Parse(locator)
	if err != nil {
		return path.Ext(locator)
	}
	return path.Ext(u.Path)
}

func (s *Session) markFailed(n stem.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stems[n]; ok {
		st.failed = true
	}
}

// storeBuffer records a decoded stem. The first success fixes the song
// duration for good; later stems with different lengths are tolerated,
// never reconciled. Crossing the seek threshold unlocks seek controls.
func (s *Session) storeBuffer(n stem.Name, buf *beep.Buffer) {
	s.mu.Lock()
	st, ok := s.stems[n]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.buffer = buf
	dur := audio.Rate().D(buf.Len())

	first := s.duration == 0
	if first {
		s.duration = dur
		s.seekable = dur > s.cfg.SeekThreshold
	}
	seekable := s.seekable
	s.mu.Unlock()

	s.log.Info().Str("stem", n.String()).Dur("duration", dur).Msg("stem decoded")
	if first && seekable {
		s.bus.Publish(Event{Type: EventSeekEnabled, Enabled: true})
	}
}
