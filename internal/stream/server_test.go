package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/audio"
	"github.com/stemcast/stemcast/internal/engine"
	"github.com/stemcast/stemcast/internal/stem"
)

// nullOutput satisfies engine.Output without touching audio hardware.
type nullOutput struct{ mu sync.Mutex }

func (o *nullOutput) Start(beep.SampleRate, int) error { return nil }
func (o *nullOutput) Play(beep.Streamer)               {}
func (o *nullOutput) Lock()                            { o.mu.Lock() }
func (o *nullOutput) Unlock()                          { o.mu.Unlock() }
func (o *nullOutput) Suspend() error                   { return nil }
func (o *nullOutput) Resume() error                    { return nil }

func newIdleSession(t *testing.T) *engine.Session {
	t.Helper()
	return engine.NewSession(engine.Config{LoadYield: time.Millisecond}, &nullOutput{}, zerolog.Nop())
}

func newLoadedSession(t *testing.T) *engine.Session {
	t.Helper()
	dir := t.TempDir()
	m := stem.Manifest{Title: "fixture", Paths: make(map[stem.Name]string)}
	for _, n := range []stem.Name{stem.Vocals, stem.Drums} {
		tone, err := generators.SinTone(audio.Rate(), 440)
		if err != nil {
			t.Fatalf("SinTone: %v", err)
		}
		path := filepath.Join(dir, n.String()+".wav")
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
		if err := wav.Encode(f, beep.Take(audio.Rate().N(500*time.Millisecond), tone), audio.Format()); err != nil {
			t.Fatalf("encode %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close %s: %v", path, err)
		}
		m.Paths[n] = path
	}

	s := newIdleSession(t)
	if err := s.Load(context.Background(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func newTestServer(t *testing.T, s *engine.Session) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(s, NewPCMBroadcaster(), NewBroadcaster[Frame](8), zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// --- Control endpoints ---

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, newLoadedSession(t))

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}

	var got struct {
		Title    string              `json:"title"`
		State    string              `json:"state"`
		Quality  string              `json:"quality"`
		Stems    []engine.StemStatus `json:"stems"`
		MP3      int                 `json:"mp3_listeners"`
		Duration float64             `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Title != "fixture" || got.State != "ready" || got.Quality != "low" {
		t.Errorf("status = %+v, want fixture/ready/low", got)
	}
	if len(got.Stems) != 2 {
		t.Errorf("stems = %d, want 2", len(got.Stems))
	}
	if got.Duration != 0.5 {
		t.Errorf("duration = %v, want 0.5", got.Duration)
	}
	if got.MP3 != 0 {
		t.Errorf("mp3_listeners = %d, want 0", got.MP3)
	}
}

func TestPlayPauseSeekOverHTTP(t *testing.T) {
	s := newLoadedSession(t)
	_, ts := newTestServer(t, s)

	resp := postJSON(t, ts.URL+"/api/play", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("play status = %d, want 200", resp.StatusCode)
	}
	if got := s.State(); got != engine.Playing {
		t.Fatalf("state after play = %s, want playing", got)
	}

	resp = postJSON(t, ts.URL+"/api/seek?t=0.2", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seek status = %d, want 200", resp.StatusCode)
	}
	var seek struct {
		Position float64 `json:"position"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&seek); err != nil {
		t.Fatalf("decode seek: %v", err)
	}
	if seek.Position < 0.2 || seek.Position > 0.3 {
		t.Errorf("seek position = %v, want ~0.2", seek.Position)
	}

	resp = postJSON(t, ts.URL+"/api/pause", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", resp.StatusCode)
	}
	if got := s.State(); got != engine.Ready {
		t.Errorf("state after pause = %s, want ready", got)
	}
}

func TestPlayWithOffsetBody(t *testing.T) {
	s := newLoadedSession(t)
	_, ts := newTestServer(t, s)

	resp := postJSON(t, ts.URL+"/api/play", `{"offset": 0.3}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("play status = %d, want 200", resp.StatusCode)
	}
	if got := s.Position(); got < 300*time.Millisecond || got > 400*time.Millisecond {
		t.Errorf("position = %v, want ~300ms", got)
	}
}

func TestPlayBeforeLoadConflict(t *testing.T) {
	_, ts := newTestServer(t, newIdleSession(t))

	resp := postJSON(t, ts.URL+"/api/play", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("play on idle session = %d, want 409", resp.StatusCode)
	}
}

func TestSeekRejectsBadParam(t *testing.T) {
	_, ts := newTestServer(t, newLoadedSession(t))

	resp := postJSON(t, ts.URL+"/api/seek", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("seek without t = %d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/seek?t=1", nil)
	getResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET seek: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET seek = %d, want 405", getResp.StatusCode)
	}
}

func TestQualityEndpoint(t *testing.T) {
	s := newLoadedSession(t)
	_, ts := newTestServer(t, s)

	resp := postJSON(t, ts.URL+"/api/quality?high=true", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quality status = %d, want 200", resp.StatusCode)
	}
	var got struct {
		Quality string `json:"quality"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode quality: %v", err)
	}
	if got.Quality != "high" {
		t.Errorf("quality = %q, want high", got.Quality)
	}
	if !s.Quality() {
		t.Error("session still at low quality")
	}

	bad := postJSON(t, ts.URL+"/api/quality?high=maybe", "")
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("quality with bad param = %d, want 400", bad.StatusCode)
	}
}

func TestMuteEndpoint(t *testing.T) {
	s := newLoadedSession(t)
	_, ts := newTestServer(t, s)

	resp := postJSON(t, ts.URL+"/api/mute", `{"stem": "drums", "muted": true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mute status = %d, want 200", resp.StatusCode)
	}
	for _, ss := range s.Status().Stems {
		if ss.Name == stem.Drums && !ss.Muted {
			t.Error("drums not muted after request")
		}
	}

	bad := postJSON(t, ts.URL+"/api/mute", `{"stem": "piano", "muted": true}`)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("mute unknown stem = %d, want 400", bad.StatusCode)
	}
}

// --- SSE feeds ---

func sseGet(t *testing.T, ctx context.Context, url string) (*bufio.Reader, func()) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sse status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}
	return bufio.NewReader(resp.Body), func() { resp.Body.Close() }
}

// readSSE scans the stream until a data line for the wanted event arrives.
func readSSE(t *testing.T, r *bufio.Reader, want string) string {
	t.Helper()
	event := ""
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("sse read waiting for %q: %v", want, err)
		}
		line = strings.TrimRight(line, "\n")
		if after, ok := strings.CutPrefix(line, "event: "); ok {
			event = after
		}
		if after, ok := strings.CutPrefix(line, "data: "); ok && event == want {
			return after
		}
	}
}

func TestEventsFeed(t *testing.T) {
	s := newLoadedSession(t)
	_, ts := newTestServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, closeBody := sseGet(t, ctx, ts.URL+"/api/events")
	defer closeBody()

	// the opening snapshot proves the subscription is live
	var snap engine.Status
	if err := json.Unmarshal([]byte(readSSE(t, r, "status")), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.State != "ready" {
		t.Fatalf("snapshot state = %q, want ready", snap.State)
	}

	if err := s.Play(0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	var e engine.Event
	if err := json.Unmarshal([]byte(readSSE(t, r, "play-state")), &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if e.State != "playing" {
		t.Errorf("event state = %q, want playing", e.State)
	}
}

func TestSpectrumFeed(t *testing.T) {
	s := newLoadedSession(t)
	srv := NewServer(s, NewPCMBroadcaster(), NewBroadcaster[Frame](8), zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source := make(chan Frame, 4)
	go srv.spectrum.Run(ctx, source)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case source <- Frame{Bins: 256, Stems: map[string][]byte{"vocals": {9}}}:
				default:
				}
			}
		}
	}()

	r, closeBody := sseGet(t, ctx, ts.URL+"/api/spectrum")
	defer closeBody()

	var f Frame
	if err := json.Unmarshal([]byte(readSSE(t, r, "frame")), &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Bins != 256 {
		t.Errorf("frame bins = %d, want 256", f.Bins)
	}
	if len(f.Stems["vocals"]) != 1 || f.Stems["vocals"][0] != 9 {
		t.Errorf("vocals magnitudes = %v, want [9]", f.Stems["vocals"])
	}
}
