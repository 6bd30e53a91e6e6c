package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/engine"
	"github.com/stemcast/stemcast/internal/stem"
)

// Server is the HTTP control surface of one session: transport commands,
// status, the SSE event and spectrum feeds, and the monitor outputs.
type Server struct {
	session  *engine.Session
	pcm      *Broadcaster[[]int16]
	spectrum *Broadcaster[Frame]
	webrtc   *WebRTCHandler
	log      zerolog.Logger
}

// NewServer wires a server around a session and its broadcasters.
func NewServer(s *engine.Session, pcm *Broadcaster[[]int16], spectrum *Broadcaster[Frame], log zerolog.Logger) *Server {
	return &Server{
		session:  s,
		pcm:      pcm,
		spectrum: spectrum,
		webrtc:   NewWebRTCHandler(pcm, log),
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Handler returns the route table.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/play", srv.handlePlay)
	mux.HandleFunc("/api/pause", srv.handlePause)
	mux.HandleFunc("/api/seek", srv.handleSeek)
	mux.HandleFunc("/api/quality", srv.handleQuality)
	mux.HandleFunc("/api/mute", srv.handleMute)
	mux.HandleFunc("/api/events", srv.handleEvents)
	mux.HandleFunc("/api/spectrum", srv.handleSpectrum)
	mux.Handle("/monitor.mp3", NewMP3Handler(srv.pcm, srv.log))
	mux.Handle("/offer", srv.webrtc)
	return mux
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := srv.session.Status()
	writeJSON(w, map[string]any{
		"session":       st.Session,
		"title":         st.Title,
		"state":         st.State,
		"position":      st.Position,
		"duration":      st.Duration,
		"quality":       st.Quality,
		"seekable":      st.Seekable,
		"stems":         st.Stems,
		"mp3_listeners": srv.pcm.ListenerCount(),
		"webrtc_peers":  srv.webrtc.PeerCount(),
	})
}

func (srv *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Offset *float64 `json:"offset"`
	}
	// an empty body means resume from the playhead
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	offset := srv.session.Position()
	if req.Offset != nil {
		offset = time.Duration(*req.Offset * float64(time.Second))
	}
	if err := srv.session.Play(offset); err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "state": srv.session.State().String()})
}

func (srv *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if err := srv.session.Stop(); err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "state": srv.session.State().String()})
}

func (srv *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil || t < 0 {
		http.Error(w, "t must be seconds >= 0", http.StatusBadRequest)
		return
	}
	if err := srv.session.Seek(time.Duration(t * float64(time.Second))); err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "position": srv.session.Position().Seconds()})
}

func (srv *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	high, err := strconv.ParseBool(r.URL.Query().Get("high"))
	if err != nil {
		http.Error(w, "high must be a bool", http.StatusBadRequest)
		return
	}
	srv.session.SetQuality(high)
	writeJSON(w, map[string]any{"ok": true, "quality": srv.session.Status().Quality})
}

func (srv *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Stem  string `json:"stem"`
		Muted bool   `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	n, err := stem.Parse(req.Stem)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	if err := srv.session.SetMuted(n, req.Muted); err != nil {
		srv.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "stem": n, "muted": req.Muted})
}

// handleEvents streams engine events over SSE, one message per event with
// the event type as the SSE event name. A status snapshot opens the stream
// so clients render without waiting for a change.
func (srv *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := sseHeaders(w)
	if !ok {
		return
	}

	l := srv.session.Bus().Subscribe(64)
	defer srv.session.Bus().Unsubscribe(l)

	if err := writeSSE(w, "status", srv.session.Status()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-l.C:
			if err := writeSSE(w, string(e.Type), e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleSpectrum streams spectrum frames over SSE at the pump rate.
func (srv *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	flusher, ok := sseHeaders(w)
	if !ok {
		return
	}

	l := srv.spectrum.Subscribe()
	defer srv.spectrum.Unsubscribe(l)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-l.Done():
			return
		case f, ok := <-l.C:
			if !ok {
				return
			}
			if err := writeSSE(w, "frame", f); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (srv *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNoStems):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrDeviceUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, stem.ErrUnknown):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	return flusher, true
}

func writeSSE(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
