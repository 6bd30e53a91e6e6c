package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/stemcast/stemcast/internal/audio"
)

// MP3Handler serves the master mix as a chunked MP3 stream. Each connection
// spawns an FFmpeg process to encode PCM -> MP3 in real time.
type MP3Handler struct {
	broadcaster *Broadcaster[[]int16]
	log         zerolog.Logger
}

// NewMP3Handler creates an MP3 monitor handler over the PCM broadcaster.
func NewMP3Handler(b *Broadcaster[[]int16], log zerolog.Logger) *MP3Handler {
	return &MP3Handler{
		broadcaster: b,
		log:         log.With().Str("component", "mp3").Logger(),
	}
}

func (h *MP3Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "stemcast monitor")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdin pipe failed")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdout pipe failed")
		return
	}

	if err := cmd.Start(); err != nil {
		h.log.Error().Err(err).Msg("ffmpeg start failed")
		return
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.Info().Int("listeners", h.broadcaster.ListenerCount()).Msg("mp3 listener connected")
	defer h.log.Info().Msg("mp3 listener disconnected")

	// Feed PCM frames to FFmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.done:
				return
			case frame, ok := <-listener.C:
				if !ok {
					return
				}
				pcm := audio.SamplesToBytes(frame)
				if _, err := stdin.Write(pcm); err != nil {
					return
				}
			}
		}
	}()

	// Read MP3 from FFmpeg and write to HTTP response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warn().Err(err).Msg("ffmpeg read failed")
			}
			break
		}
	}

	cmd.Wait()
}
