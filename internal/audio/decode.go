package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrUnsupportedFormat is returned by Decode when no native decoder matches
// the extension. DecodeFile falls back to ffmpeg instead of returning it.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

type decodeFunc func(io.Reader) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".mp3":  mp3.Decode,
	".wav":  wav.Decode,
	".flac": flac.Decode,
	".ogg":  vorbis.Decode,
	".oga":  vorbis.Decode,
}

// KnownExt reports whether a native decoder exists for the extension.
func KnownExt(ext string) bool {
	_, ok := decoders[strings.ToLower(ext)]
	return ok
}

// DecodeFile decodes an audio file into an in-memory buffer at the engine
// format. Files with an unrecognized extension go through ffmpeg.
func DecodeFile(path string) (*beep.Buffer, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !KnownExt(ext) {
		return decodeFFmpeg(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := Decode(f, ext)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return buf, nil
}

// Decode decodes a stream identified by its file extension into an in-memory
// buffer at the engine format, resampling when the source rate differs.
func Decode(r io.Reader, ext string) (*beep.Buffer, error) {
	dec, ok := decoders[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	s, format, err := dec(r)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	buf := beep.NewBuffer(Format())
	if format.SampleRate != Rate() {
		buf.Append(beep.Resample(4, format.SampleRate, Rate(), s))
	} else {
		buf.Append(s)
	}
	return buf, nil
}

// decodeFFmpeg runs FFmpeg to decode anything else to raw PCM int16 at the
// engine rate, then buffers it.
func decodeFFmpeg(path string) (*beep.Buffer, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make([]int16, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	buf := beep.NewBuffer(Format())
	buf.Append(&pcmStreamer{samples: samples})
	return buf, nil
}

// pcmStreamer adapts interleaved stereo int16 PCM to a beep.Streamer.
type pcmStreamer struct {
	samples []int16
	pos     int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) && p.pos+1 < len(p.samples) {
		samples[n][0] = float64(p.samples[p.pos]) / 32768
		samples[n][1] = float64(p.samples[p.pos+1]) / 32768
		p.pos += 2
		n++
	}
	return n, n > 0
}

func (p *pcmStreamer) Err() error { return nil }

// ClipInt16 converts a float sample in [-1, 1] to int16, clipping anything
// outside the representable range.
func ClipInt16(v float64) int16 {
	v *= 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
