// Package analysis implements the per-stem spectral analyser. A passthrough
// tap copies playback samples into a mono ring buffer; windowed FFT frames
// over the ring produce byte-scaled magnitude snapshots for visual layers.
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
)

const (
	// FFT window sizes selected by the quality flag.
	FFTHigh = 2048
	FFTLow  = 512

	// Temporal averaging factor over successive magnitude frames.
	smoothing = 0.8

	// Byte scaling range in dBFS: minDB maps to 0, maxDB to 255.
	minDB = -100.0
	maxDB = -30.0

	eps = 1e-12
)

// Analyser turns one stem's sample stream into magnitude snapshots.
// One analyser lives for the whole session and is reused across plays;
// SetFFTSize reconfigures it in place without stopping playback.
type Analyser struct {
	mu sync.Mutex

	fftSize int
	win     []float64
	winGain float64
	plan    *algofft.Plan[complex128]

	ring  []float64
	write int

	input  []complex128
	output []complex128

	db      []float64 // smoothed dBFS per bin
	bytes   []byte    // 0..255 per bin, rewritten by Refresh
	started bool      // any samples ever fed
	primed  bool      // at least one FFT frame computed since last resize
}

// New creates an analyser with the given FFT size.
func New(fftSize int) (*Analyser, error) {
	a := &Analyser{}
	if err := a.SetFFTSize(fftSize); err != nil {
		return nil, err
	}
	return a, nil
}

// SetFFTSize reconfigures the analyser window. Applies immediately: ring,
// smoothing state and snapshot are rebuilt at the new size, and the next
// Refresh fills them. The started flag survives, buffer history does not.
func (a *Analyser) SetFFTSize(n int) error {
	switch n {
	case FFTLow, FFTHigh:
	default:
		return fmt.Errorf("analysis: unsupported fft size %d", n)
	}
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return fmt.Errorf("analysis: fft plan: %w", err)
	}

	win := blackman(n)
	sum := 0.0
	for _, w := range win {
		sum += w
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fftSize = n
	a.win = win
	a.winGain = sum / float64(n)
	a.plan = plan
	a.ring = make([]float64, n)
	a.write = 0
	a.input = make([]complex128, n)
	a.output = make([]complex128, n)
	a.db = make([]float64, n/2)
	for i := range a.db {
		a.db[i] = minDB
	}
	a.bytes = make([]byte, n/2)
	a.primed = false
	return nil
}

// FFTSize returns the current window size.
func (a *Analyser) FFTSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fftSize
}

// BinCount returns the number of frequency bins (fftSize/2).
func (a *Analyser) BinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bytes)
}

// Started reports whether the analyser has ever received samples.
func (a *Analyser) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Feed mixes a block of stereo samples into the mono ring. Called by the
// tap on the device goroutine; one lock per block.
func (a *Analyser) Feed(samples [][2]float64) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	for i := range samples {
		a.ring[a.write] = (samples[i][0] + samples[i][1]) / 2
		a.write++
		if a.write >= a.fftSize {
			a.write = 0
		}
	}
	a.started = true
	a.mu.Unlock()
}

// Refresh recomputes the snapshot from the latest ring contents with one
// windowed FFT. Called once per render frame while playing. A never-fed
// analyser keeps its all-zero snapshot.
func (a *Analyser) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}

	read := a.write // oldest sample in the ring
	for i := 0; i < a.fftSize; i++ {
		a.input[i] = complex(a.ring[read]*a.win[i], 0)
		read++
		if read >= a.fftSize {
			read = 0
		}
	}

	if err := a.plan.Forward(a.output, a.input); err != nil {
		return
	}

	norm := float64(a.fftSize) * math.Max(a.winGain, eps)
	for k := range a.db {
		mag := cmplx.Abs(a.output[k]) / norm
		if k > 0 {
			mag *= 2
		}
		valDB := 20 * math.Log10(math.Max(eps, mag))
		if valDB < minDB {
			valDB = minDB
		}
		if a.primed {
			a.db[k] = smoothing*a.db[k] + (1-smoothing)*valDB
		} else {
			a.db[k] = valDB
		}
		a.bytes[k] = scaleByte(a.db[k])
	}
	a.primed = true
}

// Bytes copies the current snapshot into dst, growing it as needed, and
// returns the filled slice. Zeros for a never-started analyser.
func (a *Analyser) Bytes(dst []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cap(dst) < len(a.bytes) {
		dst = make([]byte, len(a.bytes))
	}
	dst = dst[:len(a.bytes)]
	copy(dst, a.bytes)
	return dst
}

// MeanRange returns the mean magnitude over the bin range [lo, hi), clamped
// to the valid bin interval. Zeros for a never-started analyser; an empty
// range yields 0.
func (a *Analyser) MeanRange(lo, hi int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if lo < 0 {
		lo = 0
	}
	if hi > len(a.bytes) {
		hi = len(a.bytes)
	}
	if hi <= lo {
		return 0
	}
	sum := 0.0
	for _, b := range a.bytes[lo:hi] {
		sum += float64(b)
	}
	return sum / float64(hi-lo)
}

// BinFrequency returns the center frequency of a bin at the given sample rate.
func (a *Analyser) BinFrequency(bin, sampleRate int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(bin) * float64(sampleRate) / float64(a.fftSize)
}

func scaleByte(db float64) byte {
	v := (db - minDB) / (maxDB - minDB) * 255
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

// blackmanCoeffs are the classic three-term Blackman cosine coefficients.
var blackmanCoeffs = []float64{0.42, -0.5, 0.08}

// blackman generates a periodic Blackman window of length n.
func blackman(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i) / float64(n)
		sum := 0.0
		for k, c := range blackmanCoeffs {
			sum += c * math.Cos(2*math.Pi*float64(k)*x)
		}
		out[i] = sum
	}
	return out
}
