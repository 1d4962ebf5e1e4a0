package audioio

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser defaults. The byte mapping follows the usual browser analyser:
// magnitudes between MinDecibels and MaxDecibels span 0..255.
const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// ErrAnalyserClosed is returned when reading from a closed Analyser.
var ErrAnalyserClosed = errors.New("audioio: analyser closed")

// Analyser keeps the most recent FFTSize samples of a mono stream and turns
// them into byte-scaled frequency magnitudes.
type Analyser struct {
	mu sync.Mutex

	size      int
	fft       *fourier.FFT
	ring      []float64
	frame     []float64
	coeffs    []complex128
	smoothed  []float64
	scratch   []float64
	smoothing float64
	minDB     float64
	maxDB     float64
	closed    bool
}

// NewAnalyser creates an analyser with the given FFT size, which must be a
// power of two no smaller than 32.
func NewAnalyser(fftSize int) (*Analyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("audioio: fft size must be a power of two >= 32, got %d", fftSize)
	}
	return &Analyser{
		size:      fftSize,
		fft:       fourier.NewFFT(fftSize),
		ring:      make([]float64, fftSize),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
	}, nil
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return a.size / 2
}

// Write appends mono PCM16 samples to the analysis window.
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || len(samples) == 0 {
		return
	}

	if len(samples) > a.size {
		samples = samples[len(samples)-a.size:]
	}
	a.scratch = SamplesToFloat(a.scratch, samples)
	n := len(a.scratch)
	copy(a.ring, a.ring[n:])
	copy(a.ring[a.size-n:], a.scratch)
}

// ByteFrequencyData fills dst (allocating if too small) with one byte per
// frequency bin and returns it.
func (a *Analyser) ByteFrequencyData(dst []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrAnalyserClosed
	}

	bins := a.size / 2
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	copy(a.frame, a.ring)
	window.Blackman(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255 / (a.maxDB - a.minDB)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		s := a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		a.smoothed[k] = s

		if s <= 0 {
			dst[k] = 0
			continue
		}
		v := scale * (20*math.Log10(s) - a.minDB)
		switch {
		case v <= 0:
			dst[k] = 0
		case v >= 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
	return dst, nil
}

// Level returns the current normalized input level in [0, 1].
func (a *Analyser) Level() (float64, error) {
	data, err := a.ByteFrequencyData(nil)
	if err != nil {
		return 0, err
	}
	return LevelFromFrequencyData(data), nil
}

// Close releases the analyser. Further reads fail with ErrAnalyserClosed.
func (a *Analyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// LevelFromFrequencyData averages the bins, divides by 128 and clamps to 1.
func LevelFromFrequencyData(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	level := float64(sum) / float64(len(data)) / 128
	if level > 1 {
		return 1
	}
	return level
}
