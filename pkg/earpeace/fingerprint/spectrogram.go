package fingerprint

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Spectrogram is time-major: spec[frame][bin].
type Spectrogram [][]float64

func (s Spectrogram) Frames() int { return len(s) }

// FrameCount returns how many full windows fit in n samples. Partial
// windows at the end are dropped, never padded.
func FrameCount(n, windowSize, hopSize int) int {
	if n < windowSize || hopSize <= 0 {
		return 0
	}
	return (n-windowSize)/hopSize + 1
}

// STFT computes log1p-compressed magnitudes of Hann-windowed frames.
// Magnitudes are scaled by the window sum so amplitude does not depend on N.
func STFT(samples []float64, p Params) Spectrogram {
	frames := FrameCount(len(samples), p.WindowSize, p.HopSize)
	if frames == 0 {
		return Spectrogram{}
	}

	win := window.Hann(p.WindowSize)
	winSum := 0.0
	for _, w := range win {
		winSum += w
	}
	scale := 1.0
	if winSum > 0 {
		scale = 1 / winSum
	}

	bins := p.Bins()
	spec := make(Spectrogram, frames)
	frame := make([]float64, p.WindowSize)

	for t := 0; t < frames; t++ {
		start := t * p.HopSize
		for i := range frame {
			frame[i] = samples[start+i] * win[i]
		}

		coeffs := fft.FFTReal(frame)
		mag := make([]float64, bins)
		for b := 0; b < bins; b++ {
			mag[b] = math.Log1p(cmplx.Abs(coeffs[b]) * scale)
		}
		spec[t] = mag
	}
	return spec
}
