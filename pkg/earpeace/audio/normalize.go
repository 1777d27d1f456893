package audio

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// TargetSampleRate is the rate every reference and query is transcoded to.
const TargetSampleRate = 16000

// ErrDecodeFailure is returned when audio cannot be turned into samples.
var ErrDecodeFailure = errors.New("audio decode failure")

// Signal is a mono, peak-normalized sample sequence.
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Downmix averages interleaved channels into a single channel.
func Downmix(interleaved []float64, channels int) ([]float64, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrDecodeFailure, channels)
	}
	if len(interleaved)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples not divisible by %d channels",
			ErrDecodeFailure, len(interleaved), channels)
	}

	if channels == 1 {
		out := make([]float64, len(interleaved))
		copy(out, interleaved)
		return out, nil
	}

	frames := len(interleaved) / channels
	out := make([]float64, frames)
	inv := 1.0 / float64(channels)
	for i := 0; i < frames; i++ {
		out[i] = floats.Sum(interleaved[i*channels:(i+1)*channels]) * inv
	}
	return out, nil
}

// Normalize scales samples so the peak absolute amplitude is 1.0.
// An all-zero signal is returned unchanged.
func Normalize(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	if len(out) == 0 {
		return out
	}

	peak := floats.Norm(out, math.Inf(1))
	if peak == 0 {
		return out
	}
	floats.Scale(1/peak, out)
	return out
}

// NewSignal downmixes and normalizes interleaved samples.
func NewSignal(interleaved []float64, channels, sampleRate int) (Signal, error) {
	if sampleRate <= 0 {
		return Signal{}, fmt.Errorf("%w: invalid sample rate %d", ErrDecodeFailure, sampleRate)
	}
	mono, err := Downmix(interleaved, channels)
	if err != nil {
		return Signal{}, err
	}
	return Signal{Samples: Normalize(mono), SampleRate: sampleRate}, nil
}
