package fingerprint

import (
	"fmt"

	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
)

// Hash packs anchor bin, target bin and frame delta into 10 bits each.
// Inputs wider than 10 bits are masked, so distinct triples can collide.
type Hash uint32

func PackHash(anchor, target, delta int) Hash {
	return Hash(uint32(anchor&fieldMask)<<(2*fieldBits) |
		uint32(target&fieldMask)<<fieldBits |
		uint32(delta&fieldMask))
}

func (h Hash) Unpack() (anchor, target, delta int) {
	v := uint32(h)
	return int(v >> (2 * fieldBits) & fieldMask), int(v >> fieldBits & fieldMask), int(v & fieldMask)
}

func (h Hash) String() string {
	a, t, d := h.Unpack()
	return fmt.Sprintf("%08x(%d,%d,+%d)", uint32(h), a, t, d)
}

// Landmark is one hash occurrence anchored at a frame.
type Landmark struct {
	Hash  Hash   `json:"hash"`
	Frame uint32 `json:"frame"`
}

// Landmarks pairs every anchor peak with the leading peaks of each frame
// MinDelta..MaxDelta ahead. Pairs past the last frame are not emitted.
func Landmarks(peaks PeakSet, p Params) []Landmark {
	frames := peaks.Frames()
	fan := p.FanOut
	if p.TopK < fan {
		fan = p.TopK
	}

	var out []Landmark
	for t := 0; t < frames; t++ {
		maxDt := p.MaxDelta
		if last := frames - 1 - t; last < maxDt {
			maxDt = last
		}
		for _, f1 := range peaks[t] {
			for dt := p.MinDelta; dt <= maxDt; dt++ {
				targets := peaks[t+dt]
				if len(targets) > fan {
					targets = targets[:fan]
				}
				for _, f2 := range targets {
					out = append(out, Landmark{Hash: PackHash(f1, f2, dt), Frame: uint32(t)})
				}
			}
		}
	}
	return out
}

// Fingerprint runs normalization, STFT, peak picking and hashing.
// A signal shorter than one window yields no landmarks and no error.
func Fingerprint(samples []float64, sampleRate int, p Params) ([]Landmark, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	spec := STFT(audio.Normalize(samples), p)
	peaks := ExtractPeaks(spec, p.TopK)
	return Landmarks(peaks, p), nil
}
