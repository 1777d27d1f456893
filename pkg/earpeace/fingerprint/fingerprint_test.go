package fingerprint

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 16000

func tone(freq, seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / testRate)
	}
	return out
}

// sweep is a linear chirp from f0 to f1 over the full duration.
func sweep(f0, f1, seconds float64) []float64 {
	n := int(seconds * testRate)
	k := (f1 - f0) / (2 * seconds)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / testRate
		out[i] = math.Sin(2 * math.Pi * (f0*t + k*t*t))
	}
	return out
}

func noise(seed int64, seconds float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, int(seconds*testRate))
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero hop", func(p *Params) { p.HopSize = 0 }},
		{"window not above hop", func(p *Params) { p.WindowSize = p.HopSize }},
		{"window too wide for hash", func(p *Params) { p.WindowSize = 4096 }},
		{"no peaks", func(p *Params) { p.TopK = 0 }},
		{"no fan-out", func(p *Params) { p.FanOut = 0 }},
		{"zero min delta", func(p *Params) { p.MinDelta = 0 }},
		{"max below min", func(p *Params) { p.MinDelta, p.MaxDelta = 5, 4 }},
		{"delta too wide", func(p *Params) { p.MaxDelta = 1024 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 0, FrameCount(0, 2048, 512))
	assert.Equal(t, 0, FrameCount(2047, 2048, 512))
	assert.Equal(t, 1, FrameCount(2048, 2048, 512))
	assert.Equal(t, 1, FrameCount(2559, 2048, 512))
	assert.Equal(t, 2, FrameCount(2560, 2048, 512))
	assert.Equal(t, 28, FrameCount(16000, 2048, 512))
}

func TestSTFTTone(t *testing.T) {
	p := DefaultParams()
	spec := STFT(tone(1000, 1), p)

	require.Equal(t, 28, spec.Frames())
	for _, frame := range spec {
		require.Len(t, frame, p.Bins())
		best := 0
		for b := range frame {
			if frame[b] > frame[best] {
				best = b
			}
		}
		// 1000 Hz at 16 kHz with N=2048 lands on bin 128
		assert.Equal(t, 128, best)
	}
}

func TestSTFTShortInput(t *testing.T) {
	assert.Empty(t, STFT(tone(440, 0.1), DefaultParams()))
}

func TestExtractPeaks(t *testing.T) {
	spec := Spectrogram{
		{0, 3, 1, 3, 2, 0},
		{0, 0, 0, 0, 0, 0},
		{5, 4, 3, 2, 1, 0.5},
	}

	peaks := ExtractPeaks(spec, 2)
	assert.Equal(t, []int{1, 3}, peaks[0])
	assert.Empty(t, peaks[1])
	assert.Equal(t, []int{0, 1}, peaks[2])

	peaks = ExtractPeaks(spec, 3)
	assert.Equal(t, []int{1, 3, 4}, peaks[0])

	// fewer energetic bins than k
	peaks = ExtractPeaks(spec, 10)
	assert.Equal(t, []int{1, 3, 4, 2}, peaks[0])
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, peaks[2])
}

func TestPackHash(t *testing.T) {
	h := PackHash(1023, 7, 50)
	a, b, d := h.Unpack()
	assert.Equal(t, []int{1023, 7, 50}, []int{a, b, d})
	assert.Equal(t, Hash(1023<<20|7<<10|50), h)

	// wider inputs are masked to 10 bits
	a, b, d = PackHash(1024+5, 2, 3).Unpack()
	assert.Equal(t, []int{5, 2, 3}, []int{a, b, d})
	assert.Equal(t, PackHash(0, 2, 3), PackHash(1024, 2, 3))
}

func TestLandmarksFanOut(t *testing.T) {
	p := Params{WindowSize: 2048, HopSize: 512, TopK: 2, FanOut: 2, MinDelta: 1, MaxDelta: 50}
	peaks := PeakSet{{10, 20}, {11, 21}, {12, 22}}

	lms := Landmarks(peaks, p)
	require.Len(t, lms, 12)

	assert.Equal(t, Landmark{Hash: PackHash(10, 11, 1), Frame: 0}, lms[0])
	assert.Equal(t, Landmark{Hash: PackHash(10, 21, 1), Frame: 0}, lms[1])
	assert.Equal(t, Landmark{Hash: PackHash(10, 12, 2), Frame: 0}, lms[2])
	for _, lm := range lms[8:] {
		assert.Equal(t, uint32(1), lm.Frame)
	}
}

func TestLandmarksDeltaRange(t *testing.T) {
	p := Params{WindowSize: 2048, HopSize: 512, TopK: 1, FanOut: 1, MinDelta: 1, MaxDelta: 50}
	peaks := make(PeakSet, 60)
	for i := range peaks {
		peaks[i] = []int{i}
	}

	lms := Landmarks(peaks, p)
	// ten anchors see the full 50 frames, the rest are cut by the end
	assert.Len(t, lms, 10*50+49*50/2)
	for _, lm := range lms {
		_, _, d := lm.Hash.Unpack()
		assert.True(t, d >= 1 && d <= 50)
		assert.Less(t, int(lm.Frame)+d, 60)
	}
}

func TestFingerprintEdgeCases(t *testing.T) {
	p := DefaultParams()

	lms, err := Fingerprint(make([]float64, testRate), testRate, p)
	require.NoError(t, err)
	assert.Empty(t, lms, "silence has no peaks")

	lms, err = Fingerprint(tone(440, 0.05), testRate, p)
	require.NoError(t, err)
	assert.Empty(t, lms, "shorter than one window")

	_, err = Fingerprint(tone(440, 1), 0, p)
	assert.ErrorIs(t, err, ErrInvalidSampleRate)

	p.TopK = 0
	_, err = Fingerprint(tone(440, 1), testRate, p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestBuildIndex(t *testing.T) {
	p := DefaultParams()
	samples := sweep(500, 1500, 2)

	lms, err := Fingerprint(samples, testRate, p)
	require.NoError(t, err)
	require.NotEmpty(t, lms)

	idx, err := BuildIndex(samples, testRate, p)
	require.NoError(t, err)
	assert.False(t, idx.Empty())
	assert.Equal(t, len(lms), idx.EntryCount())
	assert.Equal(t, testRate, idx.SampleRate)
	assert.Equal(t, HopSize, idx.HopSize())

	again, err := BuildIndex(samples, testRate, p)
	require.NoError(t, err)
	assert.True(t, idx.Equal(again))

	top := idx.TopHashes(3)
	require.Len(t, top, 3)
	assert.GreaterOrEqual(t, top[0].Count, top[1].Count)

	empty, err := BuildIndex(make([]float64, 100), testRate, p)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestIndexCompatible(t *testing.T) {
	idx := NewIndex(nil, testRate, DefaultParams())
	require.NoError(t, idx.Compatible(testRate, DefaultParams()))

	assert.ErrorIs(t, idx.Compatible(8000, DefaultParams()), ErrIncompatibleIndex)

	p := DefaultParams()
	p.FanOut = 3
	err := idx.Compatible(testRate, p)
	assert.ErrorIs(t, err, ErrIncompatibleIndex)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}
