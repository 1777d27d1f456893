package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawWAV builds a canonical 16-bit PCM WAV in memory.
func rawWAV(t *testing.T, sampleRate, channels int, samples []int16) []byte {
	t.Helper()

	var buf bytes.Buffer
	dataLen := uint32(len(samples) * 2)
	w := func(v any) {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	buf.WriteString("RIFF")
	w(uint32(36 + dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1))
	w(uint16(channels))
	w(uint32(sampleRate))
	w(uint32(sampleRate * channels * 2))
	w(uint16(channels * 2))
	w(uint16(16))
	buf.WriteString("data")
	w(dataLen)
	w(samples)
	return buf.Bytes()
}

func TestDownmix(t *testing.T) {
	t.Run("stereo average", func(t *testing.T) {
		out, err := Downmix([]float64{1, 0, 0.5, 0.5, -1, 1}, 2)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, 0.5, 0}, out)
	})

	t.Run("mono copies", func(t *testing.T) {
		in := []float64{0.1, 0.2}
		out, err := Downmix(in, 1)
		require.NoError(t, err)
		out[0] = 9
		assert.Equal(t, 0.1, in[0])
	})

	t.Run("bad channel count", func(t *testing.T) {
		_, err := Downmix([]float64{1}, 0)
		assert.ErrorIs(t, err, ErrDecodeFailure)
	})

	t.Run("ragged buffer", func(t *testing.T) {
		_, err := Downmix([]float64{1, 2, 3}, 2)
		assert.ErrorIs(t, err, ErrDecodeFailure)
	})
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float64{0.25, -0.5, 0.1})
	assert.InDeltaSlice(t, []float64{0.5, -1, 0.2}, out, 1e-12)

	silent := []float64{0, 0, 0}
	assert.Equal(t, silent, Normalize(silent))

	assert.Empty(t, Normalize(nil))
}

func TestNormalizePeakBound(t *testing.T) {
	in := make([]float64, 1000)
	for i := range in {
		in[i] = 3 * math.Sin(float64(i)*0.37)
	}
	out := Normalize(in)
	peak := 0.0
	for _, v := range out {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.InDelta(t, 1.0, peak, 1e-12)
}

func TestDecodeWAVStereo(t *testing.T) {
	data := rawWAV(t, 8000, 2, []int16{16384, 0, -16384, -16384, 0, 8192})

	sig, err := DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 8000, sig.SampleRate)
	require.Len(t, sig.Samples, 3)
	// means are 0.25, -0.5, 0.125 before normalization
	assert.InDeltaSlice(t, []float64{0.5, -1, 0.25}, sig.Samples, 1e-9)
}

func TestDecodeWAVFailures(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeWAV(bytes.NewReader([]byte("definitely not a wav file at all")))
		assert.ErrorIs(t, err, ErrDecodeFailure)
	})

	t.Run("empty data", func(t *testing.T) {
		_, err := DecodeWAV(bytes.NewReader(rawWAV(t, 8000, 1, nil)))
		assert.ErrorIs(t, err, ErrDecodeFailure)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadWAV(filepath.Join(t.TempDir(), "nope.wav"))
		assert.ErrorIs(t, err, ErrDecodeFailure)
	})
}

func TestWriteReadWAV(t *testing.T) {
	const sr = 16000
	samples := make([]float64, sr/4)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/sr)
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, WriteWAV(path, samples, sr))

	sig, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, sr, sig.SampleRate)
	require.Len(t, sig.Samples, len(samples))
	assert.InDelta(t, 0.25, sig.Duration(), 1e-9)

	// normalized back to unit peak, shape preserved
	for i := range samples {
		assert.InDelta(t, samples[i]*2, sig.Samples[i], 1e-3)
	}
}

func TestIntsToFloat(t *testing.T) {
	out, err := intsToFloat([]int{128, 0, 255}, 8)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, -1, 127.0 / 128}, out, 1e-12)

	_, err = intsToFloat([]int{1}, 12)
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"format": {"filename": "x", "duration": "12.5", "format_name": "mp3", "tags": {"title": "Episode 4"}},
		"streams": [{"codec_type": "video"}, {"codec_type": "audio", "sample_rate": "44100", "channels": 2}]
	}`)

	meta, err := parseProbe("/tmp/ep4.mp3", out)
	require.NoError(t, err)
	assert.Equal(t, "ep4.mp3", meta.Filename)
	assert.Equal(t, 12.5, meta.DurationSec)
	assert.Equal(t, 44100, meta.SampleRate)
	assert.Equal(t, 2, meta.Channels)
	assert.Equal(t, "Episode 4", meta.DisplayTitle())

	meta.Title = ""
	assert.Equal(t, "ep4", meta.DisplayTitle())

	_, err = parseProbe("x", []byte(`{"streams": [{"codec_type": "video"}]}`))
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

func TestConvertToMonoWAVMissingInput(t *testing.T) {
	requireFFmpeg(t)
	_, err := ConvertToMonoWAV(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), t.TempDir(), ConvertWAVConfig{})
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestMissingToolsAreNotDecodeFailures(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := ConvertToMonoWAV(context.Background(), filepath.Join(t.TempDir(), "in.mp3"), t.TempDir(), ConvertWAVConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.NotErrorIs(t, err, ErrDecodeFailure)

	_, err = Probe(context.Background(), filepath.Join(t.TempDir(), "in.mp3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.NotErrorIs(t, err, ErrDecodeFailure)
}

func TestConvertToMonoWAVConcurrentSameName(t *testing.T) {
	requireFFmpeg(t)

	const sr = 16000
	samples := make([]float64, sr/2)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/sr)
	}
	in := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, WriteWAV(in, samples, sr))

	outDir := t.TempDir()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ConvertToMonoWAV(context.Background(), in, outDir, ConvertWAVConfig{Name: "ep/1"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, "ep%2F1.wav", entries[0].Name())

	sig, err := ReadWAV(filepath.Join(outDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, sr, sig.SampleRate)
	assert.Len(t, sig.Samples, len(samples))
}
