package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const pcmFormat = 1

// ReadWAV opens a PCM WAV file and returns its mono, normalized signal.
func ReadWAV(path string) (Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	defer f.Close()

	return DecodeWAV(f)
}

// DecodeWAV decodes 8/16/24/32-bit integer PCM of any channel count.
func DecodeWAV(r io.ReadSeeker) (Signal, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Signal{}, fmt.Errorf("%w: not a valid WAV container", ErrDecodeFailure)
	}
	if dec.WavAudioFormat != pcmFormat {
		return Signal{}, fmt.Errorf("%w: unsupported WAV format %d, only PCM", ErrDecodeFailure, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return Signal{}, fmt.Errorf("%w: empty data chunk", ErrDecodeFailure)
	}

	channels := int(dec.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}

	samples, err := intsToFloat(buf.Data, int(dec.BitDepth))
	if err != nil {
		return Signal{}, err
	}

	// drop a trailing partial frame rather than reject the file
	if channels > 0 {
		samples = samples[:len(samples)-len(samples)%channels]
	}

	return NewSignal(samples, channels, int(dec.SampleRate))
}

// intsToFloat maps integer PCM into [-1, 1). 8-bit WAV data is unsigned.
func intsToFloat(data []int, bitDepth int) ([]float64, error) {
	if bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrDecodeFailure, bitDepth)
	}

	scale := 1.0 / math.Exp2(float64(bitDepth-1))
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}

	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v-offset) * scale
	}
	return out, nil
}

// WriteWAV writes samples as 16-bit mono PCM, clipping to [-1, 1].
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		buf.Data[i] = int(math.Round(s * 32767))
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("writing wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("closing wav encoder: %w", err)
	}
	return f.Close()
}
