package main

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
)

var inspectTop int

var inspectCmd = &cobra.Command{
	Use:   "inspect <index-file>",
	Short: "Print the header and statistics of a stored index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		hdr, err := fingerprint.ReadHeader(data)
		if err != nil {
			return err
		}
		idx, err := fingerprint.DecodeIndex(bytes.NewReader(data))
		if err != nil {
			return err
		}

		p := idx.Params
		fmt.Printf("File:        %s (%d bytes)\n", args[0], len(data))
		fmt.Printf("Version:     %d (compressed=%t, checksum=%016x, body=%d bytes)\n", hdr.Version, hdr.Compressed, hdr.Checksum, hdr.BodyLen)
		fmt.Printf("Sample rate: %d Hz\n", idx.SampleRate)
		fmt.Printf("Params:      N=%d H=%d K=%d F=%d dt=[%d,%d]\n", p.WindowSize, p.HopSize, p.TopK, p.FanOut, p.MinDelta, p.MaxDelta)
		fmt.Printf("Hashes:      %d distinct, %d entries\n", idx.HashCount(), idx.EntryCount())

		top := idx.TopHashes(inspectTop)
		if len(top) == 0 {
			return nil
		}
		fmt.Println("\nMost frequent hashes:")
		for _, s := range top {
			a, t, d := s.Hash.Unpack()
			fmt.Printf("  %s  anchor=%4d target=%4d dt=%3d  x%d\n", s.Hash, a, t, d, s.Count)
		}
		return nil
	},
}

var (
	specOut    string
	specWidth  int
	specHeight int
)

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram <wav>",
	Short: "Render a WAV file's spectrogram to PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := audio.ReadWAV(args[0])
		if err != nil {
			return err
		}

		out := specOut
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".png"
		}

		img := spectrogram.NewImage128(image.Rect(0, 0, specWidth, specHeight))
		black := spectrogram.ParseColor("000000")
		draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

		// Hamming window, FFT, linear magnitude
		spectrogram.Drawfft(img, sig.Samples, uint32(sig.SampleRate), uint32(specHeight), false, false, true, false)

		if err := spectrogram.SavePng(img, out); err != nil {
			return fmt.Errorf("saving %s: %w", out, err)
		}
		fmt.Printf("Saved spectrogram to %s\n", out)
		return nil
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectTop, "top", 10, "number of most frequent hashes to show")

	spectrogramCmd.Flags().StringVarP(&specOut, "output", "o", "", "output PNG (default: <wav>.png)")
	spectrogramCmd.Flags().IntVar(&specWidth, "width", 2048, "image width")
	spectrogramCmd.Flags().IntVar(&specHeight, "height", 512, "image height (frequency bins)")
}
