package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/earpeace/pkg/utils"
)

const defaultTranscodeTimeout = 2 * time.Minute

type ConvertWAVConfig struct {
	SampleRate int
	// Name of the output file without extension; defaults to the input base name.
	Name string
}

// ConvertToMonoWAV transcodes any ffmpeg-readable media into mono 16-bit PCM
// at the configured rate. The output only appears once ffmpeg has finished.
func ConvertToMonoWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.SampleRate == 0 {
		cfg.SampleRate = TargetSampleRate
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTranscodeTimeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	name := cfg.Name
	if name == "" {
		base := filepath.Base(inputPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	outputPath := filepath.Join(outputDir, utils.EscapeKey(name)+".wav")

	tmp, err := os.CreateTemp(outputDir, "."+filepath.Base(outputPath)+".tmp-*.wav")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	// no-op once the rename succeeded
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "error",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("ffmpeg is not installed: %w", err)
		}
		return "", fmt.Errorf("%w: ffmpeg failed: %v (%s)", ErrDecodeFailure, err, strings.TrimSpace(string(out)))
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}
