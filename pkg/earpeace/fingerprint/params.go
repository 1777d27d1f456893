package fingerprint

import (
	"fmt"
)

const (
	WindowSize = 2048
	HopSize    = 512
	TopK       = 5
	FanOut     = 5
	MinDelta   = 1
	MaxDelta   = 50

	fieldBits = 10
	fieldMask = 1<<fieldBits - 1
)

// Params groups the analysis constants. Reference and query must share them.
type Params struct {
	WindowSize int `json:"window_size"`
	HopSize    int `json:"hop_size"`
	TopK       int `json:"top_k"`
	FanOut     int `json:"fan_out"`
	MinDelta   int `json:"min_delta"`
	MaxDelta   int `json:"max_delta"`
}

func DefaultParams() Params {
	return Params{
		WindowSize: WindowSize,
		HopSize:    HopSize,
		TopK:       TopK,
		FanOut:     FanOut,
		MinDelta:   MinDelta,
		MaxDelta:   MaxDelta,
	}
}

// Bins is the number of frequency bins per frame, DC through Nyquist.
func (p Params) Bins() int {
	return p.WindowSize/2 + 1
}

// Validate rejects parameter sets the hash layout cannot represent.
// The Nyquist bin of a 2048 window is 1024 and masks to 0; that collision is accepted.
func (p Params) Validate() error {
	switch {
	case p.HopSize <= 0:
		return fmt.Errorf("%w: hop size must be positive, got %d", ErrInvalidParams, p.HopSize)
	case p.WindowSize <= p.HopSize:
		return fmt.Errorf("%w: window size %d must exceed hop size %d", ErrInvalidParams, p.WindowSize, p.HopSize)
	case p.WindowSize/2 > fieldMask+1:
		return fmt.Errorf("%w: window size %d has bins wider than %d bits", ErrInvalidParams, p.WindowSize, fieldBits)
	case p.TopK < 1:
		return fmt.Errorf("%w: top-k must be at least 1, got %d", ErrInvalidParams, p.TopK)
	case p.FanOut < 1:
		return fmt.Errorf("%w: fan-out must be at least 1, got %d", ErrInvalidParams, p.FanOut)
	case p.MinDelta < 1:
		return fmt.Errorf("%w: min delta must be at least 1, got %d", ErrInvalidParams, p.MinDelta)
	case p.MaxDelta < p.MinDelta:
		return fmt.Errorf("%w: max delta %d below min delta %d", ErrInvalidParams, p.MaxDelta, p.MinDelta)
	case p.MaxDelta > fieldMask:
		return fmt.Errorf("%w: max delta %d does not fit %d bits", ErrInvalidParams, p.MaxDelta, fieldBits)
	}
	return nil
}
