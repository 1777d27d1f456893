package fingerprint

// PeakSet holds, per frame, up to K bin indices by descending magnitude.
type PeakSet [][]int

func (ps PeakSet) Frames() int { return len(ps) }

// ExtractPeaks keeps the k strongest bins of every frame. Equal magnitudes
// keep the lower bin first. Bins with zero log-magnitude carry no energy and
// are never picked, so silent frames yield no peaks.
func ExtractPeaks(spec Spectrogram, k int) PeakSet {
	peaks := make(PeakSet, len(spec))
	if k < 1 {
		return peaks
	}

	for t, frame := range spec {
		peaks[t] = topBins(frame, k)
	}
	return peaks
}

func topBins(frame []float64, k int) []int {
	top := make([]int, 0, k)

	for bin, mag := range frame {
		if mag <= 0 {
			continue
		}
		if len(top) == k && mag <= frame[top[k-1]] {
			continue
		}

		// insert after every bin at least as strong
		pos := len(top)
		for pos > 0 && frame[top[pos-1]] < mag {
			pos--
		}
		if len(top) < k {
			top = append(top, 0)
		}
		copy(top[pos+1:], top[pos:len(top)-1])
		top[pos] = bin
	}
	return top
}
