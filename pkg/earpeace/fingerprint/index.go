package fingerprint

import (
	"fmt"
	"slices"
	"sort"
)

// Index maps each hash of a reference to the frames it was anchored at.
type Index struct {
	SampleRate int
	Params     Params
	Hashes     map[Hash][]uint32
}

// NewIndex groups landmarks by hash. Frames keep landmark order, duplicates included.
func NewIndex(landmarks []Landmark, sampleRate int, p Params) *Index {
	idx := &Index{
		SampleRate: sampleRate,
		Params:     p,
		Hashes:     make(map[Hash][]uint32),
	}
	for _, lm := range landmarks {
		idx.Hashes[lm.Hash] = append(idx.Hashes[lm.Hash], lm.Frame)
	}
	return idx
}

// BuildIndex fingerprints a reference signal.
func BuildIndex(samples []float64, sampleRate int, p Params) (*Index, error) {
	landmarks, err := Fingerprint(samples, sampleRate, p)
	if err != nil {
		return nil, err
	}
	return NewIndex(landmarks, sampleRate, p), nil
}

// HopSize is the frame step the index was built with.
func (idx *Index) HopSize() int { return idx.Params.HopSize }

func (idx *Index) Empty() bool { return len(idx.Hashes) == 0 }

// HashCount is the number of distinct hashes.
func (idx *Index) HashCount() int { return len(idx.Hashes) }

// EntryCount is the number of (hash, frame) occurrences.
func (idx *Index) EntryCount() int {
	n := 0
	for _, frames := range idx.Hashes {
		n += len(frames)
	}
	return n
}

// Lookup returns the frames recorded for h, or nil.
func (idx *Index) Lookup(h Hash) []uint32 {
	return idx.Hashes[h]
}

// SortedHashes returns every hash in ascending order.
func (idx *Index) SortedHashes() []Hash {
	hashes := make([]Hash, 0, len(idx.Hashes))
	for h := range idx.Hashes {
		hashes = append(hashes, h)
	}
	slices.Sort(hashes)
	return hashes
}

// Compatible reports whether a query analysed with p at sampleRate can be
// scored against this index.
func (idx *Index) Compatible(sampleRate int, p Params) error {
	if idx.SampleRate != sampleRate {
		return fmt.Errorf("%w: sample rate %d, query %d", ErrIncompatibleIndex, idx.SampleRate, sampleRate)
	}
	if idx.Params != p {
		return fmt.Errorf("%w: %+v, query %+v", ErrIncompatibleIndex, idx.Params, p)
	}
	return nil
}

// Equal compares sample rate, hop and the per-hash frame multisets.
func (idx *Index) Equal(other *Index) bool {
	if idx == nil || other == nil {
		return idx == other
	}
	if idx.SampleRate != other.SampleRate || idx.HopSize() != other.HopSize() {
		return false
	}
	if len(idx.Hashes) != len(other.Hashes) {
		return false
	}
	for h, frames := range idx.Hashes {
		theirs, ok := other.Hashes[h]
		if !ok || len(theirs) != len(frames) {
			return false
		}
		a := slices.Clone(frames)
		b := slices.Clone(theirs)
		slices.Sort(a)
		slices.Sort(b)
		if !slices.Equal(a, b) {
			return false
		}
	}
	return true
}

// HashStat is a hash with its occurrence count.
type HashStat struct {
	Hash  Hash
	Count int
}

// TopHashes returns the n most frequent hashes, ties by ascending hash.
func (idx *Index) TopHashes(n int) []HashStat {
	stats := make([]HashStat, 0, len(idx.Hashes))
	for h, frames := range idx.Hashes {
		stats = append(stats, HashStat{Hash: h, Count: len(frames)})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Hash < stats[j].Hash
		}
		return stats[i].Count > stats[j].Count
	})
	if n >= 0 && n < len(stats) {
		stats = stats[:n]
	}
	return stats
}
