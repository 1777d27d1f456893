package fingerprint

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLoader serves indexes from memory; unknown locations fail.
type memLoader struct {
	indexes map[string]*Index
	calls   atomic.Int32
}

func (l *memLoader) Load(_ context.Context, location string) (*Index, error) {
	l.calls.Add(1)
	idx, ok := l.indexes[location]
	if !ok {
		return nil, errors.Join(ErrIndexUnavailable, errors.New("no blob at "+location))
	}
	return idx, nil
}

func buildIndex(t *testing.T, samples []float64) *Index {
	t.Helper()
	idx, err := BuildIndex(samples, testRate, DefaultParams())
	require.NoError(t, err)
	return idx
}

func TestMatchRecoversOffset(t *testing.T) {
	ref := sweep(500, 1500, 5)
	loader := &memLoader{indexes: map[string]*Index{"loc/ep1": buildIndex(t, ref)}}
	m := NewMatcher(loader)

	query := ref[2*testRate : 3*testRate]
	res, err := m.Match(context.Background(), query, testRate, map[string]string{"ep1": "loc/ep1"})
	require.NoError(t, err)

	require.True(t, res.Found())
	assert.Equal(t, "ep1", res.Key)
	// within one hop of the true 2.0s cut
	assert.InDelta(t, 2.0, res.OffsetSeconds, 0.035)
	assert.Equal(t, float64(res.OffsetFrames*HopSize)/testRate, res.OffsetSeconds)
	assert.Greater(t, res.Confidence, 0.3)
	assert.LessOrEqual(t, res.Confidence, 1.0)
	assert.Equal(t, 1, res.Evaluated)
	assert.NoError(t, res.Skipped)
}

func TestMatchPicksSourceReference(t *testing.T) {
	a := tone(440, 5)
	b := noise(42, 5)
	loader := &memLoader{indexes: map[string]*Index{
		"a.fp": buildIndex(t, a),
		"b.fp": buildIndex(t, b),
	}}
	m := NewMatcher(loader, WithWorkers(2))

	res, err := m.Match(context.Background(), a[testRate:2*testRate], testRate,
		map[string]string{"A": "a.fp", "B": "b.fp"})
	require.NoError(t, err)

	require.True(t, res.Found())
	assert.Equal(t, "A", res.Key)
	assert.Greater(t, res.Confidence, 0.9)
	assert.Equal(t, 2, res.Evaluated)
}

func TestMatchSilentQuery(t *testing.T) {
	loader := &memLoader{indexes: map[string]*Index{"x": buildIndex(t, tone(440, 2))}}
	m := NewMatcher(loader)

	res, err := m.Match(context.Background(), make([]float64, testRate), testRate, map[string]string{"x": "x"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoHashes, res.Outcome)
	assert.Empty(t, res.Key)
	assert.Zero(t, res.OffsetSeconds)
	assert.Zero(t, res.Confidence)
	assert.Zero(t, loader.calls.Load())
}

func TestMatchNoCandidates(t *testing.T) {
	loader := &memLoader{}
	m := NewMatcher(loader)

	res, err := m.Match(context.Background(), tone(440, 1), testRate, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Positive(t, res.QueryHashes)
	assert.Zero(t, loader.calls.Load(), "no load attempted")
}

func TestMatchSkipsUnavailable(t *testing.T) {
	ref := sweep(500, 1500, 4)
	loader := &memLoader{indexes: map[string]*Index{"good": buildIndex(t, ref)}}
	m := NewMatcher(loader)

	res, err := m.Match(context.Background(), ref[testRate:2*testRate], testRate, map[string]string{
		"broken": "missing",
		"ok":     "good",
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Key)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, []string{"broken"}, res.SkippedKeys)
	require.Error(t, res.Skipped)
	assert.ErrorIs(t, res.Skipped, ErrIndexUnavailable)
}

func TestMatchAllUnavailable(t *testing.T) {
	m := NewMatcher(&memLoader{})

	res, err := m.Match(context.Background(), tone(440, 1), testRate, map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.Zero(t, res.Evaluated)
	assert.Len(t, res.SkippedKeys, 2)
}

func TestMatchSkipsIncompatibleIndex(t *testing.T) {
	ref := tone(440, 2)
	other := DefaultParams()
	other.FanOut = 3
	stale, err := BuildIndex(ref, testRate, other)
	require.NoError(t, err)

	m := NewMatcher(&memLoader{indexes: map[string]*Index{"stale": stale}})
	res, err := m.Match(context.Background(), ref, testRate, map[string]string{"k": "stale"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
	assert.ErrorIs(t, res.Skipped, ErrIncompatibleIndex)
}

func TestMatchTieGoesToFirstKey(t *testing.T) {
	ref := sweep(500, 1500, 3)
	idx := buildIndex(t, ref)
	m := NewMatcher(&memLoader{indexes: map[string]*Index{"same": idx}}, WithWorkers(4))

	candidates := map[string]string{"zeta": "same", "alpha": "same", "mid": "same"}
	for i := 0; i < 5; i++ {
		res, err := m.Match(context.Background(), ref[testRate:2*testRate], testRate, candidates)
		require.NoError(t, err)
		assert.Equal(t, "alpha", res.Key)
	}
}

func TestMatchLandmarksBadInput(t *testing.T) {
	m := NewMatcher(&memLoader{})

	_, err := m.MatchLandmarks(context.Background(), []Landmark{{Hash: 1}}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidSampleRate)

	bad := DefaultParams()
	bad.HopSize = 0
	_, err = NewMatcher(&memLoader{}, WithParams(bad)).MatchLandmarks(context.Background(), nil, testRate, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestMatchLandmarksHistogram(t *testing.T) {
	// reference: hash 1 at frames 10 and 20, hash 2 at frame 21
	ref := NewIndex([]Landmark{{Hash: 1, Frame: 10}, {Hash: 1, Frame: 20}, {Hash: 2, Frame: 21}}, testRate, DefaultParams())
	m := NewMatcher(LoaderFunc(func(context.Context, string) (*Index, error) { return ref, nil }))

	query := []Landmark{{Hash: 1, Frame: 0}, {Hash: 2, Frame: 1}, {Hash: 3, Frame: 2}}
	res, err := m.MatchLandmarks(context.Background(), query, testRate, map[string]string{"r": "r"})
	require.NoError(t, err)

	// offsets: 10, 20 from hash 1; 20 from hash 2
	assert.Equal(t, 20, res.OffsetFrames)
	assert.Equal(t, 2, res.Votes)
	assert.InDelta(t, 2.0/3.0, res.Confidence, 1e-12)
	assert.InDelta(t, 20*512.0/testRate, res.OffsetSeconds, 1e-12)
}

func TestMatchOffsetTieFirstSeen(t *testing.T) {
	ref := NewIndex([]Landmark{{Hash: 1, Frame: 30}, {Hash: 1, Frame: 5}}, testRate, DefaultParams())
	m := NewMatcher(LoaderFunc(func(context.Context, string) (*Index, error) { return ref, nil }))

	res, err := m.MatchLandmarks(context.Background(), []Landmark{{Hash: 1, Frame: 0}}, testRate, map[string]string{"r": "r"})
	require.NoError(t, err)
	assert.Equal(t, 30, res.OffsetFrames)
	assert.Equal(t, 1, res.Votes)
}

func TestMatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMatcher(&memLoader{indexes: map[string]*Index{"x": buildIndex(t, tone(440, 2))}})
	_, err := m.Match(ctx, tone(440, 1), testRate, map[string]string{"x": "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
