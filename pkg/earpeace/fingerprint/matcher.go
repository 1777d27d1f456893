package fingerprint

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Loader fetches a stored index by location.
type Loader interface {
	Load(ctx context.Context, location string) (*Index, error)
}

type LoaderFunc func(ctx context.Context, location string) (*Index, error)

func (f LoaderFunc) Load(ctx context.Context, location string) (*Index, error) {
	return f(ctx, location)
}

type Outcome string

const (
	OutcomeMatch    Outcome = "match"
	OutcomeNoMatch  Outcome = "no_match"
	OutcomeNoHashes Outcome = "no_hashes"
)

type MatchResult struct {
	Key           string
	Outcome       Outcome
	OffsetFrames  int
	OffsetSeconds float64
	Confidence    float64
	Votes         int
	QueryHashes   int
	// Evaluated counts candidates that loaded and were scored.
	Evaluated int
	// Skipped holds one error per candidate that could not be loaded.
	Skipped     error
	SkippedKeys []string
}

func (r *MatchResult) Found() bool {
	return r != nil && r.Outcome == OutcomeMatch
}

type Matcher struct {
	loader  Loader
	params  Params
	workers int
}

type MatcherOption func(*Matcher)

func WithParams(p Params) MatcherOption {
	return func(m *Matcher) { m.params = p }
}

// WithWorkers bounds how many candidates are loaded at once.
func WithWorkers(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.workers = n
		}
	}
}

func NewMatcher(loader Loader, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		loader:  loader,
		params:  DefaultParams(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match fingerprints the query and aligns it against candidates (key -> location).
func (m *Matcher) Match(ctx context.Context, query []float64, sampleRate int, candidates map[string]string) (*MatchResult, error) {
	landmarks, err := Fingerprint(query, sampleRate, m.params)
	if err != nil {
		return nil, err
	}
	return m.MatchLandmarks(ctx, landmarks, sampleRate, candidates)
}

type candidateScore struct {
	votes  int
	offset int
	err    error
}

// MatchLandmarks aligns precomputed query landmarks against candidates.
// Candidates that fail to load are skipped and reported in the result;
// the only errors returned are bad input and context cancellation.
func (m *Matcher) MatchLandmarks(ctx context.Context, landmarks []Landmark, sampleRate int, candidates map[string]string) (*MatchResult, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}
	if err := m.params.Validate(); err != nil {
		return nil, err
	}

	res := &MatchResult{Outcome: OutcomeNoMatch, QueryHashes: len(landmarks)}
	if len(landmarks) == 0 {
		res.Outcome = OutcomeNoHashes
		return res, nil
	}
	if len(candidates) == 0 {
		return res, nil
	}

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	scores := make([]candidateScore, len(keys))
	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			scores[i] = m.score(ctx, candidates[key], landmarks, sampleRate)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var skipped *multierror.Error
	bestIdx := -1
	for i, sc := range scores {
		if sc.err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("%s: %w", keys[i], sc.err))
			res.SkippedKeys = append(res.SkippedKeys, keys[i])
			continue
		}
		res.Evaluated++
		if sc.votes > 0 && (bestIdx < 0 || sc.votes > scores[bestIdx].votes) {
			bestIdx = i
		}
	}
	res.Skipped = skipped.ErrorOrNil()

	if bestIdx < 0 {
		return res, nil
	}

	best := scores[bestIdx]
	res.Key = keys[bestIdx]
	res.Outcome = OutcomeMatch
	res.Votes = best.votes
	res.OffsetFrames = best.offset
	res.OffsetSeconds = float64(best.offset*m.params.HopSize) / float64(sampleRate)
	res.Confidence = min(1.0, float64(best.votes)/float64(len(landmarks)))
	return res, nil
}

// score votes refFrame-queryFrame over every shared hash. Among offsets with
// the top count, the one first seen wins.
func (m *Matcher) score(ctx context.Context, location string, landmarks []Landmark, sampleRate int) candidateScore {
	if err := ctx.Err(); err != nil {
		return candidateScore{err: err}
	}

	idx, err := m.loader.Load(ctx, location)
	if err != nil {
		return candidateScore{err: err}
	}
	if idx == nil {
		return candidateScore{err: fmt.Errorf("%w: loader returned no index", ErrIndexUnavailable)}
	}
	if err := idx.Compatible(sampleRate, m.params); err != nil {
		return candidateScore{err: err}
	}

	hist := make(map[int]int)
	var order []int
	for _, lm := range landmarks {
		for _, ref := range idx.Lookup(lm.Hash) {
			off := int(ref) - int(lm.Frame)
			if _, seen := hist[off]; !seen {
				order = append(order, off)
			}
			hist[off]++
		}
	}

	var sc candidateScore
	for _, off := range order {
		if hist[off] > sc.votes {
			sc.votes = hist[off]
			sc.offset = off
		}
	}
	return sc
}
