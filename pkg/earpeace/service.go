package earpeace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
	"github.com/himanishpuri/earpeace/pkg/earpeace/indexstore"
	"github.com/himanishpuri/earpeace/pkg/logger"
	"github.com/himanishpuri/earpeace/pkg/utils"
)

// earpeaceService is the default implementation of the Service interface.
type earpeaceService struct {
	catalog Catalog
	store   indexstore.Store
	matcher *fingerprint.Matcher
	params  fingerprint.Params
	log     Logger
	config  *Config

	ownsCatalog bool
	ownsStore   bool

	mu              sync.RWMutex
	lastMaintenance time.Time
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", fingerprint.ErrInvalidSampleRate, cfg.SampleRate)
	}

	s := &earpeaceService{
		params: fingerprint.DefaultParams(),
		log:    cfg.Logger,
		config: cfg,
	}

	var err error
	if cfg.Catalog != nil {
		s.catalog = cfg.Catalog
	} else {
		s.catalog, err = NewSQLiteCatalog(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		s.ownsCatalog = true
	}

	if cfg.Store != nil {
		s.store = cfg.Store
	} else {
		s.store, err = indexstore.Open(cfg.IndexBackend, cfg.IndexDir)
		if err != nil {
			if s.ownsCatalog {
				s.catalog.Close()
			}
			return nil, fmt.Errorf("failed to open index store: %w", err)
		}
		s.ownsStore = true
	}

	s.matcher = fingerprint.NewMatcher(s.store,
		fingerprint.WithParams(s.params),
		fingerprint.WithWorkers(cfg.Workers),
	)
	return s, nil
}

// AddReference transcodes media with ffmpeg and indexes the result.
// An empty key gets a generated custom: key.
func (s *earpeaceService) AddReference(ctx context.Context, key, title, mediaPath string) (*Reference, error) {
	if key == "" {
		key = utils.CustomKey()
	}
	if title == "" {
		title = s.probeTitle(ctx, mediaPath)
	}
	s.log.Infof("Adding reference %s (%s) from %s", key, title, mediaPath)

	ref, err := s.catalog.UpsertReference(key, title, mediaPath)
	if err != nil {
		return nil, err
	}
	// re-adding a prepared or indexed reference goes straight to prepared
	switch ref.Status {
	case StatusPending, StatusFailed, StatusDownloaded:
		if err := s.catalog.MarkDownloaded(key, mediaPath); err != nil {
			return nil, err
		}
	}

	wavPath, err := audio.ConvertToMonoWAV(ctx, mediaPath, s.wavDir(), audio.ConvertWAVConfig{
		SampleRate: s.config.SampleRate,
		Name:       key,
	})
	if err != nil {
		return nil, s.fail(key, fmt.Errorf("audio conversion failed: %w", err))
	}

	sig, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, s.fail(key, fmt.Errorf("failed to read WAV file: %w", err))
	}
	return s.prepareAndPublish(ctx, key, wavPath, sig)
}

// IndexWAV indexes an already prepared WAV at the target sample rate.
func (s *earpeaceService) IndexWAV(ctx context.Context, key, title, wavPath string) (*Reference, error) {
	if key == "" {
		key = utils.CustomKey()
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	}
	if _, err := s.catalog.UpsertReference(key, title, wavPath); err != nil {
		return nil, err
	}

	sig, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, s.fail(key, fmt.Errorf("failed to read WAV file: %w", err))
	}
	return s.prepareAndPublish(ctx, key, wavPath, sig)
}

// IndexSignal indexes samples already in memory.
func (s *earpeaceService) IndexSignal(ctx context.Context, key, title string, sig audio.Signal) (*Reference, error) {
	if key == "" {
		key = utils.CustomKey()
	}
	if _, err := s.catalog.UpsertReference(key, title, ""); err != nil {
		return nil, err
	}
	return s.prepareAndPublish(ctx, key, "", sig)
}

func (s *earpeaceService) prepareAndPublish(ctx context.Context, key, wavPath string, sig audio.Signal) (*Reference, error) {
	if sig.SampleRate != s.config.SampleRate {
		return nil, s.fail(key, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, sig.SampleRate, s.config.SampleRate))
	}
	durationMs := int(math.Round(sig.Duration() * 1000))
	if err := s.catalog.MarkPrepared(key, wavPath, durationMs); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, key, sig); err != nil {
		return nil, err
	}
	return s.catalog.GetReference(key)
}

// publish builds the index for a prepared reference, stores it and flips
// the catalog row to indexed. The catalog only points at a blob once the
// store has fully written it.
func (s *earpeaceService) publish(ctx context.Context, key string, sig audio.Signal) error {
	start := time.Now()

	idx, err := fingerprint.BuildIndex(sig.Samples, sig.SampleRate, s.params)
	if err != nil {
		return s.fail(key, err)
	}
	if idx.Empty() {
		return s.fail(key, fmt.Errorf("%w: %s", ErrNoHashes, key))
	}

	location, err := s.store.Save(ctx, key, idx)
	if err != nil {
		return s.fail(key, fmt.Errorf("failed to save index: %w", err))
	}
	if err := s.catalog.MarkIndexed(key, location, idx.EntryCount()); err != nil {
		return err
	}

	s.log.Infof("Indexed %s: %d hashes, %d entries in %s", key, idx.HashCount(), idx.EntryCount(), time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *earpeaceService) fail(key string, cause error) error {
	s.log.Errorf("Reference %s failed: %v", key, cause)
	if err := s.catalog.MarkFailed(key, cause); err != nil {
		s.log.Warnf("Could not mark %s failed: %v", key, err)
	}
	return cause
}

// Match transcodes a query clip and aligns it. A non-empty clipKey restricts
// the search to that reference.
func (s *earpeaceService) Match(ctx context.Context, mediaPath, clipKey string) (*MatchResult, error) {
	s.log.Infof("Matching audio: %s", mediaPath)

	wavPath, err := audio.ConvertToMonoWAV(ctx, mediaPath, s.queryDir(), audio.ConvertWAVConfig{
		SampleRate: s.config.SampleRate,
		Name:       "query-" + utils.GenerateUUID(),
	})
	if err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}
	defer utils.DeleteFile(wavPath)

	return s.MatchWAV(ctx, wavPath, clipKey)
}

func (s *earpeaceService) MatchWAV(ctx context.Context, wavPath, clipKey string) (*MatchResult, error) {
	sig, err := audio.ReadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return s.MatchSignal(ctx, sig, clipKey)
}

func (s *earpeaceService) MatchSignal(ctx context.Context, sig audio.Signal, clipKey string) (*MatchResult, error) {
	if sig.SampleRate != s.config.SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, sig.SampleRate, s.config.SampleRate)
	}
	landmarks, err := fingerprint.Fingerprint(sig.Samples, sig.SampleRate, s.params)
	if err != nil {
		return nil, err
	}
	return s.MatchLandmarks(ctx, landmarks, sig.SampleRate, clipKey)
}

// MatchLandmarks aligns landmarks computed elsewhere, e.g. in the browser.
func (s *earpeaceService) MatchLandmarks(ctx context.Context, landmarks []fingerprint.Landmark, sampleRate int, clipKey string) (*MatchResult, error) {
	if sampleRate != s.config.SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, sampleRate, s.config.SampleRate)
	}
	candidates, err := s.candidates(clipKey)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Query has %d hashes against %d candidates", len(landmarks), len(candidates))

	res, err := s.matcher.MatchLandmarks(ctx, landmarks, sampleRate, candidates)
	if err != nil {
		return nil, err
	}
	if res.Skipped != nil {
		s.log.Warnf("Skipped %d candidates: %v", len(res.SkippedKeys), res.Skipped)
	}

	out := &MatchResult{
		Key:           res.Key,
		Outcome:       res.Outcome,
		OffsetFrames:  res.OffsetFrames,
		OffsetSeconds: res.OffsetSeconds,
		OffsetMs:      int64(math.Round(res.OffsetSeconds * 1000)),
		Confidence:    res.Confidence,
		Votes:         res.Votes,
		QueryHashes:   res.QueryHashes,
		Evaluated:     res.Evaluated,
		Skipped:       res.SkippedKeys,
	}
	if out.Found() {
		if ref, err := s.catalog.GetReference(out.Key); err == nil {
			out.Title = ref.Title
		}
		s.log.Infof("Matched %s at %.3fs (votes=%d, confidence=%.3f)", out.Key, out.OffsetSeconds, out.Votes, out.Confidence)
	} else {
		s.log.Infof("No match (%s) for %d query hashes", out.Outcome, out.QueryHashes)
	}
	return out, nil
}

// candidates maps reference key to index location for every indexed
// reference, or for clipKey alone.
func (s *earpeaceService) candidates(clipKey string) (map[string]string, error) {
	if clipKey != "" {
		ref, err := s.catalog.GetReference(clipKey)
		if err != nil {
			return nil, err
		}
		if ref.Status != StatusIndexed || ref.IndexLocation == "" {
			return nil, fmt.Errorf("%w: %s is %s", ErrReferenceNotIndexed, clipKey, ref.Status)
		}
		return map[string]string{ref.Key: ref.IndexLocation}, nil
	}

	refs, err := s.catalog.ListByStatus(StatusIndexed)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.IndexLocation != "" {
			out[ref.Key] = ref.IndexLocation
		}
	}
	return out, nil
}

// RebuildPrepared indexes every prepared reference from its WAV. Failures do
// not stop the run; they are aggregated into the returned error.
func (s *earpeaceService) RebuildPrepared(ctx context.Context, progress ProgressFunc) (*RebuildReport, error) {
	defer s.stampMaintenance()

	refs, err := s.catalog.ListByStatus(StatusPrepared)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Rebuilding %d prepared references", len(refs))

	report := &RebuildReport{Total: len(refs), Failed: map[string]string{}}
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.config.Workers))
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			err := s.rebuildOne(gctx, ref)

			mu.Lock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", ref.Key, err))
				report.Failed[ref.Key] = err.Error()
			} else {
				report.Rebuilt = append(report.Rebuilt, ref.Key)
			}
			mu.Unlock()

			if progress != nil {
				progress(ref.Key, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, errs.ErrorOrNil()
}

func (s *earpeaceService) rebuildOne(ctx context.Context, ref Reference) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.WAVPath == "" {
		return s.fail(ref.Key, errors.New("prepared reference has no WAV path"))
	}
	sig, err := audio.ReadWAV(ref.WAVPath)
	if err != nil {
		return s.fail(ref.Key, err)
	}
	if sig.SampleRate != s.config.SampleRate {
		return s.fail(ref.Key, fmt.Errorf("%w: got %d Hz", ErrSampleRateMismatch, sig.SampleRate))
	}
	return s.publish(ctx, ref.Key, sig)
}

func (s *earpeaceService) stampMaintenance() {
	s.mu.Lock()
	s.lastMaintenance = time.Now().UTC()
	s.mu.Unlock()
}

func (s *earpeaceService) Status(_ context.Context) (*StatusReport, error) {
	counts, err := s.catalog.CountByStatus()
	if err != nil {
		return nil, err
	}
	report := &StatusReport{Counts: counts}
	for _, n := range counts {
		report.Total += n
	}

	s.mu.RLock()
	if !s.lastMaintenance.IsZero() {
		t := s.lastMaintenance
		report.LastMaintenanceAt = &t
	}
	s.mu.RUnlock()
	return report, nil
}

func (s *earpeaceService) GetReference(key string) (*Reference, error) {
	return s.catalog.GetReference(key)
}

func (s *earpeaceService) ListReferences() ([]Reference, error) {
	return s.catalog.ListReferences()
}

// DeleteReference drops the index blob first, then the catalog row, so the
// catalog never points at a missing blob for an indexed reference.
func (s *earpeaceService) DeleteReference(ctx context.Context, key string) error {
	ref, err := s.catalog.GetReference(key)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	if err := s.catalog.DeleteReference(key); err != nil {
		return err
	}
	if ref.WAVPath != "" && strings.HasPrefix(ref.WAVPath, s.wavDir()+string(filepath.Separator)) {
		if err := utils.DeleteFile(ref.WAVPath); err != nil {
			s.log.Warnf("Could not remove %s: %v", ref.WAVPath, err)
		}
	}
	s.log.Infof("Deleted reference %s", key)
	return nil
}

// Close releases the catalog and store the service opened itself.
func (s *earpeaceService) Close() error {
	var errs *multierror.Error
	if s.ownsStore {
		errs = multierror.Append(errs, s.store.Close())
	}
	if s.ownsCatalog {
		errs = multierror.Append(errs, s.catalog.Close())
	}
	return errs.ErrorOrNil()
}

func (s *earpeaceService) probeTitle(ctx context.Context, mediaPath string) string {
	meta, err := audio.Probe(ctx, mediaPath)
	if err != nil {
		s.log.Debugf("ffprobe %s: %v", mediaPath, err)
		base := filepath.Base(mediaPath)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return meta.DisplayTitle()
}

func (s *earpeaceService) wavDir() string {
	return filepath.Join(s.config.TempDir, "wav")
}

func (s *earpeaceService) queryDir() string {
	return filepath.Join(s.config.TempDir, "queries")
}
