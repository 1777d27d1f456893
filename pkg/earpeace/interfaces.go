package earpeace

import (
	"context"

	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
)

type Service interface {
	AddReference(ctx context.Context, key, title, mediaPath string) (*Reference, error)
	IndexWAV(ctx context.Context, key, title, wavPath string) (*Reference, error)
	IndexSignal(ctx context.Context, key, title string, sig audio.Signal) (*Reference, error)
	Match(ctx context.Context, mediaPath, clipKey string) (*MatchResult, error)
	MatchWAV(ctx context.Context, wavPath, clipKey string) (*MatchResult, error)
	MatchSignal(ctx context.Context, sig audio.Signal, clipKey string) (*MatchResult, error)
	MatchLandmarks(ctx context.Context, landmarks []fingerprint.Landmark, sampleRate int, clipKey string) (*MatchResult, error)
	RebuildPrepared(ctx context.Context, progress ProgressFunc) (*RebuildReport, error)
	Status(ctx context.Context) (*StatusReport, error)
	GetReference(key string) (*Reference, error)
	ListReferences() ([]Reference, error)
	DeleteReference(ctx context.Context, key string) error
	Close() error
}

// Catalog tracks references and their lifecycle.
type Catalog interface {
	UpsertReference(key, title, sourcePath string) (*Reference, error)
	GetReference(key string) (*Reference, error)
	ListReferences() ([]Reference, error)
	ListByStatus(status string) ([]Reference, error)
	CountByStatus() (map[string]int64, error)
	MarkDownloaded(key, sourcePath string) error
	MarkPrepared(key, wavPath string, durationMs int) error
	MarkIndexed(key, location string, hashCount int) error
	MarkFailed(key string, cause error) error
	DeleteReference(key string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// ProgressFunc is told about every reference a rebuild finishes; err is nil on success.
type ProgressFunc func(key string, err error)
