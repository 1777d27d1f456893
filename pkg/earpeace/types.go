package earpeace

import (
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
	"github.com/himanishpuri/earpeace/pkg/earpeace/storage"
)

const (
	StatusPending    = string(storage.StatusPending)
	StatusDownloaded = string(storage.StatusDownloaded)
	StatusPrepared   = string(storage.StatusPrepared)
	StatusIndexed    = string(storage.StatusIndexed)
	StatusFailed     = string(storage.StatusFailed)
)

var (
	ErrReferenceNotFound   = storage.ErrReferenceNotFound
	ErrInvalidTransition   = storage.ErrInvalidTransition
	ErrNoHashes            = fingerprint.ErrNoHashes
	ErrIndexUnavailable    = fingerprint.ErrIndexUnavailable
	ErrSampleRateMismatch  = errors.New("sample rate does not match the configured target")
	ErrReferenceNotIndexed = fmt.Errorf("%w: not indexed", storage.ErrReferenceNotFound)
)

// Reference is a catalog entry.
type Reference struct {
	Key           string    `json:"key"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	SourcePath    string    `json:"source_path,omitempty"`
	WAVPath       string    `json:"wav_path,omitempty"`
	IndexLocation string    `json:"index_location,omitempty"`
	DurationMs    int       `json:"duration_ms"`
	HashCount     int       `json:"hash_count"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MatchResult is where a clip sits inside the best-matching reference.
type MatchResult struct {
	Key           string              `json:"key,omitempty"`
	Title         string              `json:"title,omitempty"`
	Outcome       fingerprint.Outcome `json:"outcome"`
	OffsetFrames  int                 `json:"offset_frames"`
	OffsetSeconds float64             `json:"offset_seconds"`
	OffsetMs      int64               `json:"offset_ms"`
	Confidence    float64             `json:"confidence"`
	Votes         int                 `json:"votes"`
	QueryHashes   int                 `json:"query_hashes"`
	Evaluated     int                 `json:"evaluated"`
	Skipped       []string            `json:"skipped,omitempty"`
}

func (r *MatchResult) Found() bool {
	return r != nil && r.Outcome == fingerprint.OutcomeMatch
}

// StatusReport summarizes the catalog. LastMaintenanceAt is nil until the
// first rebuild run by this service instance.
type StatusReport struct {
	Counts            map[string]int64 `json:"counts"`
	Total             int64            `json:"total"`
	LastMaintenanceAt *time.Time       `json:"last_maintenance_at"`
}

type RebuildReport struct {
	Total   int               `json:"total"`
	Rebuilt []string          `json:"rebuilt"`
	Failed  map[string]string `json:"failed,omitempty"`
}
