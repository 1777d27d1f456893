package main

import (
	"fmt"
	"time"

	"github.com/himanishpuri/earpeace/pkg/earpeace"
	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
)

// Landmark limit constants for validation
const (
	// MaxLandmarksHardLimit is roughly two minutes of audio at the default parameters
	MaxLandmarksHardLimit = 200000

	// LandmarkWarningThreshold triggers logging for large batches
	LandmarkWarningThreshold = 50000
)

// LandmarkDTO is one landmark as produced by the wasm client.
type LandmarkDTO struct {
	Hash  uint32 `json:"hash"`
	Frame uint32 `json:"frame"`
}

// MatchLandmarksRequest is the request body for POST /api/match/landmarks
type MatchLandmarksRequest struct {
	SampleRate int           `json:"sample_rate"`
	ClipID     string        `json:"clip_id,omitempty"`
	Landmarks  []LandmarkDTO `json:"landmarks"`
}

// Validate checks sizes and that every hash could have come from params.
func (r *MatchLandmarksRequest) Validate(p fingerprint.Params) error {
	if r.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive")
	}
	if len(r.Landmarks) == 0 {
		return fmt.Errorf("landmarks cannot be empty")
	}
	if len(r.Landmarks) > MaxLandmarksHardLimit {
		return fmt.Errorf("too many landmarks: %d (maximum: %d)", len(r.Landmarks), MaxLandmarksHardLimit)
	}
	for _, lm := range r.Landmarks {
		if !isValidHash(fingerprint.Hash(lm.Hash), p) {
			return fmt.Errorf("invalid hash: %d", lm.Hash)
		}
	}
	return nil
}

func (r *MatchLandmarksRequest) ToLandmarks() []fingerprint.Landmark {
	out := make([]fingerprint.Landmark, len(r.Landmarks))
	for i, lm := range r.Landmarks {
		out[i] = fingerprint.Landmark{Hash: fingerprint.Hash(lm.Hash), Frame: lm.Frame}
	}
	return out
}

// isValidHash rejects hashes with bits above the three 10-bit fields or a
// frame delta outside the pairing window.
func isValidHash(h fingerprint.Hash, p fingerprint.Params) bool {
	if h>>30 != 0 {
		return false
	}
	_, _, dt := h.Unpack()
	return dt >= p.MinDelta && dt <= p.MaxDelta
}

// MatchResponse is returned by both match endpoints.
type MatchResponse struct {
	ClipID        string   `json:"clip_id"`
	Title         string   `json:"title,omitempty"`
	OffsetMs      int64    `json:"t_offset_ms"`
	OffsetSeconds float64  `json:"offset_seconds"`
	Confidence    float64  `json:"confidence"`
	Votes         int      `json:"votes"`
	QueryHashes   int      `json:"query_hashes"`
	Evaluated     int      `json:"evaluated"`
	Skipped       []string `json:"skipped,omitempty"`
}

func newMatchResponse(res *earpeace.MatchResult) MatchResponse {
	return MatchResponse{
		ClipID:        res.Key,
		Title:         res.Title,
		OffsetMs:      res.OffsetMs,
		OffsetSeconds: res.OffsetSeconds,
		Confidence:    res.Confidence,
		Votes:         res.Votes,
		QueryHashes:   res.QueryHashes,
		Evaluated:     res.Evaluated,
		Skipped:       res.Skipped,
	}
}

// ListReferencesResponse is the response for GET /api/references
type ListReferencesResponse struct {
	References []earpeace.Reference `json:"references"`
	Count      int                  `json:"count"`
}

// DeleteReferenceResponse is the response for DELETE /api/references/{key}
type DeleteReferenceResponse struct {
	Message string `json:"message"`
	Key     string `json:"key"`
}

// StatusResponse is the response for GET /api/admin/status
type StatusResponse struct {
	LastMaintenanceAt *time.Time       `json:"last_maintenance_at"`
	IntervalSeconds   int64            `json:"interval_seconds"`
	Running           bool             `json:"running"`
	Counts            map[string]int64 `json:"counts"`
	Total             int64            `json:"total"`
}

type MaintenanceResponse struct {
	Started bool `json:"started"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
