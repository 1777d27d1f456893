package storage

import "errors"

var (
	ErrReferenceNotFound = errors.New("reference not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is where a reference is in its lifecycle:
//
//	pending -> downloaded -> prepared -> indexed
//
// Local WAVs may go straight from pending to prepared. Any state can fail,
// a failed reference can be retried, and indexed can drop back to prepared
// for a rebuild.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusPrepared   Status = "prepared"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

var AllStatuses = []Status{StatusPending, StatusDownloaded, StatusPrepared, StatusIndexed, StatusFailed}

var transitions = map[Status][]Status{
	StatusPending:    {StatusDownloaded, StatusPrepared},
	StatusDownloaded: {StatusPrepared},
	StatusPrepared:   {StatusIndexed},
	StatusIndexed:    {StatusPrepared},
	StatusFailed:     {StatusPending, StatusDownloaded, StatusPrepared},
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ValidTransition reports whether a reference may move from one status to
// another. Staying put is always allowed.
func ValidTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to || to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
