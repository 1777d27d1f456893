// Package indexstore persists fingerprint indexes, one blob per reference.
package indexstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Store saves and loads index blobs. Locations returned by Save are what
// the catalog records and what Load expects back.
type Store interface {
	fingerprint.Loader
	Save(ctx context.Context, key string, idx *fingerprint.Index) (string, error)
	Locate(key string) string
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the store for backend rooted at dir. An empty backend means file.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendBadger:
		return NewBadgerStore(dir)
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

func unavailable(location string, err error) error {
	return fmt.Errorf("%w: %s: %v", fingerprint.ErrIndexUnavailable, location, err)
}
