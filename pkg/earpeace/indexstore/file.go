package indexstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/himanishpuri/earpeace/pkg/earpeace/fingerprint"
	"github.com/himanishpuri/earpeace/pkg/utils"
)

const fileExt = ".fp"

// FileStore keeps each index at <dir>/<key>.fp. Saves go through a temp
// file and a rename, so a reader sees the old blob or the new one.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := utils.MakeDir(dir); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) Locate(key string) string {
	return filepath.Join(s.dir, utils.EscapeKey(key)+fileExt)
}

func (s *FileStore) Save(ctx context.Context, key string, idx *fingerprint.Index) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := fingerprint.MarshalIndex(idx, true)
	if err != nil {
		return "", err
	}

	location := s.Locate(key)
	if err := utils.WriteFileAtomic(location, data, 0o644); err != nil {
		return "", err
	}
	return location, nil
}

func (s *FileStore) Load(ctx context.Context, location string) (*fingerprint.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, unavailable(location, err)
	}
	return fingerprint.UnmarshalIndex(data)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	return utils.DeleteFile(s.Locate(key))
}

func (s *FileStore) Close() error { return nil }
