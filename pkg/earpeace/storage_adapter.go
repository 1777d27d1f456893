package earpeace

import (
	"github.com/himanishpuri/earpeace/pkg/earpeace/storage"
)

// catalogAdapter adapts storage.DBClient to the Catalog interface.
type catalogAdapter struct {
	db *storage.DBClient
}

// NewSQLiteCatalog opens the sqlite-backed reference catalog.
func NewSQLiteCatalog(dbPath string) (Catalog, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &catalogAdapter{db: db}, nil
}

func toReference(r *storage.Reference) *Reference {
	return &Reference{
		Key:           r.Key,
		Title:         r.Title,
		Status:        string(r.Status),
		SourcePath:    r.SourcePath,
		WAVPath:       r.WAVPath,
		IndexLocation: r.IndexLocation,
		DurationMs:    r.DurationMs,
		HashCount:     r.HashCount,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toReferences(rows []storage.Reference) []Reference {
	out := make([]Reference, len(rows))
	for i := range rows {
		out[i] = *toReference(&rows[i])
	}
	return out
}

func (c *catalogAdapter) UpsertReference(key, title, sourcePath string) (*Reference, error) {
	ref, err := c.db.UpsertReference(key, title, sourcePath)
	if err != nil {
		return nil, err
	}
	return toReference(ref), nil
}

func (c *catalogAdapter) GetReference(key string) (*Reference, error) {
	ref, err := c.db.GetReference(key)
	if err != nil {
		return nil, err
	}
	return toReference(ref), nil
}

func (c *catalogAdapter) ListReferences() ([]Reference, error) {
	rows, err := c.db.ListReferences()
	if err != nil {
		return nil, err
	}
	return toReferences(rows), nil
}

func (c *catalogAdapter) ListByStatus(status string) ([]Reference, error) {
	rows, err := c.db.ListByStatus(storage.Status(status))
	if err != nil {
		return nil, err
	}
	return toReferences(rows), nil
}

func (c *catalogAdapter) CountByStatus() (map[string]int64, error) {
	counts, err := c.db.CountByStatus()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(counts))
	for s, n := range counts {
		out[string(s)] = n
	}
	return out, nil
}

func (c *catalogAdapter) MarkDownloaded(key, sourcePath string) error {
	return c.db.MarkDownloaded(key, sourcePath)
}

func (c *catalogAdapter) MarkPrepared(key, wavPath string, durationMs int) error {
	return c.db.MarkPrepared(key, wavPath, durationMs)
}

func (c *catalogAdapter) MarkIndexed(key, location string, hashCount int) error {
	return c.db.MarkIndexed(key, location, hashCount)
}

func (c *catalogAdapter) MarkFailed(key string, cause error) error {
	return c.db.MarkFailed(key, cause)
}

func (c *catalogAdapter) DeleteReference(key string) error {
	return c.db.DeleteReference(key)
}

func (c *catalogAdapter) Close() error {
	return c.db.Close()
}
