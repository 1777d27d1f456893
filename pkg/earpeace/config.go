package earpeace

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/indexstore"
)

type Config struct {
	DBPath       string
	IndexDir     string
	IndexBackend string
	TempDir      string
	SampleRate   int
	Workers      int
	Logger       Logger
	Catalog      Catalog
	Store        indexstore.Store
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithIndexDir sets where index blobs are kept.
func WithIndexDir(dir string) Option {
	return func(c *Config) {
		c.IndexDir = dir
	}
}

// WithIndexBackend selects "file" or "badger".
func WithIndexBackend(backend string) Option {
	return func(c *Config) {
		c.IndexBackend = backend
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithWorkers bounds parallel candidate loads and rebuild jobs.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithCatalog injects a catalog; the service will not close it.
func WithCatalog(catalog Catalog) Option {
	return func(c *Config) {
		c.Catalog = catalog
	}
}

// WithStore injects an index store; the service will not close it.
func WithStore(store indexstore.Store) Option {
	return func(c *Config) {
		c.Store = store
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:       "earpeace.sqlite3",
		IndexDir:     "indexes",
		IndexBackend: indexstore.BackendFile,
		TempDir:      filepath.Join(os.TempDir(), "earpeace"),
		SampleRate:   audio.TargetSampleRate,
		Workers:      runtime.NumCPU(),
		Logger:       nil,
	}
}
