package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/himanishpuri/earpeace/pkg/earpeace"
	"github.com/himanishpuri/earpeace/pkg/earpeace/audio"
	"github.com/himanishpuri/earpeace/pkg/earpeace/indexstore"
	"github.com/himanishpuri/earpeace/pkg/logger"
)

const EnvPrefix = "EARPEACE"

// Config is shared by the CLI and the server.
type Config struct {
	DBPath       string `mapstructure:"db"`
	IndexDir     string `mapstructure:"index_dir"`
	IndexBackend string `mapstructure:"index_backend"`
	TempDir      string `mapstructure:"temp_dir"`
	SampleRate   int    `mapstructure:"sample_rate"`
	Workers      int    `mapstructure:"workers"`
	LogLevel     string `mapstructure:"log_level"`
	LogColor     bool   `mapstructure:"log_color"`

	Server ServerConfig `mapstructure:"server"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	MaxUploadMB   int64  `mapstructure:"max_upload_mb"`
	AllowedOrigin string `mapstructure:"allowed_origin"`

	// MaintenanceInterval is how often prepared references are rebuilt in
	// the background. Zero disables the scheduler.
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "earpeace.sqlite3")
	v.SetDefault("index_dir", "indexes")
	v.SetDefault("index_backend", indexstore.BackendFile)
	v.SetDefault("temp_dir", filepath.Join(os.TempDir(), "earpeace"))
	v.SetDefault("sample_rate", audio.TargetSampleRate)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_color", true)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("server.maintenance_interval", 24*time.Hour)
}

// New returns a viper instance with defaults and EARPEACE_* env lookup.
// When configFile is empty an earpeace.yaml in the working directory or
// $HOME/.config/earpeace is used if present.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("earpeace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "earpeace"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// BindFlags binds every flag in fs to the viper key of the same name with
// dashes turned into underscores, so --index-dir overrides index_dir.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var lastErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})
	return lastErr
}

// Load decodes v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	switch c.IndexBackend {
	case indexstore.BackendFile, indexstore.BackendBadger:
	default:
		return fmt.Errorf("unknown index backend %q", c.IndexBackend)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.Server.MaxUploadMB)
	}
	if c.Server.MaintenanceInterval < 0 {
		return fmt.Errorf("maintenance interval cannot be negative, got %s", c.Server.MaintenanceInterval)
	}
	return nil
}

// ApplyLogging configures log to match the config. Debug level also
// reports the calling function.
func (c *Config) ApplyLogging(log *logger.Logger) {
	level := logger.ParseLevel(c.LogLevel)
	log.SetLevel(level)
	log.SetColorize(c.LogColor)
	log.SetShowCaller(level == logger.DEBUG)
}

// ServiceOptions maps the config onto service options.
func (c *Config) ServiceOptions() []earpeace.Option {
	return []earpeace.Option{
		earpeace.WithDBPath(c.DBPath),
		earpeace.WithIndexDir(c.IndexDir),
		earpeace.WithIndexBackend(c.IndexBackend),
		earpeace.WithTempDir(c.TempDir),
		earpeace.WithSampleRate(c.SampleRate),
		earpeace.WithWorkers(c.Workers),
	}
}
