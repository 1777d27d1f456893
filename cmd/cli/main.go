package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/earpeace/internal/config"
	"github.com/himanishpuri/earpeace/pkg/earpeace"
	"github.com/himanishpuri/earpeace/pkg/logger"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "earpeace",
	Short: "Find where a short clip sits inside indexed reference audio",
	Long: `earpeace fingerprints reference audio into constellation-hash indexes and
aligns short query clips against them, reporting the best reference and the
offset of the clip inside it.

Settings come from flags, EARPEACE_* environment variables and an optional
earpeace.yaml, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.New(configFile)
		if err != nil {
			return err
		}
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		cfg.ApplyLogging(logger.GetLogger())
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./earpeace.yaml or ~/.config/earpeace/earpeace.yaml)")
	pf.String("db", "earpeace.sqlite3", "path to the SQLite reference catalog")
	pf.String("index-dir", "indexes", "directory holding index blobs")
	pf.String("index-backend", "file", "index store backend (file, badger)")
	pf.String("temp-dir", "", "directory for transcoded audio")
	pf.Int("sample-rate", 16000, "target sample rate in Hz")
	pf.Int("workers", 0, "parallel index loads and rebuild jobs (default: number of CPUs)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Bool("log-color", true, "colourize log levels")

	rootCmd.AddCommand(addCmd, indexCmd, listCmd, deleteCmd, matchCmd, rebuildCmd, statusCmd, inspectCmd, spectrogramCmd)
}

func newService() (earpeace.Service, error) {
	opts := append(cfg.ServiceOptions(), earpeace.WithLogger(logger.GetLogger()))
	svc, err := earpeace.NewService(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
