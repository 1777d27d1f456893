//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/himanishpuri/earpeace/internal/config"
	"github.com/himanishpuri/earpeace/pkg/earpeace"
	"github.com/himanishpuri/earpeace/pkg/logger"
)

func main() {
	log := logger.GetLogger()

	configFile := pflag.String("config", "", "config file (default ./earpeace.yaml)")
	pflag.String("db", "earpeace.sqlite3", "path to the SQLite reference catalog")
	pflag.String("index-dir", "indexes", "directory holding index blobs")
	pflag.String("index-backend", "file", "index store backend (file, badger)")
	pflag.String("temp-dir", "", "directory for uploads and transcoded audio")
	pflag.Int("workers", 0, "parallel index loads and rebuild jobs")
	pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Bool("log-color", true, "colourize log levels")
	pflag.String("server.port", "8080", "HTTP server port")
	pflag.String("server.allowed-origin", "*", "comma-separated CORS origins (* for all)")
	pflag.Duration("server.maintenance-interval", 0, "rebuild prepared references this often (0 disables)")
	pflag.Parse()

	v, err := config.New(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.BindFlags(v, pflag.CommandLine); err != nil {
		log.Fatalf("Failed to bind flags: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	cfg.ApplyLogging(log)

	svc, err := earpeace.NewService(append(cfg.ServiceOptions(), earpeace.WithLogger(log))...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(ctx, svc, cfg, log)
	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		stop()
		svc.Close()
		os.Exit(1)
	}
}
