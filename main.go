package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NamanBalaji/rdm/internal/api"
	"github.com/NamanBalaji/rdm/internal/config"
	"github.com/NamanBalaji/rdm/internal/engine"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/progress"
	"github.com/NamanBalaji/rdm/internal/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	logPath := flag.String("log", "", "Write logs to this file instead of stderr")
	listen := flag.String("listen", "", "Address to serve the API on (overrides the config file)")
	flag.Parse()

	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Error reading config %s: %v\n", config.Path(), err)
	}

	if *listen != "" {
		cfg.Listen = *listen
	}

	err = logger.InitLogging(*debug, *logPath)
	if err != nil {
		log.Fatalf("Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Error opening progress store: %v\n", err)
	}

	eng, err := engine.New(cfg, store)
	if err != nil {
		log.Fatalf("Error creating engine: %v\n", err)
	}

	defer func() {
		if err := eng.Close(); err != nil {
			logger.Errorf("Error closing progress store: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewHandler(eng),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Serving API on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Infof("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error stopping API server: %v", err)
	}

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Transfers still running after %s, interrupting them", shutdownTimeout)
		eng.ForceShutdown()
	}

	logger.Infof("Shutdown complete.")
}

// openStore returns the progress store selected by the config.
func openStore(cfg *config.Config) (progress.Store, error) {
	if cfg.Progress.Backend != config.BackendBolt {
		return progress.NewFileStore(), nil
	}

	repo, err := repository.NewBboltRepository(cfg.Progress.DBPath)
	if err != nil {
		return nil, err
	}

	if records, err := repo.FindAll(); err == nil && len(records) > 0 {
		logger.Infof("Progress store holds %d record(s) from earlier runs", len(records))
	}

	return repo, nil
}
