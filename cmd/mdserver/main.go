package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/mdkit/internal/api"
	"github.com/dgallion1/mdkit/internal/config"
	"github.com/dgallion1/mdkit/internal/pipeline"
	"github.com/dgallion1/mdkit/internal/tablespan"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	pos := tablespan.CaptionAbove
	if cfg.CaptionPosition == "below" {
		pos = tablespan.CaptionBelow
	}

	pipe, err := pipeline.New(pipeline.Options{
		CaptionPosition:  pos,
		BibliographyPath: cfg.BibliographyPath,
		PluginManifest:   cfg.PluginManifest,
		WikiBase:         cfg.WikiBase,
		WikiSuffix:       cfg.WikiSuffix,
		IncludeDepth:     cfg.IncludeDepth,
		InjectTimeout:    cfg.InjectTimeout,
	}, log)
	if err != nil {
		log.Error("pipeline init failed", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(pipe, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting mdserver", "port", cfg.Port, "docs_dir", cfg.DocsDir)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
