package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hazyhaar/deckfetch"
	"github.com/hazyhaar/deckfetch/internal/store"
	"github.com/hazyhaar/deckfetch/service"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Configuration: YAML file when CONFIG is set, defaults otherwise,
	// then environment overrides on top.
	var cfg *deckfetch.Config
	if path := os.Getenv("CONFIG"); path != "" {
		var err error
		cfg, err = deckfetch.LoadConfigFile(path)
		if err != nil {
			slog.Error("load config", "path", path, "error", err)
			os.Exit(1)
		}
	} else {
		cfg = deckfetch.DefaultConfig()
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Service.Addr = ":" + port
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Service.DataDir = dir
	}
	if db := os.Getenv("REGISTRY_DB"); db != "" {
		cfg.Service.RegistryDB = db
	}
	if hash := os.Getenv("API_TOKEN_HASH"); hash != "" {
		cfg.Service.APITokenHash = hash
	}
	if cfg.Service.APITokenHash == "" {
		slog.Warn("API_TOKEN_HASH not set, download endpoints are unauthenticated")
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.Service.DataDir, 0o755); err != nil {
		slog.Error("data dir", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Service.RegistryDB), 0o755); err != nil {
		slog.Error("registry dir", "error", err)
		os.Exit(1)
	}

	// Document registry + retention sweeper.
	docs, err := store.Open(cfg.Service.RegistryDB, logger)
	if err != nil {
		slog.Error("registry db", "error", err)
		os.Exit(1)
	}
	defer docs.Close()
	go docs.RunSweeper(ctx, cfg.Service.SweepInterval, cfg.Service.Retention)

	// Downloader: browser lifecycle + capture pipeline.
	dl := deckfetch.New(cfg, logger)
	if err := dl.Start(ctx); err != nil {
		slog.Error("downloader start", "error", err)
		os.Exit(1)
	}
	defer dl.Close()

	svc := service.New(service.Config{
		DataDir:      cfg.Service.DataDir,
		MaxSlides:    cfg.Capture.MaxSlides,
		Timeout:      cfg.Capture.Timeout,
		APITokenHash: cfg.Service.APITokenHash,
	}, dl, docs, logger)

	// HTTP server. WriteTimeout must cover a full capture run plus
	// assembly, so it sits above the capture ceiling.
	srv := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Capture.Timeout + time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Service.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
