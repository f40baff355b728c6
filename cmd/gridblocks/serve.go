// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/gridblocks/pkg/logging"
	"github.com/AleutianAI/gridblocks/services/blocks"
	"github.com/AleutianAI/gridblocks/services/blocks/config"
	"github.com/AleutianAI/gridblocks/services/blocks/hierarchy"
	"github.com/AleutianAI/gridblocks/services/blocks/reference"
	"github.com/AleutianAI/gridblocks/services/blocks/storage"
	badgerstore "github.com/AleutianAI/gridblocks/services/blocks/storage/badger"
)

var (
	rootCmd = &cobra.Command{
		Use:   "gridblocks",
		Short: "The gridblocks block engine",
		Long: `Gridblocks stores typed content blocks in a validated hierarchy
and serves them over HTTP: schema-checked writes, recursive tree reads,
versioned block types, and conflict-checked layout saves.`,
	}

	configPath string
	flagPort   int
	dataDir    string
	inMemory   bool
	debugMode  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the gridblocks HTTP server",
		Long: `Opens the BadgerDB store, wires the block services, and serves the
v1 API until SIGINT or SIGTERM. Flags override environment variables,
which override the config file.`,
		RunE: runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the gridblocks version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("gridblocks", blocks.ServiceVersion)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "HTTP port (overrides config)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "BadgerDB data directory (overrides config)")
	serveCmd.Flags().BoolVar(&inMemory, "in-memory", false, "Run without disk persistence (data is lost on exit)")
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable gin debug mode and request bodies in logs")

	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "gridblocks",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	defer logger.Close()
	log := logger.Slog()

	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	badgerCfg := badgerstore.Config{
		Path:           expandPath(cfg.Storage.Path),
		InMemory:       cfg.Storage.InMemory,
		SyncWrites:     cfg.Storage.SyncWrites,
		GCInterval:     cfg.Storage.GCInterval,
		GCDiscardRatio: 0.5,
		Logger:         log,
	}
	db, err := badgerstore.Open(badgerCfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	gcStop := make(chan struct{})
	go badgerstore.RunGC(db, badgerCfg, gcStop)
	defer close(gcStop)

	store := storage.New(db, log)
	hier := hierarchy.NewService(log)

	registry := reference.NewRegistry()
	registry.Register("block", blockResolver(store))
	refs := reference.NewService(registry, log)

	svc := blocks.NewService(store, hier, refs, log)
	handlers := blocks.NewHandlers(svc, log)

	var limiter *rate.Limiter
	if cfg.Limits.WriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Limits.WriteRate), cfg.Limits.WriteBurst)
	}
	router := blocks.NewRouter(handlers, log, limiter)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting gridblocks server",
			"addr", srv.Addr,
			"version", blocks.ServiceVersion,
			"in_memory", cfg.Storage.InMemory,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// loadConfig layers the config file, environment variables, and flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("GRIDBLOCKS_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	cfg.Server.Port = getEnvInt("GRIDBLOCKS_PORT", cfg.Server.Port)
	cfg.Storage.Path = getEnvString("GRIDBLOCKS_DATA_DIR", cfg.Storage.Path)
	cfg.Logging.Level = getEnvString("GRIDBLOCKS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Dir = getEnvString("GRIDBLOCKS_LOG_DIR", cfg.Logging.Dir)

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flagPort
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.Path = dataDir
	}
	if inMemory {
		cfg.Storage.InMemory = true
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// blockResolver resolves "block" entity references against the store
// itself, so block-to-block links surface the linked block's name
// without a second API round trip.
func blockResolver(store *storage.Store) reference.ResolverFunc {
	return func(ctx context.Context, entityType string, ids []string) (map[string]any, error) {
		found := make(map[string]any, len(ids))
		err := store.View(ctx, func(tx *storage.Tx) error {
			for _, id := range ids {
				blk, err := tx.GetBlock(id)
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				found[id] = map[string]any{
					"id":       blk.ID,
					"name":     blk.Name,
					"archived": blk.Archived,
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return found, nil
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
