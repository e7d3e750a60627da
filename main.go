package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wishlist",
	Short: "Wishlist API for gifts and places",
	Long: `Wishlist stores gifts and places as JSON records and keeps their images
in an S3 compatible bucket, serving time-limited image URLs on every read.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, logger)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the sample gifts and places into an empty store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		return runSeed(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml, toml, json)")
	rootCmd.AddCommand(serveCmd, seedCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadRuntime() (*Config, *slog.Logger, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openRecordStore opens the backend selected by store.driver.
func openRecordStore(ctx context.Context, cfg *Config, logger *slog.Logger) (RecordStore, error) {
	switch cfg.Store.Driver {
	case DriverRedis:
		return OpenRedisStore(ctx, cfg.RedisOptions())
	case DriverBadger:
		return OpenBadgerStore(cfg.Badger.Path, logger)
	case DriverMemory:
		return OpenBadgerStore("", logger)
	case DriverPostgres:
		return OpenPostgresStore(ctx, cfg.Postgres.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func runServe(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	records, err := openRecordStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("could not open record store: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			logger.Error("closing record store", "error", err)
		}
	}()

	blobs, err := NewS3BlobStore(ctx, cfg.S3Options())
	if err != nil {
		return fmt.Errorf("could not create blob store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("could not prepare bucket %s: %w", cfg.S3.Bucket, err)
	}

	service := NewItemService(records, blobs, logger, cfg.ServiceConfig())
	handler := NewHandler(service, logger, cfg.Images.MaxSize)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      newRouter(handler, logger, cfg.RouterOptions()),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is listening", "addr", server.Addr, "store", cfg.Store.Driver, "base_path", cfg.HTTP.BasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("server is shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runSeed(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	records, err := openRecordStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("could not open record store: %w", err)
	}
	defer records.Close()

	fixtures, err := LoadSeedFixtures()
	if err != nil {
		return err
	}
	// seeding only creates records, no blob store is needed
	service := NewItemService(records, nil, logger, cfg.ServiceConfig())
	n, err := service.Seed(ctx, fixtures)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d items\n", n)
	return nil
}
