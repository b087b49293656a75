// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"settlement-gateway/internal/config"
	"settlement-gateway/internal/models"
	"settlement-gateway/pkg/database"
	"settlement-gateway/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "settlement-gateway",
		Short:         "Multi-gateway payment orchestration and settlement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newSweepCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{
		Service:     cfg.Service,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, sweeper and outbox workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			if memory && cfg.IsProduction() {
				return errors.New("--memory is not allowed in production")
			}
			return serve(cfg, log, memory)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep state in memory and process events in-process (development only)")
	return cmd
}

func serve(cfg *config.Config, log *zap.Logger, memory bool) error {
	a, err := newApp(cfg, log, memory)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := a.startBackground(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      a.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.Strings("gateways", a.registry.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	stop()
	a.wait()

	log.Info("server exited")
	return nil
}

func newSweepCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stale intents once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := newApp(cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.reconciler.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("sweep finished",
				zap.Int("examined", report.Examined),
				zap.Int("settled", report.Settled),
				zap.Int("rejected", report.Rejected),
				zap.Int("expired", report.Expired),
				zap.Int("failed", report.Failed),
			)
			return nil
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := database.NewPostgresDB(cfg.DatabaseURL, database.DefaultPoolConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context(), models.Schemas()...); err != nil {
				return err
			}
			log.Info("schema up to date")
			return nil
		},
	}
}
