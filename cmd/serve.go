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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kadmin/internal/decoder"
	api "kadmin/internal/handler"
	core "kadmin/internal/service"
	"kadmin/internal/service/pool"
	"kadmin/internal/session"
	"kadmin/pkg/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the HTTP server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			watch, _ := cmd.Flags().GetBool("watch")
			return serve(configPath, watch)
		},
	}
	cmd.Flags().String("config", "config.yaml", "path to the configuration file")
	cmd.Flags().Bool("watch", true, "reload consumer and sweep settings when the configuration file changes")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for auth.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := core.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func serve(configPath string, watch bool) error {
	// console logging until the configured logger is in place
	bootLog := core.DefaultLogConfig()
	bootLog.Format = "console"
	if err := core.SetupLogger(bootLog); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := core.SetupLogger(&cfg.Log); err != nil {
		log.Warn().Err(err).Msg("Failed to apply log configuration, keeping console output")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("default_broker", cfg.Consumer.DefaultBroker).
		Bool("auth", cfg.Auth.Enabled()).
		Msg("Configuration loaded")

	dispatcher := session.NewDefaultDispatcher(session.BreakerSettings{
		MinRequests:  uint32(cfg.Breaker.MinRequests),
		FailureRatio: cfg.Breaker.FailureRatio,
		OpenTimeout:  cfg.Breaker.OpenTimeout,
		Interval:     session.DefaultBreakerSettings().Interval,
	})
	log.Info().Strs("schemes", dispatcher.Schemes()).Msg("Session backends registered")

	schemas, err := decoder.NewSchemaCache(cfg.Consumer.SchemaCacheSize, cfg.Consumer.RegistryTimeout)
	if err != nil {
		return fmt.Errorf("create schema cache: %w", err)
	}

	consumerPool := pool.New()
	svc := core.NewConsumerService(consumerPool, decoder.NewDefaultRegistry(schemas), dispatcher, cfg.Consumer)

	sweeper := core.NewSweeper(consumerPool, cfg.Consumer.SweepInterval, cfg.Consumer.IdleThreshold)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	var watcher *core.ConfigWatcher
	if watch {
		watcher = core.NewConfigWatcher(configPath, func(next *config.Config) {
			svc.UpdateConfig(next.Consumer)
			if err := sweeper.Update(next.Consumer.SweepInterval, next.Consumer.IdleThreshold); err != nil {
				log.Error().Err(err).Msg("Failed to apply sweep settings")
			}
			if level, err := zerolog.ParseLevel(next.Log.Level); err == nil && next.Log.Level != "" {
				zerolog.SetGlobalLevel(level)
			}
		})
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
			watcher = nil
		}
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := api.NewEngine(&api.Dependencies{
		Config:    cfg,
		Consumers: svc,
		Sweeper:   sweeper,
		HostStats: core.NewHostStatsCollector(5 * time.Second),
		Auth:      core.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.PasswordHash, cfg.Auth.TokenExpiry),
		Breakers:  dispatcher,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
	}

	if watcher != nil {
		watcher.Stop()
	}
	sweeper.Stop()
	log.Info().Msg("Sweeper stopped")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	svc.Shutdown()
	log.Info().Msg("Consumers shut down, server exited")
	return nil
}
