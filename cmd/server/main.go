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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/meshroom/internal/adapters/http"
	sig "github.com/dkeye/meshroom/internal/adapters/signal"
	"github.com/dkeye/meshroom/internal/adapters/store"
	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/app/orch"
	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meshroom",
	Short: "Signaling and room coordination for full-mesh WebRTC rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)

	policy, err := app.ParsePolicy(cfg.SlowConsumer)
	if err != nil {
		return err
	}

	// Providers go in before the store so otelsql picks up the tracer.
	otelShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
	rooms, err := store.Open(openCtx, cfg.Store)
	openCancel()
	if err != nil {
		_ = otelShutdown(context.Background())
		return fmt.Errorf("open store: %w", err)
	}

	persister := app.NewPersister(rooms, cfg.Store.QueueSize, cfg.Store.Timeout)
	o := orch.New(app.NewRegistry(), app.NewRoomTable(), rooms, persister, policy)
	o.StoreTimeout = cfg.Store.Timeout
	limiter := sig.NewRateLimiter(cfg.InviteRate.Limit, cfg.InviteRate.Interval)

	r := router.SetupRouter(ctx, cfg, o, limiter)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Msg("meshroom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := persister.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("history queue not drained")
	}
	if err := rooms.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("close store")
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("meshroom failed")
		os.Exit(1)
	}
}
