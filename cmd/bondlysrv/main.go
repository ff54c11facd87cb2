package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/advisor"
	"github.com/bondly/bondly/internal/bondlysrv/analysis"
	"github.com/bondly/bondly/internal/bondlysrv/auth"
	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/bondlysrv/metrics"
	"github.com/bondly/bondly/internal/bondlysrv/realtime"
	"github.com/bondly/bondly/internal/bondlysrv/retention"
	"github.com/bondly/bondly/internal/bondlysrv/server"
	"github.com/bondly/bondly/internal/common/logtrace"
	"github.com/rs/zerolog/log"
)

const DefaultConfigFile = "/etc/bondly/bondlysrv.conf"

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	opt := parseFlags()

	cfg, err := config.LoadConfig(opt.configFile)
	if err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	logtrace.InitLogger(cfg.Log.Level, cfg.Log.Pretty)
	slog := log.With().Str("state", "init").Logger()
	ctx = slog.WithContext(ctx)
	slog.Info().Str("config_file", opt.configFile).Str("environment", cfg.Environment).Msg("config loaded")

	pool, err := dbmanager.NewScopedDb(ctx, &cfg.DB, db.ConfiguredScopes)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()
	if cfg.DB.AutoMigrate {
		if err := pool.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		slog.Info().Str("dialect", pool.Dialect()).Msg("schema applied")
	}

	m := metrics.New()

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(cfg.Realtime.Channel, cfg.Realtime.GetHeartbeat())
		defer hub.Close()
		if cfg.DB.Driver == config.DriverPostgres {
			if err := hub.Listen(ctx, cfg.DB.DSN()); err != nil {
				return fmt.Errorf("starting notification listener: %w", err)
			}
		}
	}

	issuer, aerr := auth.NewIssuerFromConfig(&cfg.Auth)
	if aerr != nil {
		return fmt.Errorf("creating token issuer: %w", aerr)
	}

	llmOpts := advisor.OptionsFromConfig(&cfg.LLM)
	llmOpts.Metrics = m
	analysisOpts := analysis.Options{
		PollAttempts: cfg.Analysis.ResponsePollAttempts,
		PollDelay:    cfg.Analysis.GetResponsePollDelay(),
		Metrics:      m,
	}
	if hub != nil {
		analysisOpts.Notifier = hub
	}
	orchestrator := analysis.New(advisor.New(llmOpts), analysisOpts)
	sweeper := retention.NewSweeper(pool, cfg.Retention.GetMaxAge(), m)

	if cfg.Retention.Schedule != "" {
		scheduler, err := retention.NewScheduler(sweeper, cfg.Retention.Schedule, slog)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	s, err := server.CreateNewServer(server.Deps{
		Config:       cfg,
		Pool:         pool,
		Orchestrator: orchestrator,
		Sweeper:      sweeper,
		Issuer:       issuer,
		Hub:          hub,
		Metrics:      m,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              cfg.ServerHostName + ":" + cfg.ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", srv.Addr).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	// Event streams stay open until the hub closes, so end them before waiting on
	// outstanding requests.
	if hub != nil {
		hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error().Err(err).Msg("could not stop server gracefully")
		if err := srv.Close(); err != nil {
			slog.Error().Err(err).Msg("could not stop server")
		}
	}
	slog.Info().Msg("server stopped")
	return nil
}

func parseFlags() cmdoptions {
	var opt cmdoptions
	flag.StringVar(&opt.configFile, "config", DefaultConfigFile, "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
