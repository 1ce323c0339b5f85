// cmd/warden/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	_ "github.com/keshon/warden/internal/command/core"
	_ "github.com/keshon/warden/internal/command/moderation"
	_ "github.com/keshon/warden/internal/command/settings"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/coordinator"
	"github.com/keshon/warden/internal/datastore"
	"github.com/keshon/warden/internal/discord"
	"github.com/keshon/warden/internal/discord/platform"
	"github.com/keshon/warden/internal/discord/snapshot"
	"github.com/keshon/warden/internal/enforce"
	"github.com/keshon/warden/internal/engine"
	"github.com/keshon/warden/internal/logging"
	"github.com/keshon/warden/internal/metrics"
	"github.com/keshon/warden/internal/server"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/storage/backend"
	v "github.com/keshon/warden/internal/version"
	"github.com/keshon/warden/pkg/cmd"
	"github.com/keshon/warden/pkg/retrylimit"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Bot exited with error")
	}
}

func run() error {
	cfg, found, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	if !found {
		logger.Debug().Msg("No .env file found, using the environment")
	}
	logger.Info().Str("revision", v.Revision()).Msgf("Starting %v bot...", v.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(cfg.StorageDriver, cfg.StoragePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := datastore.Open(datastore.Config{FilePath: cfg.CommandCachePath, Logger: logger})
	if err != nil {
		return err
	}
	defer cache.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return err
	}

	services := buildServices(cfg, dg, store, m, logger)
	bot := discord.New(dg, cfg, services, cache)
	services.Snapshot.BotID = bot.BotID

	srvErr := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		go func() { srvErr <- server.Run(ctx, cfg.MetricsAddr, server.Handler(reg, bot.Ready), logger) }()
	}
	botErr := make(chan error, 1)
	go func() { botErr <- bot.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received signal, shutting down...")
		err = <-botErr
	case err = <-srvErr:
		stop()
		err = errors.Join(err, <-botErr)
	case err = <-botErr:
		stop()
	}
	if err != nil {
		return err
	}
	logger.Info().Msg("Discord bot exited cleanly")
	return nil
}

func buildServices(cfg *config.Config, dg *discordgo.Session, store storage.Backend, m *metrics.Metrics, logger zerolog.Logger) *command.Services {
	actions := coordinator.New[coordinator.ActorKey]()
	actions.OnSupersede = func(key coordinator.ActorKey, _ *coordinator.Handle) {
		m.Superseded()
		logger.Debug().Str("actor", key.String()).Msg("Pending action superseded")
	}

	breaker := enforce.BreakerSettings("discord")
	breaker.Timeout = cfg.BreakerTimeout
	failures := cfg.BreakerFailures
	breaker.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures }

	executor := enforce.NewExecutor(platform.New(dg),
		enforce.WithRetries(cfg.EnforceRetries),
		enforce.WithBreaker(gobreaker.NewCircuitBreaker(breaker)),
		enforce.WithLimiter(retrylimit.NewAdaptiveLimiter(5, 1, 40, 1, 0.5)),
		enforce.WithMetrics(m),
		enforce.WithLogger(logger),
	)

	return &command.Services{
		Storage:  store,
		Gate:     engine.NewGate(store, engine.WithMetrics(m), engine.WithLogger(logger)),
		Executor: executor,
		Actions:  actions,
		Snapshot: &snapshot.Builder{State: dg.State, Fetch: dg},
		Registry: cmd.DefaultRegistry,
		Metrics:  m,
		Config:   cfg,
		Logger:   logger,
	}
}
