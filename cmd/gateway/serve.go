package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/app/gateway"
	"github.com/coachpo/pricebridge/internal/infra/adapters"
	"github.com/coachpo/pricebridge/internal/infra/cache"
	"github.com/coachpo/pricebridge/internal/infra/config"
	"github.com/coachpo/pricebridge/internal/infra/logging"
	"github.com/coachpo/pricebridge/internal/infra/persistence/migrations"
	"github.com/coachpo/pricebridge/internal/infra/persistence/postgres"
	httpserver "github.com/coachpo/pricebridge/internal/infra/server/http"
	"github.com/coachpo/pricebridge/internal/infra/telemetry"
	"github.com/coachpo/pricebridge/internal/infra/transport/rest"
	"github.com/coachpo/pricebridge/internal/infra/transport/ws"
)

const (
	cacheSweepInterval       = 30 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	gatewayShutdownTimeout   = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	redisShutdownTimeout     = 2 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// loadConfig reads dotenv files and the application configuration, then builds the root logger.
func loadConfig(ctx context.Context, opts *rootOptions) (config.AppConfig, zerolog.Logger, error) {
	if err := config.LoadDotEnv(opts.envFiles...); err != nil {
		return config.AppConfig{}, zerolog.Nop(), err
	}
	cfg, fromFile, err := config.LoadOrDefault(ctx, opts.configPath)
	if err != nil {
		return config.AppConfig{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return config.AppConfig{}, zerolog.Nop(), fmt.Errorf("init logging: %w", err)
	}
	if !fromFile {
		logger.Info().Str("path", opts.configPath).Msg("configuration file not found, using defaults")
	}
	return cfg, logger, nil
}

type services struct {
	telemetry *telemetry.Provider
	gateway   *gateway.Gateway
	server    *http.Server
	pool      *pgxpool.Pool
	closers   []func(context.Context) error
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "gateway")
	log.Info().
		Str("env", string(cfg.Environment)).
		Strs("adapters", cfg.AdapterNames()).
		Str("cache", string(cfg.Cache.Backend)).
		Bool("database", cfg.Database.Enabled).
		Msg("configuration initialised")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lifecycle conc.WaitGroup
	svc, err := buildServices(runCtx, cfg, logger, &lifecycle)
	if err != nil {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), lifecycleShutdownTimeout)
		defer cleanupCancel()
		performGracefulShutdown(cleanupCtx, log, cfg.Server.ShutdownTimeout, cancel, &lifecycle, svc)
		return err
	}

	lifecycle.Go(func() {
		if err := svc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	})
	log.Info().Str("addr", svc.server.Addr).Msg("gateway listening")

	<-runCtx.Done()
	log.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+lifecycleShutdownTimeout)
	defer shutdownCancel()
	started := time.Now()
	performGracefulShutdown(shutdownCtx, log, cfg.Server.ShutdownTimeout, cancel, &lifecycle, svc)
	log.Info().Dur("elapsed", time.Since(started)).Msg("shutdown completed")
	return nil
}

func buildServices(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, lifecycle *conc.WaitGroup) (*services, error) {
	svc := &services{}
	provider, err := initTelemetry(ctx, cfg)
	if err != nil {
		return svc, err
	}
	svc.telemetry = provider
	meter := provider.Meter("pricebridge")
	instruments := telemetry.NewInstruments(meter)

	store, sink, err := buildStore(ctx, cfg, logger, lifecycle, svc)
	if err != nil {
		return svc, err
	}

	executor := rest.New(rest.Options{
		Timeout:          cfg.REST.Timeout,
		MaxRetries:       cfg.REST.MaxRetries,
		BreakerFailures:  cfg.REST.BreakerFailures,
		BreakerCooldown:  cfg.REST.BreakerCooldown,
		MaxResponseBytes: cfg.REST.MaxResponseBytes,
		Logger:           logging.Component(logger, "rest"),
		Instruments:      instruments,
	})

	registry := adapters.NewRegistry()
	gw, err := gateway.New(gateway.Options{
		Registry:          registry,
		Doer:              executor,
		Store:             store,
		Sink:              sink,
		CacheBackend:      string(cfg.Cache.Backend),
		Streams:           streamFactory(cfg.Stream, sink, logger, instruments),
		Env:               os.LookupEnv,
		UnknownSymbolWarn: cfg.Stream.UnknownSymbols == config.UnknownSymbolsWarn,
		Logger:            logger,
		Meter:             meter,
		Instruments:       instruments,
	})
	if err != nil {
		return svc, err
	}
	if err := gw.Start(ctx, cfg.Adapters); err != nil {
		logging.Component(logger, "gateway").Warn().Err(err).Msg("some adapters failed to start")
	}
	svc.gateway = gw

	svc.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpserver.NewHandler(gw, registry, logging.Component(logger, "http")),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return svc, nil
}

func initTelemetry(ctx context.Context, cfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.ConfigFromEnv(os.LookupEnv).Apply(telemetry.Overrides{
		Enabled:       cfg.Telemetry.Enabled,
		EnableMetrics: cfg.Telemetry.EnableMetrics,
		OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:  cfg.Telemetry.OTLPInsecure,
		ServiceName:   cfg.Telemetry.ServiceName,
		Environment:   string(cfg.Environment),
	})

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	return provider, nil
}

// buildStore returns the store stream endpoints read from and the sink every
// result is written to. With a database the sink also archives results.
func buildStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, lifecycle *conc.WaitGroup, svc *services) (cache.Store, cache.Sink, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := cache.NewRedisClient(cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		redisStore := cache.NewRedisStore(client, cfg.Cache.Redis.Prefix, cfg.Cache.TTL)
		if err := redisStore.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.closers = append(svc.closers, func(context.Context) error { return client.Close() })
		store = redisStore
	default:
		memory := cache.NewMemoryStore(cfg.Cache.TTL)
		lifecycle.Go(func() { memory.Run(ctx, cacheSweepInterval) })
		store = memory
	}

	if !cfg.Database.Enabled {
		return store, store, nil
	}
	dbLog := logging.Component(logger, "database")
	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, dbLog); err != nil {
			return nil, nil, err
		}
	}
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.ObservePoolMetrics(pool, "archive"); err != nil {
		dbLog.Warn().Err(err).Msg("pool metrics unavailable")
	}
	svc.pool = pool
	dbLog.Info().Msg("result archive enabled")
	return store, cache.Tee(store, postgres.NewResultArchive(pool)), nil
}

func streamFactory(cfg config.StreamConfig, sink cache.Sink, logger zerolog.Logger, instruments *telemetry.Instruments) gateway.StreamFactory {
	return func(adapterName string, ep adapter.Endpoint) (gateway.Stream, error) {
		manager, err := ws.New(ws.Options{
			Adapter:         adapterName,
			Endpoint:        ep.Name,
			Handler:         ep.Stream,
			Sink:            sink,
			SubscriptionTTL: cfg.SubscriptionTTL,
			ReconnectMax:    cfg.ReconnectMax,
			PingInterval:    cfg.PingInterval,
			Logger:          logging.Component(logger, "ws"),
			Instruments:     instruments,
		})
		if err != nil {
			return nil, err
		}
		return manager, nil
	}
}

func performGracefulShutdown(ctx context.Context, log zerolog.Logger, serverTimeout time.Duration, mainCancel context.CancelFunc, lifecycle *conc.WaitGroup, svc *services) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		log.Info().Str("step", name).Msg("shutdown step started")
		if err := fn(stepCtx); err != nil {
			log.Warn().Err(err).Str("step", name).Msg("shutdown step failed")
			return
		}
		log.Info().Str("step", name).Msg("shutdown step completed")
	}

	if svc.server != nil {
		shutdownStep("stopping http server", serverTimeout, svc.server.Shutdown)
	}
	if svc.gateway != nil {
		shutdownStep("stopping adapter streams", gatewayShutdownTimeout, svc.gateway.Stop)
	}

	mainCancel()
	shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			lifecycle.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
		}
	})

	for _, closeFn := range svc.closers {
		shutdownStep("closing redis", redisShutdownTimeout, closeFn)
	}
	if svc.pool != nil {
		shutdownStep("closing database pool", gatewayShutdownTimeout, func(context.Context) error {
			svc.pool.Close()
			return nil
		})
	}
	if svc.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, svc.telemetry.Shutdown)
	}
}
