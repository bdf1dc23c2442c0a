package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang-intel-service/internal/api"
	"golang-intel-service/internal/auth"
	"golang-intel-service/internal/cache"
	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/config"
	"golang-intel-service/internal/producer"
	"golang-intel-service/internal/router"
	"golang-intel-service/internal/session"
	"golang-intel-service/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Application wires the streaming components together
type Application struct {
	config *config.Config
	logger *zap.Logger

	registry *channel.Registry
	cache    *cache.Cache
	manager  *session.Manager
	pump     *producer.Pump
	source   producer.Source
	redis    *storage.RedisAdapter
	server   *http.Server

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewApplication creates every component from cfg
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}
	app.baseCtx, app.cancelBase = context.WithCancel(context.Background())

	if err := app.initializeComponents(ctx); err != nil {
		app.cancelBase()
		app.closeSources()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

func (app *Application) initializeComponents(ctx context.Context) error {
	cfg := app.config
	app.registry = channel.DefaultRegistry()

	app.cache = cache.New(cache.Options{
		DefaultTTL:  cfg.Cache.DefaultTTL,
		CategoryTTL: cfg.Cache.CategoryTTL,
		Logger:      app.logger,
	})

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var err error
	app.manager, err = session.NewManager(session.Options{
		Registry:     app.registry,
		Router:       router.New(app.registry),
		Cache:        app.cache,
		QueueSize:    cfg.Session.QueueSize,
		QueueWait:    cfg.Session.QueueWait,
		ControlRate:  rate.Limit(cfg.Session.ControlRate),
		ControlBurst: cfg.Session.ControlBurst,
		Registerer:   metrics,
		Logger:       app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	if cfg.Redis.Enabled {
		app.logger.Info("📦 Connecting to Redis", zap.String("url", cfg.Redis.URL))
		app.redis, err = storage.NewRedisAdapter(ctx, cfg.Redis.URL, app.logger)
		if err != nil {
			return err
		}
	}

	if err := app.initializeSource(ctx); err != nil {
		return err
	}

	pumpOpts := producer.PumpOptions{
		Source:        app.source,
		Normalizer:    producer.NewNormalizer(app.registry, nil),
		Cache:         app.cache,
		Publisher:     app.manager,
		StatsInterval: cfg.Producer.StatsInterval,
		Logger:        app.logger,
	}
	if app.redis != nil {
		pumpOpts.Mirror = app.redis
	}
	app.pump, err = producer.NewPump(pumpOpts)
	if err != nil {
		return fmt.Errorf("failed to create data producer: %w", err)
	}

	stream := api.NewStreamHandler(app.manager, auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), api.StreamOptions{
		WriteWait:    cfg.Session.WriteWait,
		PingInterval: cfg.Session.PingInterval,
		BaseContext:  app.baseCtx,
		Logger:       app.logger,
	})

	deps := api.Dependencies{
		Manager:  app.manager,
		Registry: app.registry,
		Cache:    app.cache,
		Producer: app.pump,
		Stream:   stream,
		Gatherer: metrics,
		Logger:   app.logger,
	}
	if app.redis != nil {
		deps.Mirror = app.redis
	}

	app.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	app.logger.Info("✅ All components initialized",
		zap.String("source", cfg.Producer.Source),
		zap.Bool("redis_mirror", app.redis != nil),
		zap.Int("channels", len(app.registry.Names())))
	return nil
}

func (app *Application) initializeSource(ctx context.Context) error {
	cfg := app.config.Producer
	var err error

	switch cfg.Source {
	case "redis":
		app.source, err = producer.NewRedisSource(ctx, app.redis, app.registry.Categories())
	case "kafka":
		app.source, err = producer.NewKafkaSource(producer.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
	default:
		app.source = producer.NewSimulatedSource(cfg.SimulatedRate, time.Now().UnixNano())
	}
	if err != nil {
		return fmt.Errorf("failed to create %s source: %w", cfg.Source, err)
	}
	return nil
}

// Run serves until ctx is cancelled or a component fails, then shuts down
func (app *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("🌐 Starting HTTP server", zap.String("addr", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.pump.Run(gctx)
	})

	if interval := app.config.Cache.SweepInterval; interval > 0 {
		g.Go(func() error {
			return app.cache.RunSweeper(gctx, interval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return app.stop()
	})

	app.logger.Info("✅ Streaming service started",
		zap.String("stream", fmt.Sprintf("ws://%s/ws", app.server.Addr)),
		zap.String("secure_stream", fmt.Sprintf("ws://%s/ws/secure?clearance=secret", app.server.Addr)))

	return g.Wait()
}

func (app *Application) stop() error {
	app.logger.Info("🛑 Stopping application")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop HTTP server: %w", err))
	}

	app.cancelBase()
	if err := app.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	app.closeSources()

	app.logger.Info("✅ Application stopped")
	return errors.Join(errs...)
}

func (app *Application) closeSources() {
	if app.source != nil {
		if err := app.source.Close(); err != nil {
			app.logger.Warn("⚠️ Failed to close source", zap.Error(err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn("⚠️ Failed to close Redis", zap.Error(err))
		}
	}
}
