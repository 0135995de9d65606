package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"planner-api/api"
	"planner-api/config"
	"planner-api/domain"
	"planner-api/graph"
	"planner-api/pubsub"
	"planner-api/storage"
	"planner-api/subscription"
)

// app owns every long-lived component of a serving process.
type app struct {
	cfg config.Config
	log *log.Logger

	store    storage.Store
	redis    *redis.Client
	bus      *pubsub.Bus
	relay    *pubsub.Relay
	gateway  *subscription.Gateway
	echo     *echo.Echo
	registry *prometheus.Registry

	relayCancel context.CancelFunc
	relayDone   chan struct{}
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverAzure:
		return storage.NewTables(cfg.StorageConnectionString, cfg.WeeksTable, cfg.TasksTable)
	case config.DriverSQLite:
		return storage.OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func buildApp(cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if cfg.RedisConnectionString != "" {
		opts, err := config.ParseRedisConnectionString(cfg.RedisConnectionString)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if cfg.CacheTTL > 0 {
			store = storage.NewCache(store, a.redis, cfg.CacheTTL)
		}
	}
	a.store = store

	a.bus = pubsub.New(pubsub.Config{SubscriberBufferSize: cfg.BusBuffer, Logger: logger})
	var pub domain.Publisher = a.bus
	if a.redis != nil {
		a.relay = pubsub.NewRelay(a.bus, a.redis, pubsub.RelayConfig{
			Channel: cfg.EventsChannel,
			Buffer:  cfg.RelayBuffer,
			Logger:  logger,
		})
		pub = a.relay
	}

	weeks := domain.NewWeekService(store)
	tasks := domain.NewTaskService(store, pub, logger)
	schema, err := graph.NewSchema(graph.NewResolver(weeks, tasks, a.bus, logger))
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("graphql schema: %w", err)
	}
	a.gateway = subscription.New(schema, subscription.Config{
		InitTimeout: cfg.WSInitTimeout,
		Logger:      logger,
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "planner",
			Name:      "ws_connections",
			Help:      "Open subscription websocket connections.",
		}, func() float64 { return float64(a.gateway.Active()) }),
	)
	for _, topic := range domain.Topics() {
		a.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "planner",
			Name:        "bus_subscribers",
			Help:        "Live event bus subscriptions per topic.",
			ConstLabels: prometheus.Labels{"topic": string(topic)},
		}, func() float64 { return float64(a.bus.Subscribers(topic)) }))
	}

	a.echo = a.newEcho(weeks, tasks, schema)
	return a, nil
}

func (a *app) newEcho(weeks domain.WeekService, tasks domain.TaskService, schema *graph.Schema) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding},
	}))
	e.Use(middleware.Decompress())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "planner",
		Registerer: a.registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || websocket.IsWebSocketUpgrade(c.Request())
		},
	}))
	e.Use(api.RequestMetrics(a.log))

	api.Register(e, weeks, tasks, a.store, api.Options{UploadDir: a.cfg.UploadDir})

	gql := graph.Handler(schema)
	e.GET(a.cfg.GraphQLPath, a.gateway.Upgrade(gql))
	e.POST(a.cfg.GraphQLPath, gql)

	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: a.registry}))

	e.Static("/", a.cfg.StaticDir)
	e.File("/", filepath.Join(a.cfg.StaticDir, a.cfg.IndexFile))
	return e
}

// startRelay receives events from other instances until shutdown.
func (a *app) startRelay() {
	if a.relay == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.relayCancel = cancel
	a.relayDone = make(chan struct{})
	go func() {
		defer close(a.relayDone)
		a.relay.Run(ctx)
	}()
}

// run serves until ctx ends or the listener fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	a.startRelay()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Addr()).Info("planner api listening")
		errCh <- a.echo.Start(a.cfg.Addr())
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.shutdown(shutdownCtx))
}

// shutdown drains subscriptions first so clients see a clean close, then
// stops HTTP and releases the bus and the store.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain subscriptions: %w", err))
	}
	if err := a.echo.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.relayCancel != nil {
		a.relayCancel()
		<-a.relayDone
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	errs = append(errs, a.bus.Close())
	errs = append(errs, a.store.Close())
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
