package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "chargeslot/backend/libs/db"
	"chargeslot/backend/libs/metrics"
	libredis "chargeslot/backend/libs/redis"
	"chargeslot/backend/services/reservation-service/internal/clients"
	"chargeslot/backend/services/reservation-service/internal/config"
	"chargeslot/backend/services/reservation-service/internal/events"
	httpserver "chargeslot/backend/services/reservation-service/internal/http"
	"chargeslot/backend/services/reservation-service/internal/http/handlers"
	"chargeslot/backend/services/reservation-service/internal/http/middleware"
	"chargeslot/backend/services/reservation-service/internal/policy"
	redisstore "chargeslot/backend/services/reservation-service/internal/redis"
	"chargeslot/backend/services/reservation-service/internal/repository"
	"chargeslot/backend/services/reservation-service/internal/service"
	"chargeslot/backend/services/reservation-service/internal/worker"
	"chargeslot/backend/services/reservation-service/internal/ws"
	"chargeslot/backend/services/reservation-service/migrations"
)

// App wires reservation-service dependencies.
type App struct {
	cfg         *config.Config
	server      *httpserver.Server
	directory   *service.StationDirectory
	noShows     *worker.NoShowWorker
	kafkaSink   *events.KafkaSink
	notifier    *clients.NotificationClient
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *App, err error) {
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = libdb.NewPostgresDB(cfg.Database.DSN, libdb.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Database.Migrate {
		if err = libdb.Migrate(ctx, a.db, migrations.FS, logger); err != nil {
			return nil, err
		}
	}

	var (
		cache   service.ReservationCache
		limiter middleware.Limiter
	)
	if cfg.Redis.Addr != "" {
		a.redisClient, err = libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = redisstore.NewReservationCache(a.redisClient, cfg.CacheTTL())
		limiter = redisstore.NewRateLimiter(a.redisClient)
	} else {
		logger.Warn("redis not configured, reservation cache and rate limiting disabled")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.MetricsNamespace())
	}

	dispatcher := events.NewDispatcher()
	if brokers := events.SplitBrokers(cfg.Events.KafkaBrokers); len(brokers) > 0 {
		a.kafkaSink = events.NewKafkaSink(events.NewKafkaWriter(brokers, cfg.Events.Topic), cfg.EventsBuffer(), cfg.Events.WriteTimeout, logger)
		dispatcher.Add(a.kafkaSink)
	}

	offsets, err := cfg.ReminderOffsets()
	if err != nil {
		return nil, err
	}
	a.notifier, err = clients.NewNotificationClient(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange, offsets, logger)
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(cfg.Cancellation.DefaultPolicy, cfg.Cancellation.EarlyRefund)
	if err != nil {
		return nil, err
	}

	clock := service.SystemClock{}
	tx := repository.NewTxManager(a.db)
	stationRepo := repository.NewStationRepository(a.db)
	reservationRepo := repository.NewReservationRepository(a.db)

	a.directory = service.NewStationDirectory(stationRepo, tx, dispatcher, clock, logger)
	if err = a.directory.Load(ctx); err != nil {
		return nil, err
	}
	states := service.NewConnectorStateStore(a.directory, stationRepo, tx, dispatcher, clock, logger)
	resolver := service.NewConflictResolver(reservationRepo, states)

	hub := ws.NewHub(states, a.directory, m, logger)
	dispatcher.Add(hub)

	pricing := clients.NewPricingClient(cfg.Clients.PricingURL, cfg.ClientTimeout(), clients.LocalTariff{
		Currency:      cfg.Reservations.Currency,
		DefaultPerKWh: cfg.Reservations.DefaultPricePerKWh,
	}, logger)

	search := service.NewSlotSearchEngine(a.directory, resolver, pricing, clock, service.SearchSettings{
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
		ResultTTL:       cfg.Search.ResultTTL,
		PricingTimeout:  cfg.Search.PricingTimeout,
		RecommendCount:  cfg.Search.RecommendCount,
		WaitListHorizon: cfg.Search.WaitListHorizon,
	}, logger)

	manager := service.NewReservationManager(service.LifecycleDeps{
		Store:     reservationRepo,
		Tx:        tx,
		Lookup:    service.NewReservationLookup(reservationRepo, cache, logger),
		Directory: a.directory,
		States:    states,
		Resolver:  resolver,
		Locks:     service.NewConnectorLocks(),
		Policies:  engine,
		Penalty:   policy.LatePenalty{PerMinute: cfg.Reservations.LatePenaltyPerMin},
		Pricer:    pricing,
		Payments:  clients.NewPaymentClient(cfg.Clients.PaymentURL, cfg.ClientTimeout(), logger),
		Notifier:  a.notifier,
		Sessions:  clients.NewSessionsClient(cfg.Clients.SessionsURL, cfg.ClientTimeout(), logger),
		Publisher: dispatcher,
		Metrics:   m,
		Clock:     clock,
		Logger:    logger,
	}, service.LifecycleSettings{
		MinDuration:         cfg.Reservations.MinDuration,
		MaxDuration:         cfg.Reservations.MaxDuration,
		ModifyCutoff:        cfg.Reservations.ModifyCutoff,
		DefaultGraceMinutes: cfg.Reservations.DefaultGraceMinutes,
		MaxGraceMinutes:     cfg.Reservations.MaxGraceMinutes,
		EarlyCheckIn:        cfg.Reservations.EarlyCheckIn,
		Currency:            cfg.Reservations.Currency,
		MaxOccurrences:      cfg.Reservations.MaxOccurrences,
	})
	a.noShows = worker.NewNoShowWorker(manager, cfg.NoShowInterval(), logger)

	wsServer := ws.NewServer(hub, cfg.WebSocket.PingInterval, cfg.WebSocket.WriteTimeout, cfg.WebSocket.SendBuffer, logger)

	routes := httpserver.Routes{
		Health:           handlers.NewHealthHandler(a.healthChecks()),
		WebSocket:        wsServer.HandleWS,
		Search:           handlers.NewSearchHandler(search, logger),
		Reservations:     handlers.NewReservationsHandler(manager, logger),
		Stations:         handlers.NewStationsHandler(a.directory, states, logger),
		SessionCompleted: handlers.NewSessionsCallbackHandler(manager, logger),
	}
	if m != nil {
		routes.Metrics = m.Handler()
	}

	router := httpserver.NewRouter(routes, httpserver.Options{
		JWTSecret:     cfg.Auth.JWTSecret,
		InternalToken: cfg.Auth.InternalToken,
		Limiter:       limiter,
		SearchLimit:   httpserver.RateLimitRule{Limit: cfg.SearchRateLimit(), Window: cfg.RateLimitWindow()},
		BookingLimit:  httpserver.RateLimitRule{Limit: cfg.MutationRateLimit(), Window: cfg.RateLimitWindow()},
		Metrics:       m,
		Logger:        logger,
	})
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, cfg.HTTP.ShutdownTimeout, logger)
	return a, nil
}

// Run starts the HTTP server and background workers and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		a.directory.Run(ctx, a.cfg.DirectoryInterval())
		return nil
	})
	g.Go(func() error {
		a.noShows.Run(ctx)
		return nil
	})
	if a.kafkaSink != nil {
		g.Go(func() error {
			a.kafkaSink.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.kafkaSink != nil {
		if err := a.kafkaSink.Close(); err != nil {
			a.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("failed to close amqp connection", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func (a *App) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"postgres": a.db.PingContext,
	}
	if a.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
