package main

import (
	"context"
	"time"

	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/bootstrap"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/configs"
	"github.com/hilthontt/escrow/internal/infrastructure/events"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/messaging"
	"github.com/hilthontt/escrow/internal/infrastructure/metrics"
	"github.com/hilthontt/escrow/internal/infrastructure/presence"
	"github.com/hilthontt/escrow/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/escrow/internal/infrastructure/tracing"
	"github.com/hilthontt/escrow/internal/infrastructure/ws"
	"github.com/hilthontt/escrow/internal/persistence/mongo"
	"github.com/hilthontt/escrow/internal/presentation/api"
	healthHandler "github.com/hilthontt/escrow/internal/presentation/handler/health"
	messageHandler "github.com/hilthontt/escrow/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/escrow/internal/presentation/handler/rooms"
	userHandler "github.com/hilthontt/escrow/internal/presentation/handler/users"
	"golang.org/x/sync/errgroup"
)

const closeTimeout = 15 * time.Second

func run(ctx context.Context, cfg *configs.Config, logger logging.Logger) error {
	res := bootstrap.NewResources(logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		res.Close(closeCtx)
	}()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		Enabled:     cfg.Tracing.Enabled,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	res.Add("tracing", shutdownTracer)

	m := metrics.New()
	checks := map[string]healthHandler.Check{}

	store, storeCheck, err := bootstrap.OpenStore(ctx, cfg, logger, res)
	if err != nil {
		return err
	}
	if storeCheck != nil {
		checks["postgres"] = healthHandler.Check(storeCheck)
	}

	b, redisCheck, err := bootstrap.ConnectBroker(ctx, cfg, res)
	if err != nil {
		return err
	}
	checks["redis"] = healthHandler.Check(redisCheck)

	hub := presence.NewHub(b,
		presence.WithCapacity(cfg.Presence.Capacity),
		presence.WithLogger(logger),
		presence.WithMetrics(m),
	)
	res.Add("presence", hub.Shutdown)

	g, ctx := errgroup.WithContext(ctx)

	opts := []escrow.Option{
		escrow.WithNotifier(presence.NewNotifier(hub)),
		escrow.WithMetrics(m),
	}
	var (
		audits  domain.RoomAuditRepository
		auditor escrow.Auditor
	)
	if cfg.RabbitMQ.Enabled {
		audits, auditor, err = startAuditTrail(ctx, g, cfg, logger, res, checks)
		if err != nil {
			return err
		}
		opts = append(opts, escrow.WithAuditor(auditor))
	}

	service, err := bootstrap.NewService(store, cfg, logger, opts...)
	if err != nil {
		return err
	}

	rooms := roomHandler.NewHandler(service, hub, ws.NewUpgrader(cfg.HTTP.AllowedOrigins),
		roomHandler.WithAuditTrail(audits, auditor),
		roomHandler.WithActionLimiter(ratelimiter.New(ratelimiter.Options{
			MaxRatePerSecond: cfg.RateLimiter.ActionsPerSecond,
			MaxBurst:         cfg.RateLimiter.ActionBurst,
			CacheTTL:         cfg.RateLimiter.CacheTTL,
		})),
		roomHandler.WithLogger(logger),
	)

	app := api.NewApplication(
		*cfg,
		rooms,
		messageHandler.NewHandler(service, logger),
		userHandler.NewHandler(service, logger),
		healthHandler.NewHandler(checks),
		logger,
		m,
		ratelimiter.New(ratelimiter.Options{
			MaxRatePerSecond: cfg.RateLimiter.MaxRatePerSecond,
			MaxBurst:         cfg.RateLimiter.MaxBurst,
			CacheTTL:         cfg.RateLimiter.CacheTTL,
			SourceHeaderKey:  cfg.RateLimiter.SourceHeaderKey,
		}),
	)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return app.Run(ctx, app.Mount())
	})

	return g.Wait()
}

// startAuditTrail connects RabbitMQ and Mongo, starts the consumer that
// persists room events and returns the repository and the publisher.
func startAuditTrail(
	ctx context.Context,
	g *errgroup.Group,
	cfg *configs.Config,
	logger logging.Logger,
	res *bootstrap.Resources,
	checks map[string]healthHandler.Check,
) (domain.RoomAuditRepository, escrow.Auditor, error) {
	rmq, err := bootstrap.OpenRabbitMQ(cfg, res)
	if err != nil {
		return nil, nil, err
	}
	if err := rmq.DeclareAndBindQueue(cfg.RabbitMQ.Queue, []string{messaging.RoomEventsBinding}); err != nil {
		return nil, nil, err
	}

	client, err := mongo.Connect(ctx, mongo.Config{
		URI:               cfg.Mongo.URI,
		Database:          cfg.Mongo.Database,
		ConnectionTimeout: cfg.Mongo.Timeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	res.Add("mongo", func(ctx context.Context) error { return mongo.Disconnect(ctx, client) })
	checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

	repo := mongo.NewRoomAuditLogRepository(mongo.Database(client, cfg.Mongo.Database))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}

	consumer := events.NewRoomConsumer(rmq, cfg.RabbitMQ.Queue, repo, logger)
	g.Go(func() error { return consumer.Listen(ctx) })

	return repo, events.NewRoomPublisher(rmq), nil
}
