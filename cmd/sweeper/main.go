// Command sweeper applies contract deadlines: every ACTIVE contract past its
// timeout with no buyer signature gets the implicit buyer release and, if that
// completes it, the funds are released. It runs once or on an interval.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/bootstrap"
	"github.com/hilthontt/escrow/internal/infrastructure/configs"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/presence"
	"github.com/hilthontt/escrow/internal/persistence/mongo"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	fs := pflag.NewFlagSet("sweeper", pflag.ExitOnError)
	configFlag := configs.BindFlags(fs)
	once := fs.Bool("once", false, "run a single sweep and exit")
	interval := fs.Duration("interval", 0, "time between sweeps (overrides sweeper.interval)")
	retention := fs.Duration("audit-retention", 0, "also delete audit events older than this; 0 keeps them")
	_ = fs.Parse(os.Args[1:])

	configPath, err := configs.DetermineConfigPath(*configFlag)
	if err != nil && !errors.Is(err, configs.ErrConfigNotFound) {
		log.Fatal(err)
	}
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *interval > 0 {
		cfg.Sweeper.Interval = *interval
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once, *retention); err != nil {
		logger.Fatal(logging.Escrow, logging.Sweep, "sweeper exited", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func run(ctx context.Context, cfg *configs.Config, logger logging.Logger, once bool, retention time.Duration) error {
	res := bootstrap.NewResources(logger)
	defer res.Close(context.Background())

	store, _, err := bootstrap.OpenStore(ctx, cfg, logger, res)
	if err != nil {
		return err
	}

	b, _, err := bootstrap.ConnectBroker(ctx, cfg, res)
	if err != nil {
		return err
	}
	hub := presence.NewHub(b, presence.WithLogger(logger))
	res.Add("presence", hub.Shutdown)

	opts, err := bootstrap.AuditOptions(cfg, res)
	if err != nil {
		return err
	}
	opts = append(opts, escrow.WithNotifier(presence.NewNotifier(hub)))

	service, err := bootstrap.NewService(store, cfg, logger, opts...)
	if err != nil {
		return err
	}

	var prune func(context.Context) error
	if retention > 0 {
		prune, err = auditPruner(ctx, cfg, logger, res, retention)
		if err != nil {
			return err
		}
	}

	sweep := func(ctx context.Context) {
		if _, err := service.ExpireContracts(ctx); err != nil {
			logger.Error(logging.Escrow, logging.Sweep, "sweep finished with errors", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		if prune == nil {
			return
		}
		if err := prune(ctx); err != nil {
			logger.Error(logging.Mongo, logging.Delete, "audit pruning failed", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	if once || cfg.Sweeper.Interval <= 0 {
		sweep(ctx)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Sweeper.Interval)
		defer ticker.Stop()

		logger.Info(logging.Escrow, logging.Startup, "sweeper started", map[logging.ExtraKey]any{
			logging.Latency: cfg.Sweeper.Interval.String(),
		})
		for {
			sweep(ctx)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}

func auditPruner(ctx context.Context, cfg *configs.Config, logger logging.Logger, res *bootstrap.Resources, retention time.Duration) (func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, mongo.Config{
		URI:               cfg.Mongo.URI,
		Database:          cfg.Mongo.Database,
		ConnectionTimeout: cfg.Mongo.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	res.Add("mongo", func(ctx context.Context) error { return mongo.Disconnect(ctx, client) })

	repo := mongo.NewRoomAuditLogRepository(mongo.Database(client, cfg.Mongo.Database))
	return func(ctx context.Context) error {
		return repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
	}, nil
}
