// Package bootstrap builds the pieces the escrow binaries share from a
// loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/application/dispute"
	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/application/ledger"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/arbiter"
	"github.com/hilthontt/escrow/internal/infrastructure/broker"
	"github.com/hilthontt/escrow/internal/infrastructure/configs"
	"github.com/hilthontt/escrow/internal/infrastructure/events"
	"github.com/hilthontt/escrow/internal/infrastructure/keystore"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/messaging"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
	"github.com/hilthontt/escrow/internal/persistence/memory"
	"github.com/hilthontt/escrow/internal/persistence/postgres"
	"github.com/shopspring/decimal"
)

// ErrArbiterKeyRequired is returned when shared storage is configured without
// a persistent arbiter key.
var ErrArbiterKeyRequired = errors.New("arbiter key file required")

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

// Resources releases what the builders opened, last opened first.
type Resources struct {
	logger  logging.Logger
	names   []string
	closers []func(context.Context) error
}

func NewResources(logger logging.Logger) *Resources {
	return &Resources{logger: logger}
}

func (r *Resources) Add(name string, fn func(context.Context) error) {
	r.names = append(r.names, name)
	r.closers = append(r.closers, fn)
}

func (r *Resources) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.logger.Warn(logging.General, logging.Shutdown, "resource close failed", map[logging.ExtraKey]any{
				logging.LoggerName:   r.names[i],
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}

// OpenStore returns the configured storage driver. The postgres driver runs
// pending migrations first when migrate_on_start is set.
func OpenStore(ctx context.Context, cfg *configs.Config, logger logging.Logger, res *Resources) (domain.Store, Check, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn(logging.General, logging.Startup, "using in-memory storage, state is lost on restart", nil)
		return memory.NewStore(), nil, nil
	case "postgres", "":
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Postgres.MigrateOnStart {
		if err := postgres.Migrate(ctx, cfg.Postgres.DSN, logger); err != nil {
			return nil, nil, err
		}
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	res.Add("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})

	return postgres.NewStore(pool, logger), pool.Ping, nil
}

func storageDriver(cfg *configs.Config) string {
	if cfg.Storage.Driver == "" {
		return "postgres"
	}
	return cfg.Storage.Driver
}

// OpenRabbitMQ connects to the event exchange and registers the close.
func OpenRabbitMQ(cfg *configs.Config, res *Resources) (*messaging.RabbitMQ, error) {
	rmq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		return nil, err
	}
	res.Add("rabbitmq", func(context.Context) error {
		rmq.Close()
		return nil
	})
	return rmq, nil
}

// AuditOptions returns the service options that publish room events when
// RabbitMQ is enabled, and none otherwise.
func AuditOptions(cfg *configs.Config, res *Resources) ([]escrow.Option, error) {
	if !cfg.RabbitMQ.Enabled {
		return nil, nil
	}
	rmq, err := OpenRabbitMQ(cfg, res)
	if err != nil {
		return nil, err
	}
	return []escrow.Option{escrow.WithAuditor(events.NewRoomPublisher(rmq))}, nil
}

// ConnectBroker opens the Redis client behind presence and fan-out.
func ConnectBroker(ctx context.Context, cfg *configs.Config, res *Resources) (*broker.Broker, Check, error) {
	client, err := broker.Connect(ctx, broker.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	res.Add("redis", func(context.Context) error { return client.Close() })

	b := broker.New(client, cfg.Redis.SessionTTL)
	return b, b.Ping, nil
}

// NewService assembles the state machine with its engine, ledger and
// arbitration.
func NewService(store domain.Store, cfg *configs.Config, logger logging.Logger, opts ...escrow.Option) (*escrow.Service, error) {
	escrowCfg, err := EscrowConfig(cfg.Escrow)
	if err != nil {
		return nil, err
	}

	signer, err := ArbiterSigner(cfg, logger)
	if err != nil {
		return nil, err
	}

	classifier, verifier, err := Arbiter(cfg.Arbiter, logger)
	if err != nil {
		return nil, err
	}

	opts = append([]escrow.Option{escrow.WithConfig(escrowCfg), escrow.WithLogger(logger)}, opts...)
	return escrow.NewService(
		store,
		contract.NewEngine(contract.WithHorizon(cfg.Escrow.ContractHorizon)),
		ledger.NewService(),
		dispute.NewArbitration(classifier, verifier, signer),
		opts...,
	), nil
}

func EscrowConfig(cfg configs.EscrowConfig) (escrow.Config, error) {
	out := escrow.DefaultConfig()
	if cfg.PhraseWords > 0 {
		out.PhraseWords = cfg.PhraseWords
	}

	balances := map[domain.Role]string{
		domain.RoleBuyer:  cfg.BuyerBalance,
		domain.RoleSeller: cfg.SellerBalance,
	}
	for role, raw := range balances {
		if raw == "" {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return escrow.Config{}, fmt.Errorf("initial %s balance %q: %w", role, raw, err)
		}
		if amount.IsNegative() {
			return escrow.Config{}, fmt.Errorf("initial %s balance %q is negative", role, raw)
		}
		if !amount.IsZero() {
			if err := domain.CheckAmount(amount); err != nil {
				return escrow.Config{}, fmt.Errorf("initial %s balance: %w", role, err)
			}
		}
		out.InitialBalances[role] = amount
	}
	return out, nil
}

// Arbiter picks the rule-based or remote classifier and verifier.
func Arbiter(cfg configs.ArbiterConfig, logger logging.Logger) (dispute.Classifier, dispute.Verifier, error) {
	var client *arbiter.Client
	remote := func() *arbiter.Client {
		if client == nil {
			client = arbiter.NewClient(arbiter.Config{
				ClassifierURL:    cfg.ClassifierURL,
				VerifierURL:      cfg.VerifierURL,
				APIKey:           cfg.APIKey,
				Timeout:          cfg.Timeout,
				MaxElapsed:       cfg.MaxElapsed,
				ApproveThreshold: cfg.ApproveThreshold,
			}, logger)
		}
		return client
	}

	var classifier dispute.Classifier
	switch cfg.Classifier {
	case "rules", "":
		classifier = arbiter.NewRuleClassifier()
	case "http":
		if cfg.ClassifierURL == "" {
			return nil, nil, errors.New("arbiter.classifier_url is required for the http classifier")
		}
		classifier = remote()
	default:
		return nil, nil, fmt.Errorf("unknown arbiter classifier %q", cfg.Classifier)
	}

	var verifier dispute.Verifier
	switch cfg.Verifier {
	case "rules", "":
		verifier = arbiter.NewRuleVerifier(cfg.ApproveThreshold)
	case "http":
		if cfg.VerifierURL == "" {
			return nil, nil, errors.New("arbiter.verifier_url is required for the http verifier")
		}
		verifier = remote()
	default:
		return nil, nil, fmt.Errorf("unknown arbiter verifier %q", cfg.Verifier)
	}

	return classifier, verifier, nil
}

// ArbiterSigner loads the arbiter key from key_file. Only the memory driver
// may run without one: it then gets an ephemeral key, which no other process
// and no restart can reproduce.
func ArbiterSigner(root *configs.Config, logger logging.Logger) (*sign.KeySigner, error) {
	cfg := root.Arbiter
	if cfg.KeyFile != "" {
		passphrase := ""
		if cfg.PassphraseEnv != "" {
			passphrase = os.Getenv(cfg.PassphraseEnv)
		}
		return keystore.LoadSigner(cfg.KeyFile, passphrase)
	}

	if root.Storage.Driver != "memory" {
		return nil, fmt.Errorf("arbiter.key_file is required with the %q storage driver: %w", storageDriver(root), ErrArbiterKeyRequired)
	}

	logger.Warn(logging.Dispute, logging.Startup, "no arbiter key file configured, generating an ephemeral key", nil)
	key, err := sign.GenerateKey(sign.DefaultKeyBits)
	if err != nil {
		return nil, err
	}
	return sign.NewKeySigner(key)
}
