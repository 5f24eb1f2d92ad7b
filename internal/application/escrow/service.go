package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/application/dispute"
	"github.com/hilthontt/escrow/internal/application/ledger"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/metrics"
	"github.com/hilthontt/escrow/internal/infrastructure/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Notifier fans committed changes out to connected participants.
type Notifier interface {
	RoomUpdated(ctx context.Context, room *domain.Room) error
	MessagePosted(ctx context.Context, phrase string, msg domain.Message) error
}

// Auditor records committed transitions.
type Auditor interface {
	Record(ctx context.Context, log *domain.RoomAuditLog) error
}

type Config struct {
	PhraseWords     int
	PhraseAttempts  int
	InitialBalances map[domain.Role]decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		PhraseWords:    domain.DefaultPhraseWords,
		PhraseAttempts: 10,
		InitialBalances: map[domain.Role]decimal.Decimal{
			domain.RoleBuyer:  decimal.NewFromInt(1000),
			domain.RoleSeller: decimal.NewFromInt(500),
		},
	}
}

// Service is the room state machine. Every transition re-reads the room
// inside a unit of work, validates actor and status against that read, and
// commits room, contract and wallets together before anything is broadcast.
type Service struct {
	store    domain.Store
	engine   *contract.Engine
	ledger   *ledger.Service
	arbiter  *dispute.Arbitration
	notifier Notifier
	auditor  Auditor
	logger   logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	store domain.Store,
	engine *contract.Engine,
	ledger *ledger.Service,
	arbiter *dispute.Arbitration,
	opts ...Option,
) *Service {
	s := &Service{
		store:    store,
		engine:   engine,
		ledger:   ledger,
		arbiter:  arbiter,
		notifier: nopNotifier{},
		auditor:  nopAuditor{},
		logger:   logging.NewNop(),
		tracer:   tracing.GetTracer("escrow"),
		cfg:      DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle applies one action by actorID to the room. Actions whose actor or
// status precondition does not hold return ErrPrecondition and change nothing.
func (s *Service) Handle(ctx context.Context, actorID, phrase string, action Action) error {
	ctx, span := s.tracer.Start(ctx, "escrow."+action.Type(), trace.WithAttributes(
		attribute.String("room.phrase", phrase),
		attribute.String("actor.id", actorID),
	))
	defer span.End()

	var err error
	switch a := action.(type) {
	case ChatMessage:
		err = s.chat(ctx, actorID, phrase, a)
	case ProposeDescription:
		err = s.proposeDescription(ctx, actorID, phrase, a)
	case EditDescription:
		err = s.editDescription(ctx, actorID, phrase, a)
	case ApproveDescription:
		err = s.approveDescription(ctx, actorID, phrase)
	case ConfirmSellerReady:
		err = s.confirmSellerReady(ctx, actorID, phrase)
	case LockFunds:
		err = s.lockFunds(ctx, actorID, phrase)
	case ProductDelivered:
		err = s.productDelivered(ctx, actorID, phrase, a)
	case TransactionSuccessful:
		err = s.transactionSuccessful(ctx, actorID, phrase, a)
	case InitDispute:
		err = s.initDispute(ctx, actorID, phrase, a)
	case FinalizeSubmission:
		err = s.finalizeSubmission(ctx, actorID, phrase)
	default:
		err = fmt.Errorf("unsupported action %T: %w", action, domain.ErrValidation)
	}

	s.metrics.Action(action.Type(), outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(logging.Escrow, logging.Action, "action rejected", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ActorID:      actorID,
			logging.ActionType:   action.Type(),
			logging.ErrorMessage: err.Error(),
		})
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPrecondition):
		return "precondition"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrExternalService):
		return "external"
	}
	return "error"
}

// effect describes what a committed transition must announce.
type effect struct {
	event    domain.RoomEventType
	metadata map[string]any
	messages []domain.Message
	state    bool
}

type mutation func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error)

// mutate runs fn against a freshly read room inside one unit of work. A nil
// effect means nothing changed and nothing is saved. The committed snapshot
// is announced after commit.
func (s *Service) mutate(ctx context.Context, phrase, actorID string, fn mutation) (*domain.Room, error) {
	var (
		snapshot *domain.Room
		eff      *effect
	)

	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		snapshot, eff = nil, nil

		room, err := tx.Room(ctx, phrase)
		if err != nil {
			return err
		}

		eff, err = fn(ctx, tx, room)
		if err != nil {
			return err
		}
		if eff != nil {
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
		}
		snapshot = room.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if eff != nil {
		s.announce(ctx, snapshot, actorID, eff)
	}
	return snapshot, nil
}

func (s *Service) announce(ctx context.Context, room *domain.Room, actorID string, eff *effect) {
	for _, msg := range eff.messages {
		if err := s.notifier.MessagePosted(ctx, room.Phrase, msg); err != nil {
			s.logBroadcastError(room.Phrase, err)
		}
	}
	if eff.state {
		if err := s.notifier.RoomUpdated(ctx, room); err != nil {
			s.logBroadcastError(room.Phrase, err)
		}
	}
	if eff.event != "" {
		if err := s.auditor.Record(ctx, domain.NewRoomAuditLog(room, eff.event, actorID, eff.metadata)); err != nil {
			s.logger.Warn(logging.RabbitMQ, logging.ExternalService, "failed to record room event", map[logging.ExtraKey]any{
				logging.RoomPhrase:   room.Phrase,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}

func (s *Service) logBroadcastError(phrase string, err error) {
	s.logger.Warn(logging.Presence, logging.Broadcast, "failed to broadcast room change", map[logging.ExtraKey]any{
		logging.RoomPhrase:   phrase,
		logging.ErrorMessage: err.Error(),
	})
}

func requireParty(room *domain.Room, actorID string, want domain.Party) error {
	if role, ok := room.RoleOf(actorID); !ok || role != want {
		return fmt.Errorf("%s is not the %s of room %s: %w", actorID, want, room.Phrase, domain.ErrPrecondition)
	}
	return nil
}

func requireStatus(room *domain.Room, want domain.RoomStatus) error {
	if room.Status != want {
		return fmt.Errorf("room %s is %s, want %s: %w", room.Phrase, room.Status, want, domain.ErrPrecondition)
	}
	return nil
}

// lockWallets reads the wallets for ids in user id order so concurrent
// settlements always lock rows in the same sequence.
func lockWallets(ctx context.Context, tx domain.Tx, ids ...string) (map[string]*domain.Wallet, []string, error) {
	seen := make(map[string]bool, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Strings(ordered)

	wallets := make(map[string]*domain.Wallet, len(ordered))
	for _, id := range ordered {
		w, err := tx.Wallet(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		wallets[id] = w
	}
	return wallets, ordered, nil
}

type nopNotifier struct{}

func (nopNotifier) RoomUpdated(context.Context, *domain.Room) error             { return nil }
func (nopNotifier) MessagePosted(context.Context, string, domain.Message) error { return nil }

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, *domain.RoomAuditLog) error { return nil }
