package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/application/dispute"
	"github.com/hilthontt/escrow/internal/application/ledger"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
	"github.com/hilthontt/escrow/internal/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	keysOnce sync.Once
	keys     struct{ buyer, seller, arbiter, stranger *sign.KeySigner }
	keysErr  error
)

func testKeys(t *testing.T) (buyer, seller, arbiter, stranger *sign.KeySigner) {
	t.Helper()
	keysOnce.Do(func() {
		mk := func() *sign.KeySigner {
			key, err := sign.GenerateKey(sign.DefaultKeyBits)
			if err != nil {
				keysErr = err
				return nil
			}
			s, err := sign.NewKeySigner(key)
			if err != nil {
				keysErr = err
			}
			return s
		}
		keys.buyer, keys.seller, keys.arbiter, keys.stranger = mk(), mk(), mk(), mk()
	})
	require.NoError(t, keysErr)
	return keys.buyer, keys.seller, keys.arbiter, keys.stranger
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu       sync.Mutex
	rooms    []*domain.Room
	messages []domain.Message
	events   []domain.RoomEventType
}

func (r *recorder) RoomUpdated(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, room)
	return nil
}

func (r *recorder) MessagePosted(_ context.Context, _ string, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recorder) Record(_ context.Context, log *domain.RoomAuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, log.EventType)
	return nil
}

func (r *recorder) lastRoom() *domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rooms) == 0 {
		return nil
	}
	return r.rooms[len(r.rooms)-1]
}

type classifierFunc func(ctx context.Context, description string) ([]domain.EvidenceKind, error)

func (f classifierFunc) Classify(ctx context.Context, description string) ([]domain.EvidenceKind, error) {
	return f(ctx, description)
}

type verifierFunc func(ctx context.Context, c domain.DisputeCase) (domain.Verdict, error)

func (f verifierFunc) Verify(ctx context.Context, c domain.DisputeCase) (domain.Verdict, error) {
	return f(ctx, c)
}

type fixture struct {
	svc      *Service
	store    domain.Store
	clock    *clock
	rec      *recorder
	phrase   string
	buyer    *domain.User
	seller   *domain.User
	outsider *domain.User

	buyerKey, sellerKey, strangerKey *sign.KeySigner

	classify classifierFunc
	verify   verifierFunc
}

func newFixture(t *testing.T, amount int64) *fixture {
	t.Helper()
	ctx := context.Background()
	buyerKey, sellerKey, arbiterKey, strangerKey := testKeys(t)

	f := &fixture{
		store:       memory.NewStore(),
		clock:       &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		rec:         &recorder{},
		buyerKey:    buyerKey,
		sellerKey:   sellerKey,
		strangerKey: strangerKey,
	}
	f.classify = func(context.Context, string) ([]domain.EvidenceKind, error) {
		return domain.RequiredEvidence(domain.CategoryDigitalGoods), nil
	}
	f.verify = func(_ context.Context, dc domain.DisputeCase) (domain.Verdict, error) {
		if dc.Coverage() > 0.75 {
			return domain.Verdict{Decision: domain.VerdictApprove, Confidence: dc.Coverage()}, nil
		}
		return domain.Verdict{Decision: domain.VerdictReject, Confidence: dc.Coverage()}, nil
	}

	arbitration := dispute.NewArbitration(
		classifierFunc(func(ctx context.Context, d string) ([]domain.EvidenceKind, error) { return f.classify(ctx, d) }),
		verifierFunc(func(ctx context.Context, dc domain.DisputeCase) (domain.Verdict, error) { return f.verify(ctx, dc) }),
		arbiterKey,
	)

	f.svc = NewService(
		f.store,
		contract.NewEngine(contract.WithClock(f.clock.now)),
		ledger.NewService(ledger.WithClock(f.clock.now)),
		arbitration,
		WithNotifier(f.rec),
		WithAuditor(f.rec),
		WithClock(f.clock.now),
	)

	var err error
	f.seller, _, err = f.svc.RegisterUser(ctx, "sam", "seller", sellerKey.PublicKeyPEM())
	require.NoError(t, err)
	f.buyer, _, err = f.svc.RegisterUser(ctx, "bob", "buyer", buyerKey.PublicKeyPEM())
	require.NoError(t, err)
	f.outsider, _, err = f.svc.RegisterUser(ctx, "eve", "buyer", strangerKey.PublicKeyPEM())
	require.NoError(t, err)

	room, err := f.svc.CreateRoom(ctx, f.seller.ID, decimal.NewFromInt(amount))
	require.NoError(t, err)
	f.phrase = room.Phrase

	_, err = f.svc.Join(ctx, f.phrase, f.buyer.ID)
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, actor *domain.User, a Action) error {
	t.Helper()
	return f.svc.Handle(context.Background(), actor.ID, f.phrase, a)
}

func (f *fixture) must(t *testing.T, actor *domain.User, a Action) {
	t.Helper()
	require.NoError(t, f.do(t, actor, a))
}

func (f *fixture) room(t *testing.T) *domain.Room {
	t.Helper()
	room, err := f.svc.Room(context.Background(), f.phrase)
	require.NoError(t, err)
	return room
}

func (f *fixture) wallet(t *testing.T, u *domain.User) *domain.Wallet {
	t.Helper()
	w, err := f.svc.Wallet(context.Background(), u.ID)
	require.NoError(t, err)
	return w
}

// signature signs the canonical message for the room's current contract.
func (f *fixture) signature(t *testing.T, s *sign.KeySigner, p domain.Party, d domain.Decision) string {
	t.Helper()
	room := f.room(t)
	require.NotNil(t, room.Contract)
	sig, err := s.Sign(room.Contract.Message(p, d))
	require.NoError(t, err)
	return sign.EncodeHex(sig)
}

// toPayment drives the room through negotiation to AWAITING_PAYMENT.
func (f *fixture) toPayment(t *testing.T) {
	t.Helper()
	f.must(t, f.buyer, ProposeDescription{Description: "Logo design, three revisions"})
	f.must(t, f.seller, ApproveDescription{})
	f.must(t, f.seller, ConfirmSellerReady{})
}

// toDelivered continues to PRODUCT_DELIVERED with the seller's release signature.
func (f *fixture) toDelivered(t *testing.T) {
	t.Helper()
	f.toPayment(t)
	f.must(t, f.buyer, LockFunds{})
	f.must(t, f.seller, ProductDelivered{
		Signature: f.signature(t, f.sellerKey, domain.PartySeller, domain.DecisionRelease),
	})
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
