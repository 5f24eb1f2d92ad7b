package escrow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUser_InitialBalances(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	assert.True(t, f.wallet(t, f.buyer).Balance.Equal(amount(1000)))
	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(500)))
	assert.Equal(t, domain.TxDeposit, f.wallet(t, f.buyer).Transactions[0].Kind)

	_, _, err := f.svc.RegisterUser(context.Background(), "BOB", "buyer", f.buyerKey.PublicKeyPEM())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, _, err = f.svc.RegisterUser(context.Background(), "mallory", "buyer", "not a key")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestJoin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := context.Background()

	room := f.room(t)
	assert.Equal(t, f.buyer.ID, room.BuyerID)
	assert.Equal(t, domain.StatusAwaitingDescription, room.Status)
	require.NotNil(t, room.BuyerJoinedAt)
	require.Len(t, room.Messages, 1)
	assert.Equal(t, "BUYER bob joined the room", room.Messages[0].Message)

	// members rejoin without change
	_, err := f.svc.Join(ctx, f.phrase, f.seller.ID)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, f.phrase, f.buyer.ID)
	require.NoError(t, err)
	assert.Len(t, f.room(t).Messages, 1)

	_, err = f.svc.Join(ctx, f.phrase, f.outsider.ID)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Equal(t, f.buyer.ID, f.room(t).BuyerID)

	_, err = f.svc.Join(ctx, "no-such-room", f.buyer.ID)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestLeave_AppendsNotice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	require.NoError(t, f.svc.Leave(context.Background(), f.phrase, f.seller.ID))
	require.NoError(t, f.svc.Leave(context.Background(), f.phrase, f.outsider.ID))

	msgs := f.room(t).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageAdmin, msgs[1].Kind)
	assert.Equal(t, "SELLER sam left the room", msgs[1].Message)
}

func TestChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.must(t, f.seller, ChatMessage{Text: "  hello there  "})

	assert.ErrorIs(t, f.do(t, f.outsider, ChatMessage{Text: "let me in"}), domain.ErrPrecondition)
	assert.ErrorIs(t, f.do(t, f.buyer, ChatMessage{Text: "   "}), domain.ErrValidation)

	msgs := f.room(t).Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.MessageChat, last.Kind)
	assert.Equal(t, "hello there", last.Message)
	assert.Equal(t, "sam", last.SenderUsername)
	assert.Equal(t, "hello there", f.rec.messages[len(f.rec.messages)-1].Message)
}

func TestNegotiation_TurnOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)

	assert.ErrorIs(t, f.do(t, f.seller, ProposeDescription{Description: "seller first"}), domain.ErrPrecondition)
	assert.ErrorIs(t, f.do(t, f.buyer, ApproveDescription{}), domain.ErrPrecondition)
	assert.ErrorIs(t, f.do(t, f.buyer, ProposeDescription{Description: ""}), domain.ErrValidation)

	f.must(t, f.buyer, ProposeDescription{Description: "A logo"})
	assert.Equal(t, domain.StatusAwaitingSellerApproval, f.room(t).Status)

	// the proposer cannot approve their own text
	assert.ErrorIs(t, f.do(t, f.buyer, ApproveDescription{}), domain.ErrPrecondition)
	assert.ErrorIs(t, f.do(t, f.buyer, ProposeDescription{Description: "again"}), domain.ErrPrecondition)
	// nor rewrite it while the seller holds the turn
	assert.ErrorIs(t, f.do(t, f.buyer, EditDescription{Description: "A logo, revised"}), domain.ErrPrecondition)
	assert.Equal(t, "A logo", f.room(t).Description)

	// a counter-proposal flips the turn
	f.must(t, f.seller, EditDescription{Description: "A logo and a favicon"})
	room := f.room(t)
	assert.Equal(t, domain.StatusAwaitingBuyerApproval, room.Status)
	assert.Equal(t, "A logo and a favicon", room.Description)
	assert.ErrorIs(t, f.do(t, f.seller, ApproveDescription{}), domain.ErrPrecondition)
	assert.ErrorIs(t, f.do(t, f.seller, EditDescription{Description: "seller again"}), domain.ErrPrecondition)

	f.must(t, f.buyer, EditDescription{Description: "A logo, a favicon and a banner"})
	assert.Equal(t, domain.StatusAwaitingSellerApproval, f.room(t).Status)
	f.must(t, f.seller, EditDescription{Description: "A logo and a favicon"})
	assert.Equal(t, domain.StatusAwaitingBuyerApproval, f.room(t).Status)

	assert.ErrorIs(t, f.do(t, f.outsider, EditDescription{Description: "hijack"}), domain.ErrPrecondition)

	f.must(t, f.buyer, ApproveDescription{})
	assert.Equal(t, domain.StatusAwaitingSellerReady, f.room(t).Status)
	assert.ErrorIs(t, f.do(t, f.buyer, EditDescription{Description: "too late"}), domain.ErrPrecondition)

	assert.ErrorIs(t, f.do(t, f.buyer, ConfirmSellerReady{}), domain.ErrPrecondition)
	f.must(t, f.seller, ConfirmSellerReady{})
	assert.Equal(t, domain.StatusAwaitingPayment, f.room(t).Status)
}

func TestScenarioA_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toPayment(t)

	f.must(t, f.buyer, LockFunds{})
	room := f.room(t)
	require.NotNil(t, room.Contract)
	assert.Equal(t, domain.StatusMoneySecured, room.Status)
	assert.Equal(t, domain.ContractActive, room.Contract.Status)
	assert.Equal(t, f.clock.now().Add(24*time.Hour), room.Contract.TimeoutAt)

	buyer := f.wallet(t, f.buyer)
	assert.True(t, buyer.Balance.Equal(amount(900)))
	assert.True(t, buyer.Locked.Equal(amount(100)))

	f.must(t, f.seller, ProductDelivered{
		Signature: f.signature(t, f.sellerKey, domain.PartySeller, domain.DecisionRelease),
	})
	assert.Equal(t, domain.StatusProductDelivered, f.room(t).Status)

	f.must(t, f.buyer, TransactionSuccessful{
		Signature: f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRelease),
	})

	room = f.room(t)
	assert.Equal(t, domain.StatusComplete, room.Status)
	assert.Equal(t, domain.ContractCompleted, room.Contract.Status)
	assert.Equal(t, f.seller.ID, room.Contract.ReleasedTo)
	require.NotNil(t, room.CompletedAt)

	buyer = f.wallet(t, f.buyer)
	assert.True(t, buyer.Balance.Equal(amount(900)))
	assert.True(t, buyer.Locked.IsZero())
	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(600)))
	assert.True(t, f.wallet(t, f.outsider).Balance.Equal(amount(1000)))

	assert.Equal(t, domain.StatusComplete, f.rec.lastRoom().Status)
	assert.Contains(t, f.rec.events, domain.EventContractCompleted)
}

func TestLockFunds_InsufficientFunds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5000)
	f.toPayment(t)

	err := f.do(t, f.buyer, LockFunds{})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	room := f.room(t)
	assert.Equal(t, domain.StatusAwaitingPayment, room.Status)
	assert.Nil(t, room.Contract)

	buyer := f.wallet(t, f.buyer)
	assert.True(t, buyer.Balance.Equal(amount(1000)))
	assert.True(t, buyer.Locked.IsZero())
}

func TestReplayedActionsAreNoops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toPayment(t)
	f.must(t, f.buyer, LockFunds{})

	assert.ErrorIs(t, f.do(t, f.buyer, LockFunds{}), domain.ErrPrecondition)
	assert.True(t, f.wallet(t, f.buyer).Balance.Equal(amount(900)))

	sellerSig := f.signature(t, f.sellerKey, domain.PartySeller, domain.DecisionRelease)
	f.must(t, f.seller, ProductDelivered{Signature: sellerSig})
	assert.ErrorIs(t, f.do(t, f.seller, ProductDelivered{Signature: sellerSig}), domain.ErrPrecondition)

	buyerSig := f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRelease)
	f.must(t, f.buyer, TransactionSuccessful{Signature: buyerSig})
	assert.ErrorIs(t, f.do(t, f.buyer, TransactionSuccessful{Signature: buyerSig}), domain.ErrPrecondition)

	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(600)))
	assert.Len(t, f.wallet(t, f.seller).Transactions, 2)
}

func TestConcurrentLockFunds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toPayment(t)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.svc.Handle(context.Background(), f.buyer.ID, f.phrase, LockFunds{}) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.True(t, f.wallet(t, f.buyer).Locked.Equal(amount(100)))
}

func TestScenarioC_ForgedSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toPayment(t)
	f.must(t, f.buyer, LockFunds{})

	forged := f.signature(t, f.strangerKey, domain.PartySeller, domain.DecisionRelease)
	assert.ErrorIs(t, f.do(t, f.seller, ProductDelivered{Signature: forged}), domain.ErrInvalidSignature)
	assert.ErrorIs(t, f.do(t, f.seller, ProductDelivered{Signature: "zz-not-hex"}), domain.ErrInvalidSignature)

	// a genuine signature over another party's message is also refused
	wrongMsg := f.signature(t, f.sellerKey, domain.PartyBuyer, domain.DecisionRelease)
	assert.ErrorIs(t, f.do(t, f.seller, ProductDelivered{Signature: wrongMsg}), domain.ErrInvalidSignature)

	room := f.room(t)
	assert.Equal(t, domain.StatusMoneySecured, room.Status)
	assert.False(t, room.Contract.Signatures.Seller.Verified)
	assert.Empty(t, room.Contract.Tally())
}

func TestScenarioB_MajorityOverridesDisputingBuyer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toDelivered(t)

	f.must(t, f.buyer, InitDispute{
		Signature: f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRefund),
	})
	room := f.room(t)
	assert.Equal(t, domain.StatusDispute, room.Status)
	assert.Equal(t, domain.DisputeAwaitingEvidence, room.DisputeStatus)
	assert.Equal(t, domain.RequiredEvidence(domain.CategoryDigitalGoods), room.RequiredEvidence)
	assert.Equal(t, domain.ContractActive, room.Contract.Status)

	ctx := context.Background()
	_, err := f.svc.SubmitEvidence(ctx, f.phrase, f.seller.ID, domain.EvidenceFileUpload, "s3://bucket/logo.zip")
	require.NoError(t, err)
	_, err = f.svc.SubmitEvidence(ctx, f.phrase, f.seller.ID, domain.EvidenceDeliverableShot, "s3://bucket/shot.png")
	require.NoError(t, err)

	assert.ErrorIs(t, f.do(t, f.buyer, FinalizeSubmission{}), domain.ErrPrecondition)
	f.must(t, f.seller, FinalizeSubmission{})

	room = f.room(t)
	assert.Equal(t, domain.StatusComplete, room.Status)
	assert.Equal(t, domain.DisputeResolved, room.DisputeStatus)
	require.NotNil(t, room.Verdict)
	assert.Equal(t, domain.VerdictApprove, room.Verdict.Decision)
	assert.Equal(t, domain.DecisionRelease, room.Contract.Decision)
	assert.Equal(t, f.seller.ID, room.Contract.ReleasedTo)
	assert.Equal(t, domain.DecisionRefund, room.Contract.Signatures.Buyer.Decision)

	assert.True(t, f.wallet(t, f.buyer).Locked.IsZero())
	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(600)))
}

func TestDispute_RejectRefundsBuyer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toDelivered(t)
	f.must(t, f.buyer, InitDispute{
		Signature: f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRefund),
	})

	// no evidence submitted, so the verdict is REJECT
	f.must(t, f.seller, FinalizeSubmission{})

	room := f.room(t)
	assert.Equal(t, domain.StatusComplete, room.Status)
	assert.Equal(t, f.buyer.ID, room.Contract.ReleasedTo)

	buyer := f.wallet(t, f.buyer)
	assert.True(t, buyer.Balance.Equal(amount(1000)))
	assert.True(t, buyer.Locked.IsZero())
	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(500)))
}

func TestFinalize_RetryAfterVerifierFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toDelivered(t)
	f.must(t, f.buyer, InitDispute{
		Signature: f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRefund),
	})

	f.verify = func(context.Context, domain.DisputeCase) (domain.Verdict, error) {
		return domain.Verdict{}, errors.New("verifier timed out")
	}
	assert.ErrorIs(t, f.do(t, f.seller, FinalizeSubmission{}), domain.ErrExternalService)

	room := f.room(t)
	assert.Equal(t, domain.DisputeInReview, room.DisputeStatus)
	assert.Equal(t, domain.ContractActive, room.Contract.Status)
	assert.False(t, room.Contract.Signatures.Arbiter.Verified)
	assert.True(t, f.wallet(t, f.buyer).Locked.Equal(amount(100)))

	// evidence is closed once review starts
	_, err := f.svc.SubmitEvidence(context.Background(), f.phrase, f.seller.ID, domain.EvidenceFileUpload, "late")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	f.verify = func(context.Context, domain.DisputeCase) (domain.Verdict, error) {
		return domain.Verdict{Decision: domain.VerdictReject, Confidence: 0.2, Reasoning: "no proof"}, nil
	}
	f.must(t, f.seller, FinalizeSubmission{})

	room = f.room(t)
	assert.Equal(t, domain.StatusComplete, room.Status)
	assert.Equal(t, domain.DisputeResolved, room.DisputeStatus)
	assert.Equal(t, "no proof", room.Verdict.Reasoning)

	assert.ErrorIs(t, f.do(t, f.seller, FinalizeSubmission{}), domain.ErrPrecondition)
	assert.True(t, f.wallet(t, f.buyer).Balance.Equal(amount(1000)))
}

func TestInitDispute_ClassifierFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toDelivered(t)
	f.classify = func(context.Context, string) ([]domain.EvidenceKind, error) {
		return nil, errors.New("classifier unreachable")
	}

	err := f.do(t, f.buyer, InitDispute{
		Signature: f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRefund),
	})
	assert.ErrorIs(t, err, domain.ErrExternalService)

	room := f.room(t)
	assert.Equal(t, domain.StatusDispute, room.Status)
	assert.Equal(t, domain.DisputeAwaitingEvidence, room.DisputeStatus)
	assert.Empty(t, room.RequiredEvidence)
	assert.True(t, room.Contract.Signatures.Buyer.Verified)
}

func TestSubmitEvidence_Guards(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.SubmitEvidence(ctx, f.phrase, f.seller.ID, domain.EvidenceFileUpload, "s3://x")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	f.toDelivered(t)
	f.must(t, f.buyer, InitDispute{
		Signature: f.signature(t, f.buyerKey, domain.PartyBuyer, domain.DecisionRefund),
	})

	_, err = f.svc.SubmitEvidence(ctx, f.phrase, f.buyer.ID, domain.EvidenceFileUpload, "s3://x")
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	_, err = f.svc.SubmitEvidence(ctx, f.phrase, f.seller.ID, "selfie", "s3://x")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.SubmitEvidence(ctx, f.phrase, f.seller.ID, domain.EvidenceFileUpload, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestScenarioD_Timeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toDelivered(t)
	ctx := context.Background()

	n, err := f.svc.ExpireContracts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.advance(24*time.Hour + time.Second)
	n, err = f.svc.ExpireContracts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	room := f.room(t)
	assert.Equal(t, domain.StatusComplete, room.Status)
	assert.Equal(t, f.seller.ID, room.Contract.ReleasedTo)
	assert.True(t, room.Contract.Signatures.Buyer.Implicit())
	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(600)))

	_, audits, err := f.svc.Signatures(ctx, f.phrase)
	require.NoError(t, err)
	for _, a := range audits {
		switch a.Party {
		case domain.PartyBuyer:
			assert.True(t, a.Verified)
			assert.False(t, a.CryptographicallyValid)
		case domain.PartySeller:
			assert.True(t, a.CryptographicallyValid)
		}
	}

	// a second sweep finds nothing to do
	n, err = f.svc.ExpireContracts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckTimeout_BeforeDeliveryDoesNotComplete(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.toPayment(t)
	f.must(t, f.buyer, LockFunds{})
	f.clock.advance(25 * time.Hour)

	completed, err := f.svc.CheckTimeout(context.Background(), f.phrase)
	require.NoError(t, err)
	assert.False(t, completed)

	room := f.room(t)
	assert.Equal(t, domain.StatusMoneySecured, room.Status)
	assert.True(t, room.Contract.Signatures.Buyer.Implicit())

	// the seller's delivery signature now completes the contract
	f.must(t, f.seller, ProductDelivered{
		Signature: f.signature(t, f.sellerKey, domain.PartySeller, domain.DecisionRelease),
	})
	assert.Equal(t, domain.StatusComplete, f.room(t).Status)
	assert.True(t, f.wallet(t, f.seller).Balance.Equal(amount(600)))
}

type unknownAction struct{}

func (unknownAction) Type() string { return "unknown" }
func (unknownAction) sealed()      {}

func TestHandle_UnknownAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	assert.ErrorIs(t, f.do(t, f.buyer, unknownAction{}), domain.ErrValidation)
}
