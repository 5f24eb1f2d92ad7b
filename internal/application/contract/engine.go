package contract

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
	"github.com/shopspring/decimal"
)

const DefaultHorizon = 24 * time.Hour

// Engine owns the lifecycle of multi-signature contracts. It never mutates
// the contract it is given; every operation returns the next value.
type Engine struct {
	horizon time.Duration
	now     func() time.Time
}

type Option func(*Engine)

func WithHorizon(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.horizon = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		horizon: DefaultHorizon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create builds an ACTIVE contract with empty signature slots and a fixed
// timeout deadline. Every party key must be a parseable RSA public key.
func (e *Engine) Create(buyerID, sellerID string, amount decimal.Decimal, keys domain.PartyKeys) (domain.Contract, error) {
	if buyerID == "" || sellerID == "" {
		return domain.Contract{}, fmt.Errorf("contract needs buyer and seller: %w", domain.ErrValidation)
	}
	if !amount.IsPositive() {
		return domain.Contract{}, fmt.Errorf("contract amount must be positive: %w", domain.ErrValidation)
	}
	for _, p := range domain.Parties {
		if _, err := sign.ParsePublicKey(keys.For(p)); err != nil {
			return domain.Contract{}, fmt.Errorf("%s public key: %v: %w", p, err, domain.ErrValidation)
		}
	}

	id, err := newContractID()
	if err != nil {
		return domain.Contract{}, err
	}

	now := e.now()
	return domain.Contract{
		ID:         id,
		BuyerID:    buyerID,
		SellerID:   sellerID,
		Amount:     amount,
		PublicKeys: keys,
		Status:     domain.ContractActive,
		CreatedAt:  now,
		TimeoutAt:  now.Add(e.horizon),
	}, nil
}

// Sign verifies signature over the canonical message for party and decision
// and records it, replacing any earlier signature from the same party. The
// contract executes as soon as one decision holds two verified signatures.
// On any error the returned contract is the unchanged input.
func (e *Engine) Sign(c domain.Contract, party domain.Party, decision domain.Decision, signature []byte) (domain.Contract, error) {
	if !c.Active() {
		return c, fmt.Errorf("contract %s is %s: %w", c.ID, c.Status, domain.ErrContractNotActive)
	}
	if !party.Valid() || !decision.Valid() {
		return c, fmt.Errorf("party %q decision %q: %w", party, decision, domain.ErrValidation)
	}

	if err := sign.Verify(c.PublicKeys.For(party), c.Message(party, decision), signature); err != nil {
		return c, fmt.Errorf("%s signature on contract %s: %w", party, c.ID, domain.ErrInvalidSignature)
	}

	now := e.now()
	next := c
	next.Signatures = c.Signatures.With(party, domain.SignatureRecord{
		Decision:  decision,
		Signature: sign.EncodeHex(signature),
		Verified:  true,
		SignedAt:  &now,
	})

	return e.execute(next), nil
}

// CheckTimeout fills an unverified buyer slot with an implicit release once
// the deadline has passed, then re-runs execution. The boolean reports
// whether the slot was filled.
func (e *Engine) CheckTimeout(c domain.Contract) (domain.Contract, bool) {
	now := e.now()
	if !c.Active() || !c.Expired(now) || c.Signatures.Buyer.Verified {
		return c, false
	}

	next := c
	next.Signatures = c.Signatures.With(domain.PartyBuyer, domain.SignatureRecord{
		Decision: domain.DecisionRelease,
		Verified: true,
		SignedAt: &now,
		Note:     domain.TimeoutNote,
	})

	return e.execute(next), true
}

func (e *Engine) execute(c domain.Contract) domain.Contract {
	if !c.Active() {
		return c
	}

	tally := c.Tally()
	for _, d := range []domain.Decision{domain.DecisionRelease, domain.DecisionRefund} {
		if tally[d] < 2 {
			continue
		}
		now := e.now()
		c.Status = domain.ContractCompleted
		c.Decision = d
		c.ReleasedTo = c.Recipient(d)
		c.ReleasedAt = &now
		break
	}
	return c
}

// Completed reports whether after is the result of executing before.
func Completed(before, after domain.Contract) bool {
	return before.Active() && after.Status == domain.ContractCompleted
}

func newContractID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate contract id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
