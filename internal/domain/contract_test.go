package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContract_Message(t *testing.T) {
	t.Parallel()

	c := Contract{ID: "abc123"}
	assert.Equal(t, "abc123:SELLER:RELEASE_TO_SELLER", c.Message(PartySeller, DecisionRelease))
	assert.Equal(t, "abc123:AI_ORACLE:REFUND_TO_BUYER", c.Message(PartyArbiter, DecisionRefund))
}

func TestContract_TallyIgnoresUnverified(t *testing.T) {
	t.Parallel()

	c := Contract{}
	c.Signatures = c.Signatures.
		With(PartySeller, SignatureRecord{Decision: DecisionRelease, Verified: true}).
		With(PartyBuyer, SignatureRecord{Decision: DecisionRefund, Verified: true}).
		With(PartyArbiter, SignatureRecord{Decision: DecisionRelease, Verified: false})

	tally := c.Tally()
	assert.Equal(t, 1, tally[DecisionRelease])
	assert.Equal(t, 1, tally[DecisionRefund])
}

func TestSignatures_WithDoesNotAlias(t *testing.T) {
	t.Parallel()

	base := Signatures{}
	next := base.With(PartyBuyer, SignatureRecord{Decision: DecisionRelease, Verified: true})

	assert.False(t, base.Buyer.Verified)
	assert.True(t, next.Buyer.Verified)
}

func TestContract_RecipientAndExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := Contract{BuyerID: "b", SellerID: "s", TimeoutAt: now}

	assert.Equal(t, "s", c.Recipient(DecisionRelease))
	assert.Equal(t, "b", c.Recipient(DecisionRefund))
	assert.True(t, c.Expired(now))
	assert.False(t, c.Expired(now.Add(-time.Second)))
}

func TestSignatureRecord_Implicit(t *testing.T) {
	t.Parallel()

	assert.True(t, SignatureRecord{Decision: DecisionRelease, Verified: true, Note: TimeoutNote}.Implicit())
	assert.False(t, SignatureRecord{Decision: DecisionRelease, Verified: true, Signature: "ab"}.Implicit())
}
