package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractCompleted ContractStatus = "COMPLETED"
)

// TimeoutNote marks the buyer slot filled by an elapsed deadline rather than a signature.
const TimeoutNote = "timeout"

// SignatureRecord is one party's slot on a contract. Signature holds the
// hex-encoded signature bytes and is empty for an implicit timeout record.
type SignatureRecord struct {
	Decision  Decision   `json:"decision,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Verified  bool       `json:"verified"`
	SignedAt  *time.Time `json:"signed_at,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// Implicit reports whether the record counts for tallying without
// cryptographic proof behind it.
func (r SignatureRecord) Implicit() bool {
	return r.Verified && r.Signature == "" && r.Note == TimeoutNote
}

// PartyKeys holds the PEM public key registered for each party when the
// contract was created.
type PartyKeys struct {
	Buyer   string `json:"BUYER"`
	Seller  string `json:"SELLER"`
	Arbiter string `json:"AI_ORACLE"`
}

func (k PartyKeys) For(p Party) string {
	switch p {
	case PartyBuyer:
		return k.Buyer
	case PartySeller:
		return k.Seller
	case PartyArbiter:
		return k.Arbiter
	}
	return ""
}

type Signatures struct {
	Buyer   SignatureRecord `json:"BUYER"`
	Seller  SignatureRecord `json:"SELLER"`
	Arbiter SignatureRecord `json:"AI_ORACLE"`
}

func (s Signatures) For(p Party) SignatureRecord {
	switch p {
	case PartyBuyer:
		return s.Buyer
	case PartySeller:
		return s.Seller
	case PartyArbiter:
		return s.Arbiter
	}
	return SignatureRecord{}
}

// With returns a copy of s with the slot for p replaced.
func (s Signatures) With(p Party, r SignatureRecord) Signatures {
	switch p {
	case PartyBuyer:
		s.Buyer = r
	case PartySeller:
		s.Seller = r
	case PartyArbiter:
		s.Arbiter = r
	}
	return s
}

// Contract is the 2-of-3 multi-signature record for a room's escrowed
// amount. It is a plain value: every field is either immutable or replaced
// wholesale, so copies never share mutable state.
type Contract struct {
	ID         string          `json:"contract_id"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	Amount     decimal.Decimal `json:"amount"`
	PublicKeys PartyKeys       `json:"public_keys"`
	Signatures Signatures      `json:"signatures"`
	Status     ContractStatus  `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	TimeoutAt  time.Time       `json:"timeout_at"`
	Decision   Decision        `json:"decision,omitempty"`
	ReleasedTo string          `json:"released_to,omitempty"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
}

// Message is the canonical text a party signs to attest to a decision.
func (c Contract) Message(p Party, d Decision) string {
	return fmt.Sprintf("%s:%s:%s", c.ID, p, d)
}

func (c Contract) Active() bool {
	return c.Status == ContractActive
}

// Tally counts verified signatures per decision across all three parties.
func (c Contract) Tally() map[Decision]int {
	counts := make(map[Decision]int, 2)
	for _, p := range Parties {
		r := c.Signatures.For(p)
		if r.Verified && r.Decision.Valid() {
			counts[r.Decision]++
		}
	}
	return counts
}

// Recipient returns the user credited when the contract executes with d.
func (c Contract) Recipient(d Decision) string {
	if d == DecisionRelease {
		return c.SellerID
	}
	return c.BuyerID
}

// Expired reports whether the timeout deadline has passed at now.
func (c Contract) Expired(now time.Time) bool {
	return !now.Before(c.TimeoutAt)
}
