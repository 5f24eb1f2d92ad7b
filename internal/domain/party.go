package domain

// Party is one of the three potential signers of a contract.
type Party string

const (
	PartyBuyer   Party = "BUYER"
	PartySeller  Party = "SELLER"
	PartyArbiter Party = "AI_ORACLE"
)

// Parties lists every signer in a stable order.
var Parties = [...]Party{PartyBuyer, PartySeller, PartyArbiter}

func (p Party) Valid() bool {
	switch p {
	case PartyBuyer, PartySeller, PartyArbiter:
		return true
	}
	return false
}

// Decision is the outcome a signer attests to.
type Decision string

const (
	DecisionRelease Decision = "RELEASE_TO_SELLER"
	DecisionRefund  Decision = "REFUND_TO_BUYER"
)

func (d Decision) Valid() bool {
	return d == DecisionRelease || d == DecisionRefund
}
