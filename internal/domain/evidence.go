package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EvidenceKind string

const (
	EvidenceFileUpload           EvidenceKind = "file_upload"
	EvidenceDeliverableShot      EvidenceKind = "screenshot_of_deliverable"
	EvidenceCalendarProof        EvidenceKind = "calendar_proof"
	EvidenceConfirmationMessages EvidenceKind = "both_parties_confirmation_messages"
	EvidenceCompletedWork        EvidenceKind = "completed_work_upload"
	EvidenceAcceptance           EvidenceKind = "acceptance_communication"
	EvidencePublicLink           EvidenceKind = "public_link_to_post"
	EvidenceTimestampedShot      EvidenceKind = "screenshot_with_timestamp"
)

// Category is the transaction class a classifier assigns to a description.
type Category string

const (
	CategoryDigitalGoods        Category = "DIGITAL_GOODS"
	CategoryServicesTimed       Category = "SERVICES_TIMED"
	CategoryServicesDeliverable Category = "SERVICES_DELIVERABLE"
	CategorySocialProof         Category = "SOCIAL_PROOF"
	CategoryPhysicalGoods       Category = "PHYSICAL_GOODS"
)

var evidenceRequirements = map[Category][]EvidenceKind{
	CategoryDigitalGoods:        {EvidenceFileUpload, EvidenceDeliverableShot},
	CategoryServicesTimed:       {EvidenceCalendarProof, EvidenceConfirmationMessages},
	CategoryServicesDeliverable: {EvidenceCompletedWork, EvidenceAcceptance},
	CategorySocialProof:         {EvidencePublicLink, EvidenceTimestampedShot},
	CategoryPhysicalGoods:       {},
}

// RequiredEvidence returns the evidence kinds a category calls for. Unknown
// categories require nothing.
func RequiredEvidence(c Category) []EvidenceKind {
	return append([]EvidenceKind{}, evidenceRequirements[c]...)
}

// Valid reports whether k is one of the known evidence kinds.
func (k EvidenceKind) Valid() bool {
	for _, kinds := range evidenceRequirements {
		for _, known := range kinds {
			if k == known {
				return true
			}
		}
	}
	return false
}

func (c Category) Valid() bool {
	_, ok := evidenceRequirements[c]
	return ok
}

type VerdictDecision string

const (
	VerdictApprove VerdictDecision = "APPROVE"
	VerdictReject  VerdictDecision = "REJECT"
)

// Verdict is the verifier's binding answer on a dispute.
type Verdict struct {
	Decision   VerdictDecision `json:"decision"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// ContractDecision maps APPROVE to a release and anything else to a refund.
func (v Verdict) ContractDecision() Decision {
	if v.Decision == VerdictApprove {
		return DecisionRelease
	}
	return DecisionRefund
}

// DisputeCase is the bundle a verifier rules on.
type DisputeCase struct {
	RoomPhrase        string                    `json:"room_code"`
	Description       string                    `json:"description"`
	Amount            decimal.Decimal           `json:"amount"`
	RequiredEvidence  []EvidenceKind            `json:"required_evidence"`
	SubmittedEvidence map[EvidenceKind][]string `json:"submitted_evidence"`
}

// Coverage is the share of required kinds with at least one reference.
// With nothing required, any submitted reference counts as full coverage.
func (d DisputeCase) Coverage() float64 {
	if len(d.RequiredEvidence) == 0 {
		for _, refs := range d.SubmittedEvidence {
			if len(refs) > 0 {
				return 1
			}
		}
		return 0
	}

	covered := 0
	for _, kind := range d.RequiredEvidence {
		if len(d.SubmittedEvidence[kind]) > 0 {
			covered++
		}
	}
	return float64(covered) / float64(len(d.RequiredEvidence))
}
