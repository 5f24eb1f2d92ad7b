package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredEvidence_ReturnsCopy(t *testing.T) {
	t.Parallel()

	kinds := RequiredEvidence(CategoryDigitalGoods)
	kinds[0] = "tampered"

	assert.Equal(t, EvidenceFileUpload, RequiredEvidence(CategoryDigitalGoods)[0])
	assert.Empty(t, RequiredEvidence(CategoryPhysicalGoods))
	assert.Empty(t, RequiredEvidence("UNKNOWN"))
}

func TestEvidenceKind_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, EvidenceCalendarProof.Valid())
	assert.False(t, EvidenceKind("selfie").Valid())
}

func TestDisputeCase_Coverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		required  []EvidenceKind
		submitted map[EvidenceKind][]string
		want      float64
	}{
		{"all covered", RequiredEvidence(CategoryDigitalGoods), map[EvidenceKind][]string{
			EvidenceFileUpload:      {"s3://a"},
			EvidenceDeliverableShot: {"s3://b"},
		}, 1},
		{"half covered", RequiredEvidence(CategoryServicesTimed), map[EvidenceKind][]string{
			EvidenceCalendarProof: {"s3://a"},
		}, 0.5},
		{"empty reference list does not count", RequiredEvidence(CategorySocialProof), map[EvidenceKind][]string{
			EvidencePublicLink: {},
		}, 0},
		{"nothing required and nothing submitted", nil, nil, 0},
		{"nothing required but something submitted", nil, map[EvidenceKind][]string{
			EvidenceFileUpload: {"s3://a"},
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := DisputeCase{RequiredEvidence: tt.required, SubmittedEvidence: tt.submitted}
			assert.InDelta(t, tt.want, dc.Coverage(), 1e-9)
		})
	}
}

func TestVerdict_ContractDecision(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DecisionRelease, Verdict{Decision: VerdictApprove}.ContractDecision())
	assert.Equal(t, DecisionRefund, Verdict{Decision: VerdictReject}.ContractDecision())
	assert.Equal(t, DecisionRefund, Verdict{}.ContractDecision())
}
