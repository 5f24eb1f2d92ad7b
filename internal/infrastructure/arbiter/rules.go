package arbiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hilthontt/escrow/internal/domain"
)

// DefaultApproveThreshold is the confidence above which a dispute is
// approved for the seller.
const DefaultApproveThreshold = 0.75

// keywords are checked in order; the first category with a matching word wins.
var keywords = []struct {
	category domain.Category
	words    []string
}{
	{domain.CategorySocialProof, []string{"post", "tweet", "instagram", "tiktok", "shoutout", "followers", "promotion", "retweet"}},
	{domain.CategoryServicesTimed, []string{"hour", "session", "lesson", "meeting", "consultation", "coaching", "call", "appointment"}},
	{domain.CategoryServicesDeliverable, []string{"design", "logo", "website", "article", "translation", "edit", "develop", "write", "build"}},
	{domain.CategoryDigitalGoods, []string{"download", "ebook", "software", "license", "template", "file", "code", "key", "digital"}},
	{domain.CategoryPhysicalGoods, []string{"ship", "shipping", "package", "parcel", "deliver to", "address", "courier"}},
}

// RuleClassifier assigns a category by keyword and returns its required
// evidence. Descriptions with no match are treated as physical goods.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (RuleClassifier) Category(description string) domain.Category {
	text := strings.ToLower(description)
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				return k.category
			}
		}
	}
	return domain.CategoryPhysicalGoods
}

func (c RuleClassifier) Classify(_ context.Context, description string) ([]domain.EvidenceKind, error) {
	return domain.RequiredEvidence(c.Category(description)), nil
}

// RuleVerifier approves when evidence coverage exceeds the threshold.
type RuleVerifier struct {
	threshold float64
	now       func() time.Time
}

func NewRuleVerifier(threshold float64) *RuleVerifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultApproveThreshold
	}
	return &RuleVerifier{threshold: threshold, now: time.Now}
}

func (v *RuleVerifier) Verify(_ context.Context, dc domain.DisputeCase) (domain.Verdict, error) {
	coverage := dc.Coverage()
	verdict := decide(coverage, v.threshold)
	verdict.Reasoning = fmt.Sprintf("%.0f%% of the required evidence was submitted (threshold %.0f%%)", coverage*100, v.threshold*100)
	verdict.DecidedAt = v.now()
	return verdict, nil
}

func decide(confidence, threshold float64) domain.Verdict {
	d := domain.VerdictReject
	if confidence > threshold {
		d = domain.VerdictApprove
	}
	return domain.Verdict{Decision: d, Confidence: confidence}
}
