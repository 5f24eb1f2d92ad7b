package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
)

// Classifier maps a transaction description to the evidence a seller must
// provide when the buyer disputes it.
type Classifier interface {
	Classify(ctx context.Context, description string) ([]domain.EvidenceKind, error)
}

// Verifier rules on a dispute from the submitted evidence.
type Verifier interface {
	Verify(ctx context.Context, c domain.DisputeCase) (domain.Verdict, error)
}

// Ruling is the verifier's verdict turned into the arbiter's signature.
type Ruling struct {
	Verdict   domain.Verdict
	Decision  domain.Decision
	Signature []byte
}

type Arbitration struct {
	classifier Classifier
	verifier   Verifier
	signer     sign.Signer
	now        func() time.Time
}

func NewArbitration(classifier Classifier, verifier Verifier, signer sign.Signer) *Arbitration {
	return &Arbitration{
		classifier: classifier,
		verifier:   verifier,
		signer:     signer,
		now:        time.Now,
	}
}

// PublicKey is the arbiter key embedded into every new contract.
func (a *Arbitration) PublicKey() string {
	return a.signer.PublicKeyPEM()
}

func (a *Arbitration) Classify(ctx context.Context, description string) ([]domain.EvidenceKind, error) {
	kinds, err := a.classifier.Classify(ctx, description)
	if err != nil {
		return nil, external("classify", err)
	}
	if kinds == nil {
		kinds = []domain.EvidenceKind{}
	}
	return kinds, nil
}

// Adjudicate asks the verifier for a verdict on the case and signs the
// resulting decision for contract c as the arbiter. It does not touch the
// contract; the caller submits the signature to the engine.
func (a *Arbitration) Adjudicate(ctx context.Context, c domain.Contract, dc domain.DisputeCase) (Ruling, error) {
	verdict, err := a.verifier.Verify(ctx, dc)
	if err != nil {
		return Ruling{}, external("verify", err)
	}
	if verdict.DecidedAt.IsZero() {
		verdict.DecidedAt = a.now()
	}

	decision := verdict.ContractDecision()
	sig, err := a.signer.Sign(c.Message(domain.PartyArbiter, decision))
	if err != nil {
		return Ruling{}, fmt.Errorf("arbiter sign: %w", err)
	}

	return Ruling{
		Verdict:   verdict,
		Decision:  decision,
		Signature: sig,
	}, nil
}

func external(op string, err error) error {
	if errors.Is(err, domain.ErrExternalService) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrExternalService)
}
