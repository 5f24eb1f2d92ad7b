package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
)

// initDispute records the buyer's refund signature and parks the room
// awaiting evidence, then classifies the description in a second unit of
// work so the external call never holds row locks.
func (s *Service) initDispute(ctx context.Context, actorID, phrase string, a InitDispute) error {
	var (
		description string
		completed   bool
	)

	_, err := s.mutate(ctx, phrase, actorID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartyBuyer); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusProductDelivered); err != nil {
			return nil, err
		}

		var err error
		completed, err = s.sign(ctx, tx, room, domain.PartyBuyer, domain.DecisionRefund, a.Signature)
		if err != nil {
			return nil, err
		}
		if completed {
			return s.signedEffect(domain.EventSignatureRecorded, room, true), nil
		}

		description = room.Description
		room.Status = domain.StatusDispute
		room.DisputeStatus = domain.DisputeAwaitingEvidence
		room.RequiredEvidence = []domain.EvidenceKind{}
		return s.signedEffect(domain.EventDisputeOpened, room, false), nil
	})
	if err != nil || completed {
		return err
	}

	kinds, err := s.arbiter.Classify(ctx, description)
	if err != nil {
		s.logger.Error(logging.Dispute, logging.ExternalService, "classification failed", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	_, err = s.mutate(ctx, phrase, actorID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		if room.Status != domain.StatusDispute || room.DisputeStatus != domain.DisputeAwaitingEvidence {
			return nil, nil
		}

		room.RequiredEvidence = kinds
		return &effect{state: true}, nil
	})
	return err
}

// SubmitEvidence appends a storage reference for kind. Only the seller may
// submit, and only while the dispute awaits evidence.
func (s *Service) SubmitEvidence(ctx context.Context, phrase, userID string, kind domain.EvidenceKind, reference string) (*domain.Room, error) {
	reference = strings.TrimSpace(reference)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown evidence kind %q: %w", kind, domain.ErrValidation)
	}
	if reference == "" {
		return nil, fmt.Errorf("evidence reference is required: %w", domain.ErrValidation)
	}

	return s.mutate(ctx, phrase, userID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, userID, domain.PartySeller); err != nil {
			return nil, err
		}
		if room.Status != domain.StatusDispute || room.DisputeStatus != domain.DisputeAwaitingEvidence {
			return nil, fmt.Errorf("room %s is not collecting evidence: %w", phrase, domain.ErrPrecondition)
		}

		room.AddEvidence(kind, reference)
		return &effect{
			event:    domain.EventEvidenceSubmitted,
			metadata: map[string]any{"kind": string(kind)},
			state:    true,
		}, nil
	})
}

// finalizeSubmission moves the dispute to review and commits that before
// asking the verifier. The verdict is applied in a second unit of work that
// re-checks the review state, so a failed or interrupted call can simply be
// invoked again from IN_REVIEW.
func (s *Service) finalizeSubmission(ctx context.Context, actorID, phrase string) error {
	var (
		pending domain.Contract
		dc      domain.DisputeCase
	)

	_, err := s.mutate(ctx, phrase, actorID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartySeller); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusDispute); err != nil {
			return nil, err
		}
		if room.Contract == nil {
			return nil, fmt.Errorf("room %s has no contract: %w", phrase, domain.ErrPrecondition)
		}

		pending, dc = *room.Contract, room.DisputeCase()
		switch room.DisputeStatus {
		case domain.DisputeAwaitingEvidence:
			room.DisputeStatus = domain.DisputeInReview
			return &effect{event: domain.EventDisputeInReview, state: true}, nil
		case domain.DisputeInReview:
			return nil, nil
		}
		return nil, fmt.Errorf("dispute in room %s is %s: %w", phrase, room.DisputeStatus, domain.ErrPrecondition)
	})
	if err != nil {
		return err
	}

	ruling, err := s.arbiter.Adjudicate(ctx, pending, dc)
	if err != nil {
		s.logger.Error(logging.Dispute, logging.ExternalService, "verification failed, dispute stays in review", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ContractID:   pending.ID,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	_, err = s.mutate(ctx, phrase, string(domain.PartyArbiter), func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if room.Status != domain.StatusDispute || room.DisputeStatus != domain.DisputeInReview {
			return nil, fmt.Errorf("dispute in room %s is no longer in review: %w", phrase, domain.ErrPrecondition)
		}
		if room.Contract == nil || room.Contract.ID != pending.ID {
			return nil, fmt.Errorf("room %s contract changed during review: %w", phrase, domain.ErrPrecondition)
		}

		signed, err := s.engine.Sign(*room.Contract, domain.PartyArbiter, ruling.Decision, ruling.Signature)
		if err != nil {
			return nil, err
		}
		completed, err := s.apply(ctx, tx, room, signed)
		if err != nil {
			return nil, err
		}

		verdict := ruling.Verdict
		room.Verdict = &verdict
		room.DisputeStatus = domain.DisputeResolved

		eff := s.signedEffect(domain.EventDisputeResolved, room, completed)
		eff.event = domain.EventDisputeResolved
		eff.metadata["verdict"] = string(verdict.Decision)
		eff.metadata["confidence"] = verdict.Confidence
		return eff, nil
	})
	return err
}
