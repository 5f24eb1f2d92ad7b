package escrow

import (
	"context"
	"fmt"

	"github.com/hilthontt/escrow/internal/domain"
)

func (s *Service) chat(ctx context.Context, actorID, phrase string, a ChatMessage) error {
	_, err := s.mutate(ctx, phrase, actorID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if _, ok := room.RoleOf(actorID); !ok {
			return nil, fmt.Errorf("%s is not a member of room %s: %w", actorID, phrase, domain.ErrPrecondition)
		}

		user, err := tx.User(ctx, actorID)
		if err != nil {
			return nil, err
		}
		msg, err := domain.NewChatMessage(user, a.Text, s.now())
		if err != nil {
			return nil, err
		}

		room.AppendMessage(msg)
		return &effect{messages: []domain.Message{msg}}, nil
	})
	return err
}

func (s *Service) proposeDescription(ctx context.Context, actorID, phrase string, a ProposeDescription) error {
	_, err := s.mutate(ctx, phrase, actorID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartyBuyer); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusAwaitingDescription); err != nil {
			return nil, err
		}
		if err := room.SetDescription(a.Description); err != nil {
			return nil, err
		}

		room.Status = domain.StatusAwaitingSellerApproval
		return &effect{event: domain.EventDescriptionProposed, state: true}, nil
	})
	return err
}

// editDescription lets the party whose turn it is, the pending approver,
// counter-propose instead of approving. The turn then passes to the other
// party.
func (s *Service) editDescription(ctx context.Context, actorID, phrase string, a EditDescription) error {
	_, err := s.mutate(ctx, phrase, actorID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		approver, negotiating := room.Approver()
		if !negotiating {
			return nil, fmt.Errorf("room %s is %s: %w", phrase, room.Status, domain.ErrPrecondition)
		}
		if err := requireParty(room, actorID, approver); err != nil {
			return nil, err
		}
		if err := room.SetDescription(a.Description); err != nil {
			return nil, err
		}

		next := domain.PartyBuyer
		if approver == domain.PartyBuyer {
			next = domain.PartySeller
		}
		room.Status = domain.AwaitingApprovalOf(next)
		return &effect{
			event:    domain.EventDescriptionProposed,
			metadata: map[string]any{"edited_by": string(approver)},
			state:    true,
		}, nil
	})
	return err
}

func (s *Service) approveDescription(ctx context.Context, actorID, phrase string) error {
	_, err := s.mutate(ctx, phrase, actorID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		approver, ok := room.Approver()
		if !ok {
			return nil, fmt.Errorf("room %s is %s: %w", phrase, room.Status, domain.ErrPrecondition)
		}
		if err := requireParty(room, actorID, approver); err != nil {
			return nil, err
		}

		room.Status = domain.StatusAwaitingSellerReady
		return &effect{event: domain.EventDescriptionApproved, state: true}, nil
	})
	return err
}

func (s *Service) confirmSellerReady(ctx context.Context, actorID, phrase string) error {
	_, err := s.mutate(ctx, phrase, actorID, func(_ context.Context, _ domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartySeller); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusAwaitingSellerReady); err != nil {
			return nil, err
		}

		room.Status = domain.StatusAwaitingPayment
		return &effect{event: domain.EventSellerReady, state: true}, nil
	})
	return err
}
