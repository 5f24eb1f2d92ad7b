package escrow

import (
	"context"
	"fmt"

	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
)

func (s *Service) lockFunds(ctx context.Context, actorID, phrase string) error {
	_, err := s.mutate(ctx, phrase, actorID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartyBuyer); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusAwaitingPayment); err != nil {
			return nil, err
		}

		buyer, err := tx.User(ctx, room.BuyerID)
		if err != nil {
			return nil, err
		}
		seller, err := tx.User(ctx, room.SellerID)
		if err != nil {
			return nil, err
		}

		c, err := s.engine.Create(room.BuyerID, room.SellerID, room.Amount, domain.PartyKeys{
			Buyer:   buyer.PublicKey,
			Seller:  seller.PublicKey,
			Arbiter: s.arbiter.PublicKey(),
		})
		if err != nil {
			return nil, err
		}

		wallet, err := tx.Wallet(ctx, room.BuyerID)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Lock(wallet, room.Amount, room.Phrase, c.ID); err != nil {
			return nil, err
		}
		if err := tx.SaveWallet(ctx, wallet); err != nil {
			return nil, err
		}

		now := s.now()
		room.SetContract(c)
		room.FundsLockedAt = &now
		room.Status = domain.StatusMoneySecured
		return &effect{
			event:    domain.EventFundsLocked,
			metadata: map[string]any{"contract_id": c.ID, "amount": room.Amount.String()},
			state:    true,
		}, nil
	})
	return err
}

func (s *Service) productDelivered(ctx context.Context, actorID, phrase string, a ProductDelivered) error {
	_, err := s.mutate(ctx, phrase, actorID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartySeller); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusMoneySecured); err != nil {
			return nil, err
		}

		completed, err := s.sign(ctx, tx, room, domain.PartySeller, domain.DecisionRelease, a.Signature)
		if err != nil {
			return nil, err
		}

		now := s.now()
		room.DeliveredAt = &now
		if !completed {
			room.Status = domain.StatusProductDelivered
		}
		return s.signedEffect(domain.EventProductDelivered, room, completed), nil
	})
	return err
}

func (s *Service) transactionSuccessful(ctx context.Context, actorID, phrase string, a TransactionSuccessful) error {
	_, err := s.mutate(ctx, phrase, actorID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if err := requireParty(room, actorID, domain.PartyBuyer); err != nil {
			return nil, err
		}
		if err := requireStatus(room, domain.StatusProductDelivered); err != nil {
			return nil, err
		}

		completed, err := s.sign(ctx, tx, room, domain.PartyBuyer, domain.DecisionRelease, a.Signature)
		if err != nil {
			return nil, err
		}
		return s.signedEffect(domain.EventSignatureRecorded, room, completed), nil
	})
	return err
}

// sign decodes and submits a party signature to the room's contract and
// settles the ledger when it completes the contract.
func (s *Service) sign(ctx context.Context, tx domain.Tx, room *domain.Room, party domain.Party, decision domain.Decision, hexSig string) (bool, error) {
	if room.Contract == nil {
		return false, fmt.Errorf("room %s has no contract: %w", room.Phrase, domain.ErrPrecondition)
	}

	sig, err := sign.DecodeHex(hexSig)
	if err != nil {
		return false, fmt.Errorf("%s signature is not valid hex: %w", party, domain.ErrInvalidSignature)
	}

	signed, err := s.engine.Sign(*room.Contract, party, decision, sig)
	if err != nil {
		return false, err
	}
	return s.apply(ctx, tx, room, signed)
}

// apply stores the next contract value on the room. When that value is the
// contract's execution, funds move in the same unit of work and the room
// completes.
func (s *Service) apply(ctx context.Context, tx domain.Tx, room *domain.Room, next domain.Contract) (bool, error) {
	before := *room.Contract
	room.SetContract(next)
	if !contract.Completed(before, next) {
		return false, nil
	}

	wallets, order, err := lockWallets(ctx, tx, next.BuyerID, next.ReleasedTo)
	if err != nil {
		return false, err
	}
	if err := s.ledger.Release(next, room.Phrase, wallets[next.BuyerID], wallets[next.ReleasedTo]); err != nil {
		return false, err
	}
	for _, id := range order {
		if err := tx.SaveWallet(ctx, wallets[id]); err != nil {
			return false, err
		}
	}

	now := s.now()
	room.Status = domain.StatusComplete
	room.CompletedAt = &now

	s.metrics.ContractCompleted(string(next.Decision))
	s.logger.Info(logging.Ledger, logging.Settle, "contract executed", map[logging.ExtraKey]any{
		logging.RoomPhrase: room.Phrase,
		logging.ContractID: next.ID,
		logging.Decision:   string(next.Decision),
	})
	return true, nil
}

func (s *Service) signedEffect(event domain.RoomEventType, room *domain.Room, completed bool) *effect {
	eff := &effect{
		event:    event,
		metadata: map[string]any{"contract_id": room.Contract.ID},
		state:    true,
	}
	if completed {
		eff.event = domain.EventContractCompleted
		eff.metadata["decision"] = string(room.Contract.Decision)
		eff.metadata["released_to"] = room.Contract.ReleasedTo
	}
	return eff
}
