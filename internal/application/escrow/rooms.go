package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/shopspring/decimal"
)

// RegisterUser creates an account and its wallet, funded with the initial
// balance for the user's role.
func (s *Service) RegisterUser(ctx context.Context, username, role, publicKey string) (*domain.User, *domain.Wallet, error) {
	user, err := domain.NewUser(username, role, publicKey, s.now())
	if err != nil {
		return nil, nil, err
	}

	wallet := domain.NewWallet(user.ID)
	if initial, ok := s.cfg.InitialBalances[user.Role]; ok && initial.IsPositive() {
		if err := s.ledger.Deposit(wallet, initial); err != nil {
			return nil, nil, err
		}
	}

	if err := s.store.CreateUser(ctx, user, wallet); err != nil {
		return nil, nil, err
	}
	return user, wallet, nil
}

// CreateRoom opens a room for sellerID under a fresh random phrase.
func (s *Service) CreateRoom(ctx context.Context, sellerID string, amount decimal.Decimal) (*domain.Room, error) {
	if _, err := s.store.GetUser(ctx, sellerID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.PhraseAttempts; attempt++ {
		phrase, err := domain.NewPhrase(s.cfg.PhraseWords)
		if err != nil {
			return nil, err
		}
		room, err := domain.NewRoom(phrase, sellerID, amount, s.now())
		if err != nil {
			return nil, err
		}

		err = s.store.CreateRoom(ctx, room)
		if errors.Is(err, domain.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.announce(ctx, room, sellerID, &effect{
			event:    domain.EventRoomCreated,
			metadata: map[string]any{"amount": amount.String()},
		})
		return room, nil
	}
	return nil, fmt.Errorf("no unique phrase after %d attempts: %w", s.cfg.PhraseAttempts, domain.ErrConflict)
}

// Join admits userID into the room's negotiation. The first identity other
// than the seller to join a room waiting for a buyer becomes the buyer.
// Existing members rejoin without change; anyone else is refused.
func (s *Service) Join(ctx context.Context, phrase, userID string) (*domain.Room, error) {
	return s.mutate(ctx, phrase, userID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		if _, ok := room.RoleOf(userID); ok {
			return nil, nil
		}

		user, err := tx.User(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := room.AssignBuyer(user.ID, s.now()); err != nil {
			return nil, err
		}

		msg := domain.JoinedNotice(domain.PartyBuyer, user, s.now())
		room.AppendMessage(msg)
		return &effect{
			event:    domain.EventBuyerJoined,
			messages: []domain.Message{msg},
			state:    true,
		}, nil
	})
}

// Leave appends the departure notice for a member whose last connection to
// the room closed.
func (s *Service) Leave(ctx context.Context, phrase, userID string) error {
	_, err := s.mutate(ctx, phrase, userID, func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		party, ok := room.RoleOf(userID)
		if !ok {
			return nil, nil
		}

		user, err := tx.User(ctx, userID)
		if err != nil {
			return nil, err
		}

		msg := domain.LeftNotice(party, user, s.now())
		room.AppendMessage(msg)
		return &effect{messages: []domain.Message{msg}}, nil
	})
	return err
}

func (s *Service) Room(ctx context.Context, phrase string) (*domain.Room, error) {
	return s.store.GetRoom(ctx, phrase)
}

// OpenRooms lists rooms still waiting for a buyer.
func (s *Service) OpenRooms(ctx context.Context) ([]domain.Room, error) {
	return s.store.ListRooms(ctx, domain.StatusWaitingForBuyer)
}

func (s *Service) User(ctx context.Context, id string) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return s.store.GetWallet(ctx, userID)
}

// Signatures audits every signature slot on the room's contract.
func (s *Service) Signatures(ctx context.Context, phrase string) (*domain.Contract, []contract.SignatureAudit, error) {
	room, err := s.store.GetRoom(ctx, phrase)
	if err != nil {
		return nil, nil, err
	}
	if room.Contract == nil {
		return nil, nil, fmt.Errorf("room %s has no contract: %w", phrase, domain.ErrPrecondition)
	}
	return room.Contract, contract.VerifyAll(*room.Contract), nil
}

// CheckTimeout applies the contract deadline to one room. It reports whether
// the check executed the contract.
func (s *Service) CheckTimeout(ctx context.Context, phrase string) (bool, error) {
	var completed bool

	_, err := s.mutate(ctx, phrase, "", func(ctx context.Context, tx domain.Tx, room *domain.Room) (*effect, error) {
		completed = false
		if room.Contract == nil {
			return nil, nil
		}

		next, filled := s.engine.CheckTimeout(*room.Contract)
		if !filled {
			return nil, nil
		}

		var err error
		completed, err = s.apply(ctx, tx, room, next)
		if err != nil {
			return nil, err
		}

		eff := s.signedEffect(domain.EventTimeoutApplied, room, completed)
		eff.event = domain.EventTimeoutApplied
		eff.metadata["completed"] = completed
		return eff, nil
	})
	if err != nil {
		s.metrics.TimeoutCheck("error")
		return false, err
	}

	if completed {
		s.metrics.TimeoutCheck("completed")
	} else {
		s.metrics.TimeoutCheck("checked")
	}
	return completed, nil
}

// ExpireContracts runs the timeout check on every room whose active contract
// is past its deadline. Failures on one room do not stop the others.
func (s *Service) ExpireContracts(ctx context.Context) (int, error) {
	phrases, err := s.store.ListExpiredContracts(ctx, s.now())
	if err != nil {
		return 0, err
	}

	var (
		completed int
		errs      []error
	)
	for _, phrase := range phrases {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		done, err := s.CheckTimeout(ctx, phrase)
		if err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", phrase, err))
			continue
		}
		if done {
			completed++
		}
	}

	s.logger.Info(logging.Escrow, logging.Sweep, "contract timeouts checked", map[logging.ExtraKey]any{
		"expired":   len(phrases),
		"completed": completed,
	})
	return completed, errors.Join(errs...)
}
