package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/shopspring/decimal"
)

// Service moves funds between wallets. It mutates the wallets it is handed
// and leaves persistence to the caller's unit of work.
type Service struct {
	now func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deposit credits new funds to the available balance.
func (s *Service) Deposit(w *domain.Wallet, amount decimal.Decimal) error {
	if err := domain.CheckAmount(amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	w.Balance = w.Balance.Add(amount)
	w.Append(s.entry(domain.TxDeposit, amount, "", "", ""))
	return w.Check()
}

// Lock moves amount from the available balance into locked funds.
func (s *Service) Lock(w *domain.Wallet, amount decimal.Decimal, roomPhrase, contractID string) error {
	if err := domain.CheckAmount(amount); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if w.Balance.LessThan(amount) {
		return fmt.Errorf("wallet %s has %s, needs %s: %w", w.UserID, w.Balance, amount, domain.ErrInsufficientFunds)
	}

	w.Balance = w.Balance.Sub(amount)
	w.Locked = w.Locked.Add(amount)
	w.Append(s.entry(domain.TxLock, amount, roomPhrase, contractID, ""))
	return w.Check()
}

// Release settles a completed contract: the buyer's locked funds go to the
// recipient's balance. On a refund the recipient is the buyer wallet itself.
// A contract settles at most once; a second call returns ErrAlreadyReleased.
func (s *Service) Release(c domain.Contract, roomPhrase string, buyer, recipient *domain.Wallet) error {
	if c.Status != domain.ContractCompleted {
		return fmt.Errorf("contract %s is %s: %w", c.ID, c.Status, domain.ErrContractNotActive)
	}
	if buyer == nil || recipient == nil {
		return fmt.Errorf("release of contract %s needs both wallets: %w", c.ID, domain.ErrWalletNotFound)
	}
	if buyer.UserID != c.BuyerID || recipient.UserID != c.ReleasedTo {
		return fmt.Errorf("wallets do not match contract %s parties: %w", c.ID, domain.ErrPrecondition)
	}
	if c.Decision == domain.DecisionRefund && recipient != buyer {
		return fmt.Errorf("refund of contract %s must settle on the buyer wallet: %w", c.ID, domain.ErrPrecondition)
	}
	if buyer.HasEntry(domain.TxRelease, c.ID) || buyer.HasEntry(domain.TxRefund, c.ID) {
		return fmt.Errorf("contract %s: %w", c.ID, domain.ErrAlreadyReleased)
	}
	if buyer.Locked.LessThan(c.Amount) {
		return fmt.Errorf("wallet %s locked %s below contract amount %s: %w",
			buyer.UserID, buyer.Locked, c.Amount, domain.ErrInsufficientFunds)
	}

	buyer.Locked = buyer.Locked.Sub(c.Amount)
	recipient.Balance = recipient.Balance.Add(c.Amount)

	if c.Decision == domain.DecisionRefund {
		buyer.Append(s.entry(domain.TxRefund, c.Amount, roomPhrase, c.ID, buyer.UserID))
	} else {
		buyer.Append(s.entry(domain.TxRelease, c.Amount.Neg(), roomPhrase, c.ID, recipient.UserID))
		recipient.Append(s.entry(domain.TxRelease, c.Amount, roomPhrase, c.ID, buyer.UserID))
	}

	if err := buyer.Check(); err != nil {
		return err
	}
	return recipient.Check()
}

func (s *Service) entry(kind domain.TransactionKind, amount decimal.Decimal, roomPhrase, contractID, counterparty string) domain.WalletTransaction {
	return domain.WalletTransaction{
		ID:           uuid.NewString(),
		Kind:         kind,
		Amount:       amount,
		RoomPhrase:   roomPhrase,
		ContractID:   contractID,
		Counterparty: counterparty,
		CreatedAt:    s.now(),
	}
}
