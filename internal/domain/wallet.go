package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TxDeposit TransactionKind = "DEPOSIT"
	TxLock    TransactionKind = "LOCK"
	TxRelease TransactionKind = "RELEASE"
	TxRefund  TransactionKind = "REFUND"
)

// MoneyScale is the number of fractional digits stored for any amount.
const MoneyScale = 2

// CheckAmount rejects amounts that are not positive or carry more fractional
// digits than MoneyScale.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", amount, ErrValidation)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return fmt.Errorf("amount %s has more than %d decimal places: %w", amount, MoneyScale, ErrValidation)
	}
	return nil
}

type WalletTransaction struct {
	ID           string          `json:"id"`
	Kind         TransactionKind `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	RoomPhrase   string          `json:"room_code,omitempty"`
	ContractID   string          `json:"contract_id,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	CreatedAt    time.Time       `json:"timestamp"`
}

// Wallet holds one user's funds. Balance and Locked never go negative; the
// transaction log is append-only.
type Wallet struct {
	UserID       string              `json:"user_id"`
	Balance      decimal.Decimal     `json:"balance"`
	Locked       decimal.Decimal     `json:"locked"`
	Transactions []WalletTransaction `json:"transactions"`
}

func (w *Wallet) Append(t WalletTransaction) {
	w.Transactions = append(w.Transactions, t)
}

// Check verifies the non-negative balance invariant.
func (w *Wallet) Check() error {
	if w.Balance.IsNegative() || w.Locked.IsNegative() {
		return fmt.Errorf("wallet %s balance=%s locked=%s: %w", w.UserID, w.Balance, w.Locked, ErrValidation)
	}
	return nil
}

// HasEntry reports whether the log already holds kind for the contract.
func (w *Wallet) HasEntry(kind TransactionKind, contractID string) bool {
	for _, t := range w.Transactions {
		if t.Kind == kind && t.ContractID == contractID {
			return true
		}
	}
	return false
}

func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	out := *w
	out.Transactions = append([]WalletTransaction(nil), w.Transactions...)
	return &out
}

func NewWallet(userID string) *Wallet {
	return &Wallet{
		UserID:       userID,
		Balance:      decimal.Zero,
		Locked:       decimal.Zero,
		Transactions: []WalletTransaction{},
	}
}
