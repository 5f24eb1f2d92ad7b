package postgres

import (
	"context"
	"fmt"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/jackc/pgx/v5"
)

const lockRoomSQL = selectRoomSQL + `
FOR UPDATE`

const lockWalletSQL = selectWalletSQL + `
FOR UPDATE`

// pgTx locks each room and wallet on first read and hands back the same
// pointer on later reads, so a unit of work sees its own changes.
type pgTx struct {
	tx      pgx.Tx
	rooms   map[string]*domain.Room
	wallets map[string]*domain.Wallet

	// persisted counts the log entries of each wallet already in the table.
	persisted map[string]int
}

func newTx(tx pgx.Tx) *pgTx {
	return &pgTx{
		tx:        tx,
		rooms:     make(map[string]*domain.Room),
		wallets:   make(map[string]*domain.Wallet),
		persisted: make(map[string]int),
	}
}

func (t *pgTx) Room(ctx context.Context, phrase string) (*domain.Room, error) {
	if r, ok := t.rooms[phrase]; ok {
		return r, nil
	}

	r, err := scanRoom(t.tx.QueryRow(ctx, lockRoomSQL, phrase), phrase)
	if err != nil {
		return nil, err
	}
	t.rooms[phrase] = r
	return r, nil
}

func (t *pgTx) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	if w, ok := t.wallets[userID]; ok {
		return w, nil
	}

	w, err := loadWallet(ctx, t.tx, userID, lockWalletSQL)
	if err != nil {
		return nil, err
	}
	t.wallets[userID] = w
	t.persisted[userID] = len(w.Transactions)
	return w, nil
}

func (t *pgTx) User(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(t.tx.QueryRow(ctx, selectUserSQL, id), id)
}

func (t *pgTx) SaveRoom(ctx context.Context, room *domain.Room) error {
	args, err := roomArgs(room)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, updateRoomSQL,
		room.Phrase, args.buyerID, string(room.Status), args.contractStatus, args.contractTimeout, args.document,
	)
	if err != nil {
		return mapError(err, "room", room.Phrase, domain.ErrRoomNotFound)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("room %s: %w", room.Phrase, domain.ErrRoomNotFound)
	}
	t.rooms[room.Phrase] = room
	return nil
}

// SaveWallet writes the balances and appends log entries added since the
// wallet was read. Entries are never rewritten.
func (t *pgTx) SaveWallet(ctx context.Context, wallet *domain.Wallet) error {
	if err := wallet.Check(); err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, updateWalletSQL,
		wallet.UserID, wallet.Balance.String(), wallet.Locked.String(),
	)
	if err != nil {
		return mapError(err, "wallet", wallet.UserID, domain.ErrWalletNotFound)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", wallet.UserID, domain.ErrWalletNotFound)
	}

	from := t.persisted[wallet.UserID]
	if from > len(wallet.Transactions) {
		return fmt.Errorf("wallet %s log shrank from %d entries: %w", wallet.UserID, from, domain.ErrValidation)
	}
	if err := insertTransactions(ctx, t.tx, wallet.UserID, wallet.Transactions[from:]); err != nil {
		return err
	}

	t.wallets[wallet.UserID] = wallet
	t.persisted[wallet.UserID] = len(wallet.Transactions)
	return nil
}
