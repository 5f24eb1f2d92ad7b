package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	maxAttempts  = 3
	retryBackOff = 20 * time.Millisecond
)

const insertUserSQL = `
INSERT INTO users (id, username, role, public_key, created_at)
VALUES ($1, $2, $3, $4, $5)`

const insertWalletSQL = `
INSERT INTO wallets (user_id, balance, locked)
VALUES ($1, $2::numeric, $3::numeric)`

const insertTransactionSQL = `
INSERT INTO wallet_transactions (id, user_id, kind, amount, room_phrase, contract_id, counterparty, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

const updateWalletSQL = `
UPDATE wallets SET balance = $2::numeric, locked = $3::numeric
WHERE user_id = $1`

const selectUserSQL = `
SELECT id, username, role, public_key, created_at
FROM users WHERE id = $1`

const selectWalletSQL = `
SELECT balance::text, locked::text
FROM wallets WHERE user_id = $1`

const selectTransactionsSQL = `
SELECT id, kind, amount::text, room_phrase, contract_id, counterparty, created_at
FROM wallet_transactions WHERE user_id = $1
ORDER BY seq`

const insertRoomSQL = `
INSERT INTO rooms (phrase, seller_id, buyer_id, amount, status, contract_status, contract_timeout_at, document, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4::numeric, $5, $6, $7, $8, $9)`

const updateRoomSQL = `
UPDATE rooms
SET buyer_id = NULLIF($2, ''), status = $3, contract_status = $4,
    contract_timeout_at = $5, document = $6, updated_at = now()
WHERE phrase = $1`

const selectRoomSQL = `
SELECT document FROM rooms WHERE phrase = $1`

const listRoomsSQL = `
SELECT document FROM rooms
WHERE $1 = '' OR status = $1
ORDER BY created_at DESC`

const listExpiredSQL = `
SELECT phrase FROM rooms
WHERE contract_status = 'ACTIVE' AND contract_timeout_at <= $1
ORDER BY phrase`

// Store is the PostgreSQL domain.Store. Units of work run at read committed
// with row locks taken by SELECT ... FOR UPDATE; a unit that loses to a
// concurrent one on serialization or deadlock is retried whole.
type Store struct {
	pool   Pool
	logger logging.Logger
}

func NewStore(pool Pool, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

var _ domain.Store = (*Store)(nil)

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	operation := func() (struct{}, error) {
		err := s.runInTx(ctx, func(ctx context.Context, t *pgTx) error {
			return fn(ctx, t)
		})
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Warn(logging.Postgres, logging.Commit, "unit of work conflicted, retrying", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(retryBackOff)),
		backoff.WithMaxTries(maxAttempts),
	)
	return err
}

// runInTx commits when fn returns nil and rolls back on error or panic.
func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, t *pgTx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx, newTx(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit", "transaction", domain.ErrConflict)
	}
	return nil
}

// CreateUser inserts the user, its wallet and the wallet's opening entries
// in one transaction.
func (s *Store) CreateUser(ctx context.Context, user *domain.User, wallet *domain.Wallet) error {
	return s.runInTx(ctx, func(ctx context.Context, t *pgTx) error {
		if _, err := t.tx.Exec(ctx, insertUserSQL,
			user.ID, user.Username, string(user.Role), user.PublicKey, user.CreatedAt,
		); err != nil {
			return mapError(err, "user", user.Username, domain.ErrUserNotFound)
		}
		if err := wallet.Check(); err != nil {
			return err
		}
		if _, err := t.tx.Exec(ctx, insertWalletSQL,
			wallet.UserID, wallet.Balance.String(), wallet.Locked.String(),
		); err != nil {
			return mapError(err, "wallet", wallet.UserID, domain.ErrWalletNotFound)
		}
		return insertTransactions(ctx, t.tx, wallet.UserID, wallet.Transactions)
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(s.pool.QueryRow(ctx, selectUserSQL, id), id)
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return loadWallet(ctx, s.pool, userID, selectWalletSQL)
}

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	args, err := roomArgs(room)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, insertRoomSQL,
		room.Phrase, room.SellerID, args.buyerID, room.Amount.String(), string(room.Status),
		args.contractStatus, args.contractTimeout, args.document, room.CreatedAt,
	); err != nil {
		return mapError(err, "room", room.Phrase, domain.ErrRoomNotFound)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, phrase string) (*domain.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, selectRoomSQL, phrase), phrase)
}

func (s *Store) ListRooms(ctx context.Context, status domain.RoomStatus) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx, listRoomsSQL, string(status))
	if err != nil {
		return nil, mapError(err, "rooms", string(status), domain.ErrRoomNotFound)
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room, err := decodeRoom(document)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "rooms", string(status), domain.ErrRoomNotFound)
	}
	return rooms, nil
}

func (s *Store) ListExpiredContracts(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, listExpiredSQL, now)
	if err != nil {
		return nil, mapError(err, "contracts", "expired", domain.ErrRoomNotFound)
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return nil, fmt.Errorf("scan phrase: %w", err)
		}
		phrases = append(phrases, phrase)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "contracts", "expired", domain.ErrRoomNotFound)
	}
	return phrases, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanUser(row pgx.Row, id string) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &role, &u.PublicKey, &u.CreatedAt); err != nil {
		return nil, mapError(err, "user", id, domain.ErrUserNotFound)
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func scanRoom(row pgx.Row, phrase string) (*domain.Room, error) {
	var document []byte
	if err := row.Scan(&document); err != nil {
		return nil, mapError(err, "room", phrase, domain.ErrRoomNotFound)
	}
	return decodeRoom(document)
}

func decodeRoom(document []byte) (*domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(document, &room); err != nil {
		return nil, fmt.Errorf("decode room document: %w", err)
	}
	if room.RequiredEvidence == nil {
		room.RequiredEvidence = []domain.EvidenceKind{}
	}
	if room.SubmittedEvidence == nil {
		room.SubmittedEvidence = map[domain.EvidenceKind][]string{}
	}
	if room.Messages == nil {
		room.Messages = []domain.Message{}
	}
	return &room, nil
}

type roomColumns struct {
	buyerID         string
	contractStatus  *string
	contractTimeout *time.Time
	document        []byte
}

func roomArgs(room *domain.Room) (roomColumns, error) {
	document, err := json.Marshal(room)
	if err != nil {
		return roomColumns{}, fmt.Errorf("encode room %s: %w", room.Phrase, err)
	}

	cols := roomColumns{buyerID: room.BuyerID, document: document}
	if room.Contract != nil {
		status := string(room.Contract.Status)
		timeout := room.Contract.TimeoutAt
		cols.contractStatus = &status
		cols.contractTimeout = &timeout
	}
	return cols, nil
}

// loadWallet reads the wallet row with query, which may carry FOR UPDATE,
// followed by its transaction log in insertion order.
func loadWallet(ctx context.Context, q querier, userID, query string) (*domain.Wallet, error) {
	var balance, locked string
	if err := q.QueryRow(ctx, query, userID).Scan(&balance, &locked); err != nil {
		return nil, mapError(err, "wallet", userID, domain.ErrWalletNotFound)
	}

	w := domain.NewWallet(userID)
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("wallet %s balance %q: %w", userID, balance, err)
	}
	if w.Locked, err = decimal.NewFromString(locked); err != nil {
		return nil, fmt.Errorf("wallet %s locked %q: %w", userID, locked, err)
	}

	rows, err := q.Query(ctx, selectTransactionsSQL, userID)
	if err != nil {
		return nil, mapError(err, "wallet transactions", userID, domain.ErrWalletNotFound)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t      domain.WalletTransaction
			kind   string
			amount string
		)
		if err := rows.Scan(&t.ID, &kind, &amount, &t.RoomPhrase, &t.ContractID, &t.Counterparty, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		t.Kind = domain.TransactionKind(kind)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("wallet transaction %s amount %q: %w", t.ID, amount, err)
		}
		w.Append(t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "wallet transactions", userID, domain.ErrWalletNotFound)
	}
	return w, nil
}

func insertTransactions(ctx context.Context, q querier, userID string, txs []domain.WalletTransaction) error {
	for _, t := range txs {
		if _, err := q.Exec(ctx, insertTransactionSQL,
			t.ID, userID, string(t.Kind), t.Amount.String(), t.RoomPhrase, t.ContractID, t.Counterparty, t.CreatedAt,
		); err != nil {
			return mapError(err, "wallet transaction", t.ID, domain.ErrWalletNotFound)
		}
	}
	return nil
}
