package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hilthontt/escrow/internal/domain"
)

type store struct {
	users     map[string]*domain.User   // ID -> User
	usernames map[string]string         // Username -> ID
	wallets   map[string]*domain.Wallet // UserID -> Wallet
	rooms     map[string]*domain.Room   // Phrase -> Room

	// work serializes units of work; mu guards the maps themselves.
	work *sync.Mutex
	mu   *sync.RWMutex
}

// NewStore returns a single-process Store. Units of work run one at a time,
// and readers always see the last committed state.
func NewStore() domain.Store {
	return &store{
		users:     make(map[string]*domain.User),
		usernames: make(map[string]string),
		wallets:   make(map[string]*domain.Wallet),
		rooms:     make(map[string]*domain.Room),
		work:      &sync.Mutex{},
		mu:        &sync.RWMutex{},
	}
}

func (s *store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.work.Lock()
	defer s.work.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:   s,
		rooms:   make(map[string]*domain.Room),
		wallets: make(map[string]*domain.Wallet),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for phrase, room := range tx.dirtyRooms() {
		s.rooms[phrase] = room.Clone()
	}
	for id, wallet := range tx.dirtyWallets() {
		s.wallets[id] = wallet.Clone()
	}
	return nil
}

func (s *store) CreateUser(_ context.Context, user *domain.User, wallet *domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[user.Username]; taken {
		return fmt.Errorf("username %q: %w", user.Username, domain.ErrAlreadyExists)
	}
	if _, taken := s.users[user.ID]; taken {
		return fmt.Errorf("user %s: %w", user.ID, domain.ErrAlreadyExists)
	}

	u := *user
	s.users[user.ID] = &u
	s.usernames[user.Username] = user.ID
	s.wallets[user.ID] = wallet.Clone()
	return nil
}

func (s *store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user(id)
}

func (s *store) user(id string) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrUserNotFound)
	}
	out := *u
	return &out, nil
}

func (s *store) GetWallet(_ context.Context, userID string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet(userID)
}

func (s *store) wallet(userID string) (*domain.Wallet, error) {
	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", userID, domain.ErrWalletNotFound)
	}
	return w.Clone(), nil
}

func (s *store) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.rooms[room.Phrase]; taken {
		return fmt.Errorf("room %s: %w", room.Phrase, domain.ErrAlreadyExists)
	}
	if _, ok := s.users[room.SellerID]; !ok {
		return fmt.Errorf("seller %s: %w", room.SellerID, domain.ErrUserNotFound)
	}

	s.rooms[room.Phrase] = room.Clone()
	return nil
}

func (s *store) GetRoom(_ context.Context, phrase string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room(phrase)
}

func (s *store) room(phrase string) (*domain.Room, error) {
	r, ok := s.rooms[phrase]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", phrase, domain.ErrRoomNotFound)
	}
	return r.Clone(), nil
}

func (s *store) ListRooms(_ context.Context, status domain.RoomStatus) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if status != "" && r.Status != status {
			continue
		}
		rooms = append(rooms, *r.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (s *store) ListExpiredContracts(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var phrases []string
	for phrase, r := range s.rooms {
		if r.Contract != nil && r.Contract.Active() && r.Contract.Expired(now) {
			phrases = append(phrases, phrase)
		}
	}
	sort.Strings(phrases)
	return phrases, nil
}

// memTx stages copies of everything it reads; nothing reaches the store
// until the unit of work returns nil.
type memTx struct {
	store   *store
	rooms   map[string]*domain.Room
	wallets map[string]*domain.Wallet
	saved   map[string]bool
}

func (t *memTx) Room(_ context.Context, phrase string) (*domain.Room, error) {
	if r, ok := t.rooms[phrase]; ok {
		return r, nil
	}

	t.store.mu.RLock()
	r, err := t.store.room(phrase)
	t.store.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	t.rooms[phrase] = r
	return r, nil
}

func (t *memTx) Wallet(_ context.Context, userID string) (*domain.Wallet, error) {
	if w, ok := t.wallets[userID]; ok {
		return w, nil
	}

	t.store.mu.RLock()
	w, err := t.store.wallet(userID)
	t.store.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	t.wallets[userID] = w
	return w, nil
}

func (t *memTx) User(_ context.Context, id string) (*domain.User, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.user(id)
}

func (t *memTx) SaveRoom(_ context.Context, room *domain.Room) error {
	t.rooms[room.Phrase] = room
	t.mark("room:" + room.Phrase)
	return nil
}

func (t *memTx) SaveWallet(_ context.Context, wallet *domain.Wallet) error {
	if err := wallet.Check(); err != nil {
		return err
	}
	t.wallets[wallet.UserID] = wallet
	t.mark("wallet:" + wallet.UserID)
	return nil
}

func (t *memTx) mark(key string) {
	if t.saved == nil {
		t.saved = make(map[string]bool)
	}
	t.saved[key] = true
}

func (t *memTx) dirtyRooms() map[string]*domain.Room {
	out := make(map[string]*domain.Room)
	for phrase, r := range t.rooms {
		if t.saved["room:"+phrase] {
			out[phrase] = r
		}
	}
	return out
}

func (t *memTx) dirtyWallets() map[string]*domain.Wallet {
	out := make(map[string]*domain.Wallet)
	for id, w := range t.wallets {
		if t.saved["wallet:"+id] {
			out[id] = w
		}
	}
	return out
}
