package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/broker"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/metrics"
)

// DefaultCapacity is the number of distinct identities a room admits.
const DefaultCapacity = 2

// Socket is a connected participant as the hub sees it. Send must not block.
type Socket interface {
	ID() string
	UserID() string
	Send(data []byte) error
	Close()
}

// Hub tracks the sockets connected to this process and relays every room
// channel publication to them. Occupancy is shared across processes through
// the broker, so the capacity holds cluster-wide.
type Hub struct {
	broker   *broker.Broker
	capacity int
	logger   logging.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

type member struct {
	sock    Socket
	token   string
	evicted bool
}

type room struct {
	phrase  string
	members map[string]*member // socket id → member
	sub     *broker.Subscription
}

type Option func(*Hub)

func WithCapacity(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(b *broker.Broker, opts ...Option) *Hub {
	h := &Hub{
		broker:   b,
		capacity: DefaultCapacity,
		logger:   logging.NewNop(),
		rooms:    make(map[string]*room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect admits sock's identity to the room and starts relaying room
// publications to it. A second socket of an already admitted identity
// replaces that identity's session.
func (h *Hub) Connect(ctx context.Context, phrase string, sock Socket) error {
	token := uuid.NewString()
	ok, err := h.broker.Admit(ctx, phrase, sock.UserID(), token, h.capacity)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", phrase, domain.ErrRoomFull)
	}

	r, spare, err := h.attach(ctx, phrase)
	if err != nil {
		_, _ = h.broker.Release(context.WithoutCancel(ctx), phrase, sock.UserID(), token)
		return err
	}
	r.members[sock.ID()] = &member{sock: sock, token: token}
	h.mu.Unlock()

	if spare != nil {
		_ = spare.Close()
	}
	h.metrics.ConnectionOpened()
	h.logger.Info(logging.Presence, logging.Connect, "socket connected", map[logging.ExtraKey]any{
		logging.RoomPhrase: phrase,
		logging.ActorID:    sock.UserID(),
	})
	return nil
}

// attach returns the local room for phrase with h.mu held, subscribing to the
// room channel outside the lock when this process has no socket there yet.
// A subscription that lost the race to another Connect is returned as spare.
func (h *Hub) attach(ctx context.Context, phrase string) (*room, *broker.Subscription, error) {
	var sub *broker.Subscription
	for {
		h.mu.Lock()
		if r, ok := h.rooms[phrase]; ok {
			return r, sub, nil
		}
		if sub != nil {
			r := &room{phrase: phrase, members: make(map[string]*member), sub: sub}
			h.rooms[phrase] = r
			go h.relay(r)
			return r, nil, nil
		}
		h.mu.Unlock()

		var err error
		sub, err = h.broker.Subscribe(ctx, broker.RoomChannel(phrase))
		if err != nil {
			return nil, nil, err
		}
	}
}

// Disconnect removes sock and closes it. It reports true when the identity
// no longer holds the room anywhere, which is when a leave is announced.
// If another local socket of the same identity is still open, the session
// is handed over to it instead.
func (h *Hub) Disconnect(ctx context.Context, phrase string, sock Socket) (bool, error) {
	h.mu.Lock()
	r, ok := h.rooms[phrase]
	if !ok {
		h.mu.Unlock()
		sock.Close()
		return false, nil
	}
	m, ok := r.members[sock.ID()]
	if !ok {
		h.mu.Unlock()
		sock.Close()
		return false, nil
	}
	delete(r.members, sock.ID())

	var heir *member
	for _, other := range r.members {
		if other.sock.UserID() == sock.UserID() && !other.evicted {
			heir = other
			break
		}
	}

	var sub *broker.Subscription
	if len(r.members) == 0 {
		delete(h.rooms, phrase)
		sub = r.sub
	}
	h.mu.Unlock()

	sock.Close()
	h.metrics.ConnectionClosed()
	if sub != nil {
		_ = sub.Close()
	}

	if heir != nil {
		_, err := h.broker.Admit(ctx, phrase, sock.UserID(), heir.token, h.capacity)
		return false, err
	}
	return h.broker.Release(ctx, phrase, sock.UserID(), m.token)
}

// Broadcast publishes payload to every socket in the room on every process.
func (h *Hub) Broadcast(ctx context.Context, phrase string, payload []byte) error {
	return h.broker.Publish(ctx, broker.RoomChannel(phrase), payload)
}

func (h *Hub) Members(ctx context.Context, phrase string) ([]string, error) {
	return h.broker.Members(ctx, phrase)
}

// LocalCount is the number of sockets this process holds for the room.
func (h *Hub) LocalCount(phrase string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[phrase]; ok {
		return len(r.members)
	}
	return 0
}

func (h *Hub) relay(r *room) {
	for payload := range r.sub.Messages() {
		h.deliver(r, payload)
	}
}

// deliver sends to each live socket. A failed send evicts only that socket;
// its own read loop then observes the close and disconnects it.
func (h *Hub) deliver(r *room, payload []byte) {
	h.mu.Lock()
	targets := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		if !m.evicted {
			targets = append(targets, m)
		}
	}
	h.mu.Unlock()

	for _, m := range targets {
		err := m.sock.Send(payload)
		if err == nil {
			continue
		}

		h.mu.Lock()
		m.evicted = true
		h.mu.Unlock()

		h.metrics.BroadcastFailed()
		h.logger.Warn(logging.Presence, logging.Broadcast, "send failed, evicting socket", map[logging.ExtraKey]any{
			logging.RoomPhrase:   r.phrase,
			logging.ActorID:      m.sock.UserID(),
			logging.ErrorMessage: err.Error(),
		})
		m.sock.Close()
	}
}

// Run keeps the sessions of local sockets alive until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.broker.SessionTTL() / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.heartbeat(ctx)
		}
	}
}

type session struct {
	phrase, userID, token string
}

func (h *Hub) sessions(includeEvicted bool) []session {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []session
	for phrase, r := range h.rooms {
		for _, m := range r.members {
			if m.evicted && !includeEvicted {
				continue
			}
			out = append(out, session{phrase: phrase, userID: m.sock.UserID(), token: m.token})
		}
	}
	return out
}

func (h *Hub) heartbeat(ctx context.Context) {
	for _, s := range h.sessions(false) {
		if _, err := h.broker.Touch(ctx, s.phrase, s.userID, s.token); err != nil {
			h.logger.Warn(logging.Presence, logging.Connect, "session heartbeat failed", map[logging.ExtraKey]any{
				logging.RoomPhrase:   s.phrase,
				logging.ActorID:      s.userID,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}

// Shutdown releases every local session and closes every socket.
func (h *Hub) Shutdown(ctx context.Context) error {
	sessions := h.sessions(true)

	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		_ = r.sub.Close()
		for _, m := range r.members {
			m.sock.Close()
			h.metrics.ConnectionClosed()
		}
	}
	for _, s := range sessions {
		if _, err := h.broker.Release(ctx, s.phrase, s.userID, s.token); err != nil {
			errs = append(errs, err)
		}
	}

	h.logger.Info(logging.Presence, logging.Shutdown, "presence hub stopped", map[logging.ExtraKey]any{
		logging.Count: len(sessions),
	})
	return errors.Join(errs...)
}
