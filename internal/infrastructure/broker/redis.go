package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultSessionTTL = 90 * time.Second

type Config struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
}

// Connect opens a Redis client and fails when the server does not answer.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Broker is the cross-process coordination point: per-room pub/sub channels
// and the occupancy set that caps how many identities hold a room.
type Broker struct {
	client     *redis.Client
	sessionTTL time.Duration
}

func New(client *redis.Client, sessionTTL time.Duration) *Broker {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Broker{client: client, sessionTTL: sessionTTL}
}

func (b *Broker) SessionTTL() time.Duration {
	return b.sessionTTL
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func RoomChannel(phrase string) string {
	return "room:" + phrase
}

func occupancyKey(phrase string) string {
	return "room_occupancy:" + phrase
}

func sessionPrefix(phrase string) string {
	return "room_session:" + phrase + ":"
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscription delivers the payloads published on one channel until closed.
type Subscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

// Subscribe returns once the server has confirmed the subscription, so
// nothing published afterwards is missed.
func (b *Broker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &Subscription{pubsub: pubsub, out: make(chan []byte, 64)}
	go s.pump()
	return s, nil
}

func (s *Subscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		s.out <- []byte(msg.Payload)
	}
}

// Messages is closed after Close.
func (s *Subscription) Messages() <-chan []byte {
	return s.out
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// admitScript prunes members whose session expired, then adds the identity
// if it is already a member or the room has a free seat. The identity's
// session token is replaced, which retires any older connection's claim.
var admitScript = redis.NewScript(`
local set = KEYS[1]
local prefix = ARGV[5]
for _, m in ipairs(redis.call('SMEMBERS', set)) do
  if redis.call('EXISTS', prefix .. m) == 0 then
    redis.call('SREM', set, m)
  end
end
if redis.call('SISMEMBER', set, ARGV[1]) == 0 and redis.call('SCARD', set) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('SADD', set, ARGV[1])
redis.call('SET', KEYS[2], ARGV[2], 'PX', tonumber(ARGV[4]))
return 1
`)

// releaseScript removes the identity only while token is still its session.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) == ARGV[2] then
  redis.call('DEL', KEYS[2])
  redis.call('SREM', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

var touchScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Admit claims a seat in the room for identity under token. It reports
// false when capacity distinct identities already hold the room.
func (b *Broker) Admit(ctx context.Context, phrase, identity, token string, capacity int) (bool, error) {
	res, err := admitScript.Run(ctx, b.client,
		[]string{occupancyKey(phrase), sessionPrefix(phrase) + identity},
		identity, token, capacity, b.sessionTTL.Milliseconds(), sessionPrefix(phrase),
	).Int()
	if err != nil {
		return false, fmt.Errorf("admit %s to %s: %w", identity, phrase, err)
	}
	return res == 1, nil
}

// Release frees identity's seat if token is still its current session. A
// late release from a replaced connection is a no-op and reports false.
func (b *Broker) Release(ctx context.Context, phrase, identity, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, b.client,
		[]string{occupancyKey(phrase), sessionPrefix(phrase) + identity},
		identity, token,
	).Int()
	if err != nil {
		return false, fmt.Errorf("release %s from %s: %w", identity, phrase, err)
	}
	return res == 1, nil
}

// Touch extends the session while token still owns it.
func (b *Broker) Touch(ctx context.Context, phrase, identity, token string) (bool, error) {
	res, err := touchScript.Run(ctx, b.client,
		[]string{sessionPrefix(phrase) + identity},
		token, b.sessionTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("touch %s in %s: %w", identity, phrase, err)
	}
	return res == 1, nil
}

func (b *Broker) Members(ctx context.Context, phrase string) ([]string, error) {
	return b.client.SMembers(ctx, occupancyKey(phrase)).Result()
}

func (b *Broker) Count(ctx context.Context, phrase string) (int64, error) {
	return b.client.SCard(ctx, occupancyKey(phrase)).Result()
}
