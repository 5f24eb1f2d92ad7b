package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 32 * 1024
	sendBuffer     = 64
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSendBlocked  = errors.New("client send buffer full")
)

// Client is one participant connection. Outbound frames queue on a bounded
// buffer drained by WritePump; a full buffer fails the send instead of
// blocking the broadcaster.
type Client struct {
	conn   *connWrapper
	send   chan []byte
	done   chan struct{}
	id     string
	userID string
	phrase string

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, id, phrase, userID string) *Client {
	return &Client{
		conn:   newConnWrapper(conn),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		id:     id,
		userID: userID,
		phrase: phrase,
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }
func (c *Client) Phrase() string { return c.phrase }

func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBlocked
	}
}

// SendMessage encodes and queues msg.
func (c *Client) SendMessage(msg *WSMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close stops both pumps. It is safe to call more than once.
func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith closes the connection with code and reason in the close frame.
// Only the first close of a client reaches the peer.
func (c *Client) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteClose(code, reason, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump hands every inbound frame to handle until the peer goes away,
// the context ends or the client is closed.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, raw []byte)) error {
	defer c.Close()

	c.conn.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.conn.SetPongHandler(func(string) error {
		return c.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, raw, err := c.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return err
			}
			return nil
		}
		handle(ctx, raw)
	}
}

// WritePump drains the send buffer and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteText(data, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WritePing(time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// NewUpgrader accepts any origin when allowed is empty or contains "*".
func NewUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}
