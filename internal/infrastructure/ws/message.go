package ws

import (
	"encoding/json"

	"github.com/hilthontt/escrow/internal/domain"
)

// WSMessage is the envelope for everything sent to a participant.
type WSMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Data any    `json:"data,omitempty"`
}

func (m *WSMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Inbound is a participant's request. Only the field its type uses is read.
type Inbound struct {
	Type        string `json:"type"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	Signature   string `json:"signed_message,omitempty"`
}

func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

type ConnectedPayload struct {
	Room   *domain.Room `json:"room"`
	UserID string       `json:"user_id"`
}

type ErrorPayload struct {
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail"`
}

func NewConnected(room *domain.Room, userID string) *WSMessage {
	return &WSMessage{
		Type: ConnectedEvent,
		Room: room.Phrase,
		Data: ConnectedPayload{Room: room, UserID: userID},
	}
}

func NewStateUpdate(room *domain.Room) *WSMessage {
	return &WSMessage{
		Type: StateUpdateEvent,
		Room: room.Phrase,
		Data: room,
	}
}

// NewRoomMessage wraps a log entry; the envelope type is the entry's kind.
func NewRoomMessage(phrase string, msg domain.Message) *WSMessage {
	return &WSMessage{
		Type: string(msg.Kind),
		Room: phrase,
		Data: msg,
	}
}

func NewError(phrase, code, detail string) *WSMessage {
	return &WSMessage{
		Type: ErrorEvent,
		Room: phrase,
		Data: ErrorPayload{Code: code, Detail: detail},
	}
}

func NewPong() *WSMessage {
	return &WSMessage{Type: PongEvent}
}
