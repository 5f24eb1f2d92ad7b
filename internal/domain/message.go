package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/hilthontt/escrow/internal/infrastructure/validate"
)

type MessageKind string

const (
	MessageChat  MessageKind = "chat_message"
	MessageAdmin MessageKind = "admin_message"
)

const maxChatLength = 2000

// Message is one entry of a room's append-only log.
type Message struct {
	Kind           MessageKind `json:"type"`
	SenderID       string      `json:"sender_id,omitempty"`
	SenderUsername string      `json:"sender_username,omitempty"`
	Message        string      `json:"message"`
	Timestamp      time.Time   `json:"timestamp"`
}

var validateChat = validate.Compose(
	validate.Required(),
	validate.MaxLength(maxChatLength),
	validate.PrintableText(),
)

func NewChatMessage(sender *User, text string, now time.Time) (Message, error) {
	if err := validateChat(text); err != nil {
		return Message{}, fmt.Errorf("chat message: %v: %w", err, ErrValidation)
	}

	return Message{
		Kind:           MessageChat,
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Message:        strings.TrimSpace(text),
		Timestamp:      now,
	}, nil
}

func NewAdminMessage(text string, now time.Time) Message {
	return Message{
		Kind:      MessageAdmin,
		Message:   text,
		Timestamp: now,
	}
}

// JoinedNotice and LeftNotice are the admin entries written on presence
// changes. p is the party the user plays in the room.
func JoinedNotice(p Party, u *User, now time.Time) Message {
	return NewAdminMessage(fmt.Sprintf("%s %s joined the room", p, u.Username), now)
}

func LeftNotice(p Party, u *User, now time.Time) Message {
	return NewAdminMessage(fmt.Sprintf("%s %s left the room", p, u.Username), now)
}
