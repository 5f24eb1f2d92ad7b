package presence

import (
	"context"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/ws"
)

// Notifier publishes committed room changes through the hub.
type Notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) RoomUpdated(ctx context.Context, room *domain.Room) error {
	return n.publish(ctx, room.Phrase, ws.NewStateUpdate(room))
}

func (n *Notifier) MessagePosted(ctx context.Context, phrase string, msg domain.Message) error {
	return n.publish(ctx, phrase, ws.NewRoomMessage(phrase, msg))
}

func (n *Notifier) publish(ctx context.Context, phrase string, msg *ws.WSMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return n.hub.Broadcast(ctx, phrase, data)
}
