package events

import (
	"context"
	"encoding/json"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/messaging"
)

type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, message messaging.AmqpMessage) error
}

// RoomPublisher puts every committed room transition on the bus.
type RoomPublisher struct {
	publisher Publisher
}

func NewRoomPublisher(publisher Publisher) *RoomPublisher {
	return &RoomPublisher{
		publisher: publisher,
	}
}

func (p *RoomPublisher) Record(ctx context.Context, log *domain.RoomAuditLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}

	return p.publisher.PublishMessage(ctx, messaging.RoomRoutingKey(string(log.EventType)), messaging.AmqpMessage{
		OwnerID: log.ActorID,
		Data:    data,
	})
}
