package messaging

// AmqpMessage is the message structure for AMQP.
type AmqpMessage struct {
	OwnerID string `json:"ownerId"`
	Data    []byte `json:"data"`
}

// RoomEventPrefix starts every room routing key; the event type follows.
const RoomEventPrefix = "room."

const RoomEventsBinding = RoomEventPrefix + "#"

func RoomRoutingKey(eventType string) string {
	return RoomEventPrefix + eventType
}
