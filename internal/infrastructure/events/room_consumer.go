package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const RoomAuditQueue = "room_audit"

type Consumer interface {
	ConsumeMessages(ctx context.Context, queueName string, handler messaging.Handler) error
}

// RoomConsumer persists room events as audit log entries.
type RoomConsumer struct {
	consumer Consumer
	queue    string
	repo     domain.RoomAuditRepository
	logger   logging.Logger
}

func NewRoomConsumer(consumer Consumer, queue string, repo domain.RoomAuditRepository, logger logging.Logger) *RoomConsumer {
	if queue == "" {
		queue = RoomAuditQueue
	}
	return &RoomConsumer{
		consumer: consumer,
		queue:    queue,
		repo:     repo,
		logger:   logger,
	}
}

func (c *RoomConsumer) Listen(ctx context.Context) error {
	return c.consumer.ConsumeMessages(ctx, c.queue, func(ctx context.Context, msg amqp.Delivery) error {
		return c.Handle(ctx, msg.Body)
	})
}

// Handle decodes one delivery body and writes it to the audit log.
func (c *RoomConsumer) Handle(ctx context.Context, body []byte) error {
	var message messaging.AmqpMessage
	if err := json.Unmarshal(body, &message); err != nil {
		c.logger.Error(logging.RabbitMQ, logging.Consume, "failed to unmarshal message", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return err
	}

	var log domain.RoomAuditLog
	if err := json.Unmarshal(message.Data, &log); err != nil {
		c.logger.Error(logging.RabbitMQ, logging.Consume, "failed to unmarshal room event", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return err
	}
	if log.ID == "" || log.RoomID == "" {
		return fmt.Errorf("room event without id or room: %w", domain.ErrValidation)
	}

	if err := c.repo.Log(ctx, &log); err != nil {
		c.logger.Error(logging.Mongo, logging.Insert, "failed to write audit log", map[logging.ExtraKey]any{
			logging.RoomPhrase:   log.RoomID,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}
	return nil
}
