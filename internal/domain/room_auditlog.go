package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RoomEventType string

const (
	EventRoomCreated         RoomEventType = "room_created"
	EventBuyerJoined         RoomEventType = "buyer_joined"
	EventDescriptionProposed RoomEventType = "description_proposed"
	EventDescriptionApproved RoomEventType = "description_approved"
	EventSellerReady         RoomEventType = "seller_ready"
	EventFundsLocked         RoomEventType = "funds_locked"
	EventProductDelivered    RoomEventType = "product_delivered"
	EventSignatureRecorded   RoomEventType = "signature_recorded"
	EventContractCompleted   RoomEventType = "contract_completed"
	EventDisputeOpened       RoomEventType = "dispute_opened"
	EventEvidenceSubmitted   RoomEventType = "evidence_submitted"
	EventDisputeInReview     RoomEventType = "dispute_in_review"
	EventDisputeResolved     RoomEventType = "dispute_resolved"
	EventTimeoutApplied      RoomEventType = "timeout_applied"
	EventMemberConnected     RoomEventType = "member_connected"
	EventMemberLeft          RoomEventType = "member_left"
	EventRoomFull            RoomEventType = "room_full_rejected"
)

type RoomAuditLog struct {
	ID        string         `bson:"_id" json:"id"`
	RoomID    string         `bson:"room_id" json:"roomId"`
	EventType RoomEventType  `bson:"event_type" json:"eventType"`
	ActorID   string         `bson:"actor_id,omitempty" json:"actorId,omitempty"`
	Status    RoomStatus     `bson:"status,omitempty" json:"status,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

type RoomAuditRepository interface {
	Log(ctx context.Context, log *RoomAuditLog) error
	GetByRoomID(ctx context.Context, roomID string, limit int) ([]RoomAuditLog, error)
	GetByEventType(ctx context.Context, eventType RoomEventType, from, to time.Time) ([]RoomAuditLog, error)
	DeleteOlderThan(ctx context.Context, before time.Time) error
	EnsureIndexes(ctx context.Context) error
}

func NewRoomAuditLog(room *Room, eventType RoomEventType, actorID string, metadata map[string]any) *RoomAuditLog {
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomID:    room.Phrase,
		EventType: eventType,
		ActorID:   actorID,
		Status:    room.Status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

func NewMemberLeftLog(roomID, userID string, localSockets int) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		EventType: EventMemberLeft,
		ActorID:   userID,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"local_sockets": localSockets,
		},
	}
}

func NewRoomFullRejectionLog(roomID, userID string) *RoomAuditLog {
	return &RoomAuditLog{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		EventType: EventRoomFull,
		ActorID:   userID,
		Timestamp: time.Now(),
		Metadata:  map[string]any{},
	}
}
