package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/ws"
)

// dispatcher returns the inbound frame handler for one connection. Every
// failure is answered with an error event to this connection only.
func (h *Handler) dispatcher(client *ws.Client) func(ctx context.Context, raw []byte) {
	return func(ctx context.Context, raw []byte) {
		phrase := client.Phrase()

		in, err := ws.DecodeInbound(raw)
		if err != nil {
			h.reply(client, ws.NewError(phrase, "bad_request", "malformed message"))
			return
		}

		if in.Type == ws.PingEvent {
			h.reply(client, ws.NewPong())
			return
		}

		if h.actions != nil && !h.actions.Allow(client.ID()) {
			h.reply(client, ws.NewError(phrase, "rate_limited", "too many actions"))
			return
		}

		action, err := toAction(in)
		if err != nil {
			h.reply(client, ws.NewError(phrase, errorCode(err), err.Error()))
			return
		}

		if err := h.service.Handle(ctx, client.UserID(), phrase, action); err != nil {
			h.logger.Debug(logging.Websocket, logging.Dispatch, "action failed", map[logging.ExtraKey]any{
				logging.RoomPhrase:   phrase,
				logging.ActorID:      client.UserID(),
				logging.ActionType:   in.Type,
				logging.ErrorMessage: err.Error(),
			})
			h.reply(client, ws.NewError(phrase, errorCode(err), errorDetail(err)))
		}
	}
}

func (h *Handler) reply(client *ws.Client, msg *ws.WSMessage) {
	if err := client.SendMessage(msg); err != nil {
		h.logger.Debug(logging.Websocket, logging.Dispatch, "reply dropped", map[logging.ExtraKey]any{
			logging.RoomPhrase:   client.Phrase(),
			logging.ActorID:      client.UserID(),
			logging.ErrorMessage: err.Error(),
		})
	}
}

func toAction(in ws.Inbound) (escrow.Action, error) {
	switch in.Type {
	case ws.ChatMessageEvent:
		return escrow.ChatMessage{Text: in.Message}, nil
	case ws.ProposeDescriptionEvent:
		return escrow.ProposeDescription{Description: in.Description}, nil
	case ws.EditDescriptionEvent:
		return escrow.EditDescription{Description: in.Description}, nil
	case ws.ApproveDescriptionEvent:
		return escrow.ApproveDescription{}, nil
	case ws.ConfirmSellerReadyEvent:
		return escrow.ConfirmSellerReady{}, nil
	case ws.LockFundsEvent:
		return escrow.LockFunds{}, nil
	case ws.ProductDeliveredEvent:
		return escrow.ProductDelivered{Signature: in.Signature}, nil
	case ws.TransactionSuccessfulEvent:
		return escrow.TransactionSuccessful{Signature: in.Signature}, nil
	case ws.InitDisputeEvent:
		return escrow.InitDispute{Signature: in.Signature}, nil
	case ws.FinalizeSubmissionEvent:
		return escrow.FinalizeSubmission{}, nil
	}
	return nil, fmt.Errorf("unknown message type %q: %w", in.Type, domain.ErrValidation)
}

// errorCode names the failure class for clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrPrecondition):
		return "precondition"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domain.ErrContractNotActive):
		return "contract_not_active"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrAlreadyReleased):
		return "already_released"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrExternalService):
		return "external_service"
	}
	return "internal"
}

// errorDetail hides the text of unclassified errors.
func errorDetail(err error) string {
	if errorCode(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}
