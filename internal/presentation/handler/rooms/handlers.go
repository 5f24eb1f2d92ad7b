package rooms

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/json"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/presence"
	"github.com/hilthontt/escrow/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/escrow/internal/infrastructure/ws"
)

const defaultAuditLimit = 100

type Handler struct {
	service  *escrow.Service
	hub      *presence.Hub
	audits   domain.RoomAuditRepository
	auditor  escrow.Auditor
	upgrader *websocket.Upgrader
	actions  ratelimiter.Limiter
	logger   logging.Logger
}

type Option func(*Handler)

// WithAuditTrail enables the audit endpoint and records connection events.
// Either argument may be nil.
func WithAuditTrail(repo domain.RoomAuditRepository, auditor escrow.Auditor) Option {
	return func(h *Handler) {
		h.audits = repo
		if auditor != nil {
			h.auditor = auditor
		}
	}
}

// WithActionLimiter throttles inbound websocket actions per connection.
func WithActionLimiter(l ratelimiter.Limiter) Option {
	return func(h *Handler) { h.actions = l }
}

func WithLogger(l logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(
	service *escrow.Service,
	hub *presence.Hub,
	upgrader *websocket.Upgrader,
	opts ...Option,
) *Handler {
	h := &Handler{
		service:  service,
		hub:      hub,
		upgrader: upgrader,
		auditor:  nopAuditor{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if req.SellerID == "" {
		json.WriteBadRequestError(w, "seller_id is required")
		return
	}

	room, err := h.service.CreateRoom(r.Context(), req.SellerID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusCreated, room)
}

func (h *Handler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.OpenRooms(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, listRoomsResponse{Rooms: rooms})
}

func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.Room(r.Context(), chi.URLParam(r, "phrase"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, room)
}

func (h *Handler) SubmitEvidenceHandler(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if req.UserID == "" {
		json.WriteBadRequestError(w, "user_id is required")
		return
	}

	room, err := h.service.SubmitEvidence(r.Context(), chi.URLParam(r, "phrase"), req.UserID,
		domain.EvidenceKind(req.Kind), req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusCreated, room)
}

func (h *Handler) SignaturesHandler(w http.ResponseWriter, r *http.Request) {
	c, audits, err := h.service.Signatures(r.Context(), chi.URLParam(r, "phrase"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, signaturesResponse{
		ContractID: c.ID,
		Status:     c.Status,
		Signatures: audits,
	})
}

func (h *Handler) TimeoutHandler(w http.ResponseWriter, r *http.Request) {
	phrase := chi.URLParam(r, "phrase")

	completed, err := h.service.CheckTimeout(r.Context(), phrase)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	room, err := h.service.Room(r.Context(), phrase)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, timeoutResponse{Completed: completed, Room: room})
}

func (h *Handler) AuditHandler(w http.ResponseWriter, r *http.Request) {
	if h.audits == nil {
		json.WriteError(w, http.StatusServiceUnavailable, "audit trail is not enabled")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			json.WriteBadRequestError(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	phrase := chi.URLParam(r, "phrase")
	if _, err := h.service.Room(r.Context(), phrase); err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.audits.GetByRoomID(r.Context(), phrase, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, auditResponse{Events: events})
}

// EventsHandler lists audit events of one type across rooms within
// [from, to). Both bounds are RFC 3339; to defaults to now and from to a day
// before it.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if h.audits == nil {
		json.WriteError(w, http.StatusServiceUnavailable, "audit trail is not enabled")
		return
	}

	eventType := domain.RoomEventType(r.URL.Query().Get("type"))
	if eventType == "" {
		json.WriteBadRequestError(w, "type is required")
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			json.WriteBadRequestError(w, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}
	if !from.Before(to) {
		json.WriteBadRequestError(w, "from must be before to")
		return
	}

	events, err := h.audits.GetByEventType(r.Context(), eventType, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, auditResponse{Events: events})
}

// ConnectHandler upgrades to a websocket for one participant. The room and
// user must exist before the upgrade; admission to presence and to the
// negotiation happen after it, and a refusal closes the socket with a
// reason code.
func (h *Handler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	phrase := chi.URLParam(r, "phrase")
	userID := chi.URLParam(r, "userId")
	ctx := r.Context()

	if _, err := h.service.Room(ctx, phrase); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.service.User(ctx, userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.Websocket, logging.Connect, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ActorID:      userID,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	client := ws.NewClient(conn, uuid.NewString(), phrase, userID)

	if err := h.hub.Connect(ctx, phrase, client); err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			h.record(ctx, domain.NewRoomFullRejectionLog(phrase, userID))
		}
		h.refuse(client, err)
		return
	}

	room, err := h.service.Join(ctx, phrase, userID)
	if err != nil {
		h.refuse(client, err)
		_, _ = h.hub.Disconnect(context.WithoutCancel(ctx), phrase, client)
		return
	}

	go client.WritePump()
	if err := client.SendMessage(ws.NewConnected(room, userID)); err != nil {
		h.logger.Warn(logging.Websocket, logging.Connect, "connected event not queued", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ActorID:      userID,
			logging.ErrorMessage: err.Error(),
		})
	}
	h.record(ctx, domain.NewRoomAuditLog(room, domain.EventMemberConnected, userID, nil))

	if err := client.ReadPump(ctx, h.dispatcher(client)); err != nil {
		h.logger.Debug(logging.Websocket, logging.Connect, "websocket closed unexpectedly", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ActorID:      userID,
			logging.ErrorMessage: err.Error(),
		})
	}

	h.disconnect(context.WithoutCancel(ctx), client)
}

// disconnect releases the client's presence and, when the identity has no
// connection left anywhere, posts the leave notice.
func (h *Handler) disconnect(ctx context.Context, client *ws.Client) {
	phrase := client.Phrase()

	released, err := h.hub.Disconnect(ctx, phrase, client)
	if err != nil {
		h.logger.Warn(logging.Presence, logging.Connect, "presence release failed", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ActorID:      client.UserID(),
			logging.ErrorMessage: err.Error(),
		})
	}
	if !released {
		return
	}

	if err := h.service.Leave(ctx, phrase, client.UserID()); err != nil {
		h.logger.Warn(logging.Escrow, logging.Connect, "leave notice failed", map[logging.ExtraKey]any{
			logging.RoomPhrase:   phrase,
			logging.ActorID:      client.UserID(),
			logging.ErrorMessage: err.Error(),
		})
	}
	h.record(ctx, domain.NewMemberLeftLog(phrase, client.UserID(), h.hub.LocalCount(phrase)))
}

func (h *Handler) refuse(client *ws.Client, err error) {
	code := ws.CloseInternal
	switch {
	case errors.Is(err, domain.ErrRoomFull):
		code = ws.CloseRoomFull
	case domain.IsNotFound(err):
		code = ws.CloseNotFound
	case errors.Is(err, domain.ErrPrecondition):
		code = ws.ClosePrecondition
	}

	h.logger.Info(logging.Websocket, logging.Connect, "connection refused", map[logging.ExtraKey]any{
		logging.RoomPhrase:   client.Phrase(),
		logging.ActorID:      client.UserID(),
		logging.ErrorMessage: err.Error(),
	})
	client.CloseWith(code, errorCode(err))
}

func (h *Handler) record(ctx context.Context, log *domain.RoomAuditLog) {
	if err := h.auditor.Record(ctx, log); err != nil {
		h.logger.Warn(logging.RabbitMQ, logging.Publish, "audit event not recorded", map[logging.ExtraKey]any{
			logging.RoomPhrase:   log.RoomID,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if json.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(logging.RequestResponse, logging.Request, "request failed", map[logging.ExtraKey]any{
			logging.Path:         r.URL.Path,
			logging.ErrorMessage: err.Error(),
		})
	}
	json.WriteDomainError(w, err)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, *domain.RoomAuditLog) error { return nil }
