package messages

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/infrastructure/json"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler exposes a room's message log over REST for clients that poll
// instead of holding a websocket.
type Handler struct {
	service *escrow.Service
	logger  logging.Logger
}

func NewHandler(service *escrow.Service, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// ListMessagesHandler pages through the log from ?after (an index) in
// ?limit sized chunks. Next is the index to pass for the following page.
func (h *Handler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	after, ok := queryInt(w, r, "after", 0, 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultLimit, 1)
	if !ok {
		return
	}
	limit = min(limit, maxLimit)

	room, err := h.service.Room(r.Context(), chi.URLParam(r, "phrase"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	total := len(room.Messages)
	start := min(after, total)
	end := min(start+limit, total)

	json.Write(w, http.StatusOK, listMessagesResponse{
		Messages: room.Messages[start:end],
		Next:     end,
		Total:    total,
	})
}

// CreateMessageHandler posts a chat message as user_id. It goes through
// the same path as a websocket chat_message, so connected members see it.
func (h *Handler) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if req.UserID == "" {
		json.WriteBadRequestError(w, "user_id is required")
		return
	}

	err := h.service.Handle(r.Context(), req.UserID, chi.URLParam(r, "phrase"), escrow.ChatMessage{Text: req.Content})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback, floor int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		json.WriteBadRequestError(w, name+" must be an integer >= "+strconv.Itoa(floor))
		return 0, false
	}
	return n, true
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
