package users

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/infrastructure/json"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
)

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

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.Read(w, r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	user, wallet, err := h.service.RegisterUser(r.Context(), req.Username, req.Role, req.PublicKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info(logging.Escrow, logging.Request, "user registered", map[logging.ExtraKey]any{
		logging.ActorID: user.ID,
	})
	json.Write(w, http.StatusCreated, registerResponse{User: user, Wallet: wallet})
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.User(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, user)
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.Wallet(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	json.Write(w, http.StatusOK, wallet)
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
