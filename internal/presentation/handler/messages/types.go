package messages

import "github.com/hilthontt/escrow/internal/domain"

type createMessageRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"message"`
}

type listMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
	Next     int              `json:"next"`
	Total    int              `json:"total"`
}
