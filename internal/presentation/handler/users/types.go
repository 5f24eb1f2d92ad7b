package users

import "github.com/hilthontt/escrow/internal/domain"

type registerRequest struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	PublicKey string `json:"public_key"`
}

type registerResponse struct {
	User   *domain.User   `json:"user"`
	Wallet *domain.Wallet `json:"wallet"`
}
