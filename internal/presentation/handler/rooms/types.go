package rooms

import (
	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/shopspring/decimal"
)

type createRoomRequest struct {
	SellerID string          `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type evidenceRequest struct {
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
}

type listRoomsResponse struct {
	Rooms []domain.Room `json:"rooms"`
}

type signaturesResponse struct {
	ContractID string                    `json:"contract_id"`
	Status     domain.ContractStatus     `json:"status"`
	Signatures []contract.SignatureAudit `json:"signatures"`
}

type timeoutResponse struct {
	Completed bool         `json:"completed"`
	Room      *domain.Room `json:"room"`
}

type auditResponse struct {
	Events []domain.RoomAuditLog `json:"events"`
}
