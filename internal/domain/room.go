package domain

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hilthontt/escrow/internal/infrastructure/validate"
	"github.com/shopspring/decimal"
	"github.com/tyler-smith/go-bip39/wordlists"
)

type RoomStatus string

const (
	StatusWaitingForBuyer        RoomStatus = "WAITING_FOR_BUYER"
	StatusAwaitingDescription    RoomStatus = "AWAITING_DESCRIPTION"
	StatusAwaitingSellerApproval RoomStatus = "AWAITING_SELLER_APPROVAL"
	StatusAwaitingBuyerApproval  RoomStatus = "AWAITING_BUYER_APPROVAL"
	StatusAwaitingSellerReady    RoomStatus = "AWAITING_SELLER_READY"
	StatusAwaitingPayment        RoomStatus = "AWAITING_PAYMENT"
	StatusMoneySecured           RoomStatus = "MONEY_SECURED"
	StatusProductDelivered       RoomStatus = "PRODUCT_DELIVERED"
	StatusDispute                RoomStatus = "DISPUTE"
	StatusComplete               RoomStatus = "COMPLETE"
)

type DisputeStatus string

const (
	DisputeAwaitingEvidence DisputeStatus = "AWAITING_EVIDENCE"
	DisputeInReview         DisputeStatus = "IN_REVIEW"
	DisputeResolved         DisputeStatus = "RESOLVED"
)

const (
	DefaultPhraseWords   = 4
	maxDescriptionLength = 2000
)

var validateDescription = validate.Compose(
	validate.Required(),
	validate.MaxLength(maxDescriptionLength),
	validate.PrintableText(),
)

// Room is the negotiation aggregate. It exclusively owns its Contract and
// message log; both are persisted together with the rest of the room.
type Room struct {
	Phrase            string                    `json:"room_code"`
	SellerID          string                    `json:"seller_id"`
	BuyerID           string                    `json:"buyer_id,omitempty"`
	Amount            decimal.Decimal           `json:"amount"`
	Description       string                    `json:"description,omitempty"`
	Status            RoomStatus                `json:"status"`
	DisputeStatus     DisputeStatus             `json:"dispute_status,omitempty"`
	RequiredEvidence  []EvidenceKind            `json:"required_evidence"`
	SubmittedEvidence map[EvidenceKind][]string `json:"submitted_evidence"`
	Verdict           *Verdict                  `json:"ai_verdict,omitempty"`
	Contract          *Contract                 `json:"contract,omitempty"`
	Messages          []Message                 `json:"messages"`
	CreatedAt         time.Time                 `json:"created_at"`
	BuyerJoinedAt     *time.Time                `json:"buyer_joined_at,omitempty"`
	FundsLockedAt     *time.Time                `json:"funds_locked_at,omitempty"`
	DeliveredAt       *time.Time                `json:"delivered_at,omitempty"`
	CompletedAt       *time.Time                `json:"completed_at,omitempty"`
}

func NewRoom(phrase, sellerID string, amount decimal.Decimal, now time.Time) (*Room, error) {
	if strings.TrimSpace(phrase) == "" {
		return nil, fmt.Errorf("room phrase is required: %w", ErrValidation)
	}
	if sellerID == "" {
		return nil, fmt.Errorf("seller is required: %w", ErrValidation)
	}
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}

	return &Room{
		Phrase:            phrase,
		SellerID:          sellerID,
		Amount:            amount,
		Status:            StatusWaitingForBuyer,
		RequiredEvidence:  []EvidenceKind{},
		SubmittedEvidence: map[EvidenceKind][]string{},
		Messages:          []Message{},
		CreatedAt:         now,
	}, nil
}

// RoleOf maps a user to the party they play in this room.
func (r *Room) RoleOf(userID string) (Party, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == r.SellerID:
		return PartySeller, true
	case userID == r.BuyerID:
		return PartyBuyer, true
	}
	return "", false
}

// AssignBuyer sets the buyer identity. It may happen only once, only while
// the room is waiting for a buyer, and never to the seller.
func (r *Room) AssignBuyer(userID string, now time.Time) error {
	if r.BuyerID != "" {
		return fmt.Errorf("room %s already has a buyer: %w", r.Phrase, ErrPrecondition)
	}
	if userID == r.SellerID {
		return fmt.Errorf("seller cannot join as buyer: %w", ErrPrecondition)
	}
	if r.Status != StatusWaitingForBuyer {
		return fmt.Errorf("room %s is %s: %w", r.Phrase, r.Status, ErrPrecondition)
	}

	r.BuyerID = userID
	r.BuyerJoinedAt = &now
	r.Status = StatusAwaitingDescription
	return nil
}

// Approver returns the party expected to approve the current description.
func (r *Room) Approver() (Party, bool) {
	switch r.Status {
	case StatusAwaitingSellerApproval:
		return PartySeller, true
	case StatusAwaitingBuyerApproval:
		return PartyBuyer, true
	}
	return "", false
}

// AwaitingApprovalOf is the status that names p as approver.
func AwaitingApprovalOf(p Party) RoomStatus {
	if p == PartyBuyer {
		return StatusAwaitingBuyerApproval
	}
	return StatusAwaitingSellerApproval
}

// SetDescription validates and stores the negotiated description text.
func (r *Room) SetDescription(text string) error {
	if err := validate.Field("description", validateDescription)(text); err != nil {
		return fmt.Errorf("%v: %w", err, ErrValidation)
	}
	r.Description = strings.TrimSpace(text)
	return nil
}

func (r *Room) AppendMessage(m Message) {
	r.Messages = append(r.Messages, m)
}

// AddEvidence appends a storage reference under kind.
func (r *Room) AddEvidence(kind EvidenceKind, reference string) {
	if r.SubmittedEvidence == nil {
		r.SubmittedEvidence = map[EvidenceKind][]string{}
	}
	r.SubmittedEvidence[kind] = append(r.SubmittedEvidence[kind], reference)
}

// SetContract replaces the owned contract with a copy of c.
func (r *Room) SetContract(c Contract) {
	r.Contract = &c
}

// DisputeCase snapshots what the verifier needs to rule on this room.
func (r *Room) DisputeCase() DisputeCase {
	c := r.Clone()
	return DisputeCase{
		RoomPhrase:        c.Phrase,
		Description:       c.Description,
		Amount:            c.Amount,
		RequiredEvidence:  c.RequiredEvidence,
		SubmittedEvidence: c.SubmittedEvidence,
	}
}

// Clone returns a deep copy so callers can publish a snapshot without
// sharing slices or maps with the stored aggregate.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	out := *r
	out.RequiredEvidence = append([]EvidenceKind(nil), r.RequiredEvidence...)
	out.Messages = append([]Message(nil), r.Messages...)
	out.SubmittedEvidence = make(map[EvidenceKind][]string, len(r.SubmittedEvidence))
	for k, v := range r.SubmittedEvidence {
		out.SubmittedEvidence[k] = append([]string(nil), v...)
	}
	if r.Contract != nil {
		c := *r.Contract
		out.Contract = &c
	}
	if r.Verdict != nil {
		v := *r.Verdict
		out.Verdict = &v
	}
	return &out
}

// NewPhrase draws words from the BIP39 English list with crypto/rand and
// joins them with hyphens so the phrase is URL-safe.
func NewPhrase(words int) (string, error) {
	if words <= 0 {
		words = DefaultPhraseWords
	}

	list := wordlists.English
	n := big.NewInt(int64(len(list)))
	parts := make([]string, 0, words)
	for i := 0; i < words; i++ {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		parts = append(parts, list[idx.Int64()])
	}

	return strings.Join(parts, "-"), nil
}

// Store is the transactional storage collaborator. Reads outside Atomic are
// unlocked snapshots; every mutation of Room or Wallet goes through Atomic.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateUser(ctx context.Context, user *User, wallet *Wallet) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetWallet(ctx context.Context, userID string) (*Wallet, error)

	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, phrase string) (*Room, error)
	ListRooms(ctx context.Context, status RoomStatus) ([]Room, error)

	// ListExpiredContracts returns phrases of rooms whose contract is still
	// ACTIVE with a timeout at or before now.
	ListExpiredContracts(ctx context.Context, now time.Time) ([]string, error)
}

// Tx is one unit of work. Room and Wallet reads lock the row until commit.
// Callers lock the room before any wallet, and wallets in user id order.
type Tx interface {
	Room(ctx context.Context, phrase string) (*Room, error)
	Wallet(ctx context.Context, userID string) (*Wallet, error)
	User(ctx context.Context, id string) (*User, error)
	SaveRoom(ctx context.Context, room *Room) error
	SaveWallet(ctx context.Context, wallet *Wallet) error
}
