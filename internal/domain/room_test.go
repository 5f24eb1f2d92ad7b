package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39/wordlists"
)

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	room, err := NewRoom("alpha-beta-gamma-delta", "seller-1", decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	return room
}

func TestNewRoom_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		phrase string
		seller string
		amount decimal.Decimal
	}{
		{"empty phrase", " ", "s", decimal.NewFromInt(1)},
		{"empty seller", "p", "", decimal.NewFromInt(1)},
		{"zero amount", "p", "s", decimal.Zero},
		{"negative amount", "p", "s", decimal.NewFromInt(-5)},
		{"sub-cent amount", "p", "s", decimal.RequireFromString("10.005")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoom(tt.phrase, tt.seller, tt.amount, time.Now())
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRoom_AssignBuyer(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)

	assert.ErrorIs(t, room.AssignBuyer("seller-1", time.Now()), ErrPrecondition)

	require.NoError(t, room.AssignBuyer("buyer-1", time.Now()))
	assert.Equal(t, StatusAwaitingDescription, room.Status)
	assert.NotNil(t, room.BuyerJoinedAt)

	err := room.AssignBuyer("buyer-2", time.Now())
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, "buyer-1", room.BuyerID)
}

func TestRoom_RoleOf(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	require.NoError(t, room.AssignBuyer("buyer-1", time.Now()))

	p, ok := room.RoleOf("seller-1")
	assert.True(t, ok)
	assert.Equal(t, PartySeller, p)

	p, ok = room.RoleOf("buyer-1")
	assert.True(t, ok)
	assert.Equal(t, PartyBuyer, p)

	_, ok = room.RoleOf("stranger")
	assert.False(t, ok)
	_, ok = room.RoleOf("")
	assert.False(t, ok)
}

func TestRoom_CloneIsDeep(t *testing.T) {
	t.Parallel()

	room := newTestRoom(t)
	room.AddEvidence(EvidenceFileUpload, "ref-1")
	room.AppendMessage(NewAdminMessage("hello", time.Now()))
	room.SetContract(Contract{ID: "c1", Status: ContractActive})

	clone := room.Clone()
	clone.AddEvidence(EvidenceFileUpload, "ref-2")
	clone.AppendMessage(NewAdminMessage("again", time.Now()))
	clone.Contract.Status = ContractCompleted

	assert.Len(t, room.SubmittedEvidence[EvidenceFileUpload], 1)
	assert.Len(t, room.Messages, 1)
	assert.Equal(t, ContractActive, room.Contract.Status)
}

func TestNewPhrase(t *testing.T) {
	t.Parallel()

	known := make(map[string]bool, len(wordlists.English))
	for _, w := range wordlists.English {
		known[w] = true
	}

	phrase, err := NewPhrase(DefaultPhraseWords)
	require.NoError(t, err)

	words := strings.Split(phrase, "-")
	require.Len(t, words, DefaultPhraseWords)
	for _, w := range words {
		assert.True(t, known[w], "word %q not in list", w)
	}
}
