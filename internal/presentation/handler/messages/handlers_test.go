package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hilthontt/escrow/internal/application/contract"
	"github.com/hilthontt/escrow/internal/application/dispute"
	"github.com/hilthontt/escrow/internal/application/escrow"
	"github.com/hilthontt/escrow/internal/application/ledger"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/hilthontt/escrow/internal/infrastructure/arbiter"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
	"github.com/hilthontt/escrow/internal/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router http.Handler
	phrase string
	seller *domain.User
	buyer  *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	key, err := sign.GenerateKey(1024)
	require.NoError(t, err)
	signer, err := sign.NewKeySigner(key)
	require.NoError(t, err)

	service := escrow.NewService(
		memory.NewStore(),
		contract.NewEngine(),
		ledger.NewService(),
		dispute.NewArbitration(arbiter.NewRuleClassifier(), arbiter.NewRuleVerifier(0), signer),
	)

	seller, _, err := service.RegisterUser(ctx, "sam", "seller", signer.PublicKeyPEM())
	require.NoError(t, err)
	buyer, _, err := service.RegisterUser(ctx, "bob", "buyer", signer.PublicKeyPEM())
	require.NoError(t, err)

	room, err := service.CreateRoom(ctx, seller.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	_, err = service.Join(ctx, room.Phrase, buyer.ID)
	require.NoError(t, err)

	h := NewHandler(service, nil)
	r := chi.NewRouter()
	r.Get("/rooms/{phrase}/messages", h.ListMessagesHandler)
	r.Post("/rooms/{phrase}/messages", h.CreateMessageHandler)

	return &fixture{router: r, phrase: room.Phrase, seller: seller, buyer: buyer}
}

func (f *fixture) post(t *testing.T, userID, text string) int {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"user_id": userID, "message": text})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/"+f.phrase+"/messages", bytes.NewReader(raw)))
	return rec.Code
}

func (f *fixture) list(t *testing.T, query string) (int, listMessagesResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/"+f.phrase+"/messages"+query, nil))

	var body listMessagesResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	}
	return rec.Code, body
}

func TestCreateMessageHandler(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.post(t, f.buyer.ID, "hello"))
	assert.Equal(t, http.StatusNoContent, f.post(t, f.seller.ID, "hi bob"))

	t.Run("non member", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, f.post(t, "ghost", "let me in"))
	})

	t.Run("empty message", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.post(t, f.buyer.ID, ""))
	})

	t.Run("missing user", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.post(t, "", "anonymous"))
	})

	code, body := f.list(t, "")
	require.Equal(t, http.StatusOK, code)
	require.GreaterOrEqual(t, body.Total, 3)

	last := body.Messages[len(body.Messages)-1]
	assert.Equal(t, domain.MessageChat, last.Kind)
	assert.Equal(t, "hi bob", last.Message)
	assert.Equal(t, "sam", last.SenderUsername)
}

func TestListMessagesHandler_Pages(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"one", "two", "three"} {
		require.Equal(t, http.StatusNoContent, f.post(t, f.buyer.ID, text))
	}

	_, all := f.list(t, "")
	total := all.Total

	code, page := f.list(t, "?limit=2")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, 2, page.Next)

	code, page = f.list(t, "?after=2&limit=100")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, page.Messages, total-2)
	assert.Equal(t, total, page.Next)

	code, page = f.list(t, "?after=999")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, page.Messages)
	assert.Equal(t, total, page.Next)

	code, _ = f.list(t, "?limit=0")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.list(t, "?after=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}
