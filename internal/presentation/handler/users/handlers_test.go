package users

import (
	"bytes"
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

func newRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
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
	h := NewHandler(service, nil)

	r := chi.NewRouter()
	r.Post("/register", h.RegisterHandler)
	r.Get("/users/{userId}", h.GetUserHandler)
	r.Get("/wallets/{userId}", h.GetWalletHandler)
	return r, signer.PublicKeyPEM()
}

func register(t *testing.T, r http.Handler, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterHandler(t *testing.T) {
	r, pub := newRouter(t)

	rec := register(t, r, map[string]string{"username": "Bob", "role": "buyer", "public_key": pub})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body registerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "bob", body.User.Username)
	assert.Equal(t, domain.RoleBuyer, body.User.Role)
	assert.True(t, decimal.NewFromInt(1000).Equal(body.Wallet.Balance))
	assert.True(t, body.Wallet.Locked.IsZero())

	t.Run("duplicate username", func(t *testing.T) {
		rec := register(t, r, map[string]string{"username": "bob", "role": "seller", "public_key": pub})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("bad public key", func(t *testing.T) {
		rec := register(t, r, map[string]string{"username": "mallory", "role": "buyer", "public_key": "not a key"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		rec := register(t, r, map[string]string{"username": "arnold", "role": "arbiter", "public_key": pub})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("user and wallet lookups", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+body.User.ID, nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallets/"+body.User.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var wallet domain.Wallet
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&wallet))
		assert.Equal(t, body.User.ID, wallet.UserID)
		assert.Len(t, wallet.Transactions, 1)
	})

	t.Run("unknown user", func(t *testing.T) {
		for _, path := range []string{"/users/ghost", "/wallets/ghost"} {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code, path)
		}
	})
}
