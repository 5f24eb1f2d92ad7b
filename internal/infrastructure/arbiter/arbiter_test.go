package arbiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/escrow/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleClassifier(t *testing.T) {
	tests := []struct {
		description string
		want        domain.Category
	}{
		{"Sponsored Instagram post for my bakery", domain.CategorySocialProof},
		{"Two hour coaching session over video", domain.CategoryServicesTimed},
		{"Design a logo for a coffee brand", domain.CategoryServicesDeliverable},
		{"Photoshop license key", domain.CategoryDigitalGoods},
		{"Vintage bicycle, courier pickup", domain.CategoryPhysicalGoods},
		{"Something else entirely", domain.CategoryPhysicalGoods},
	}

	c := NewRuleClassifier()
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Category(tt.description))

			kinds, err := c.Classify(context.Background(), tt.description)
			require.NoError(t, err)
			assert.Equal(t, domain.RequiredEvidence(tt.want), kinds)
		})
	}
}

func TestRuleVerifier(t *testing.T) {
	required := []domain.EvidenceKind{domain.EvidenceFileUpload, domain.EvidenceDeliverableShot}

	tests := []struct {
		name      string
		submitted map[domain.EvidenceKind][]string
		want      domain.VerdictDecision
	}{
		{"nothing submitted", nil, domain.VerdictReject},
		{"half covered", map[domain.EvidenceKind][]string{domain.EvidenceFileUpload: {"a.zip"}}, domain.VerdictReject},
		{"fully covered", map[domain.EvidenceKind][]string{
			domain.EvidenceFileUpload:      {"a.zip"},
			domain.EvidenceDeliverableShot: {"b.png"},
		}, domain.VerdictApprove},
	}

	v := NewRuleVerifier(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := v.Verify(context.Background(), domain.DisputeCase{
				RequiredEvidence:  required,
				SubmittedEvidence: tt.submitted,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, verdict.Decision)
			assert.NotEmpty(t, verdict.Reasoning)
			assert.False(t, verdict.DecidedAt.IsZero())
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		ClassifierURL: srv.URL + "/classify",
		VerifierURL:   srv.URL + "/verify",
		APIKey:        "secret",
		MaxElapsed:    time.Second,
	}, nil)
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestClient_ClassifyRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "logo design", req.Description)
		_ = json.NewEncoder(w).Encode(map[string]string{"category": "SERVICES_DELIVERABLE"})
	})

	kinds, err := c.Classify(context.Background(), "logo design")
	require.NoError(t, err)
	assert.Equal(t, []domain.EvidenceKind{domain.EvidenceCompletedWork, domain.EvidenceAcceptance}, kinds)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	})

	_, err := c.Classify(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ClassifyRejectsUnknownCategory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"category": "WEAPONS"})
	})

	_, err := c.Classify(context.Background(), "anything")
	assert.Error(t, err)
}

func TestClient_Verify(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    domain.VerdictDecision
		wantErr bool
	}{
		{"explicit approve", `{"decision":"approve","final_confidence":0.9,"reasoning":"ok"}`, domain.VerdictApprove, false},
		{"explicit reject", `{"decision":"REJECT","final_confidence":0.95}`, domain.VerdictReject, false},
		{"confidence above threshold", `{"final_confidence":0.8}`, domain.VerdictApprove, false},
		{"confidence at threshold", `{"final_confidence":0.75}`, domain.VerdictReject, false},
		{"empty reply", `{}`, "", true},
		{"unknown decision", `{"decision":"MAYBE"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req verifyRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "alpha-bravo", req.RoomPhrase)
				assert.Equal(t, "250", req.Amount)
				_, _ = w.Write([]byte(tt.reply))
			})

			verdict, err := c.Verify(context.Background(), domain.DisputeCase{
				RoomPhrase: "alpha-bravo",
				Amount:     decimal.NewFromInt(250),
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, verdict.Decision)
		})
	}
}

func TestClient_MissingEndpoint(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.Classify(context.Background(), "x")
	assert.Error(t, err)
}
