package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

func writeTransaction(w http.ResponseWriter, id string, state domain.TxState) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(domain.Transaction{
		ID:                 id,
		State:              state,
		LastTransitionedAt: time.Now().UTC(),
	})
}

func newTestClient(t *testing.T, base, privileged *httptest.Server) *Client {
	cfg := Config{
		BaseURL:          base.URL,
		ClientID:         "test-client",
		PrivilegedSecret: "sk_test",
	}
	if privileged != nil {
		cfg.PrivilegedBaseURL = privileged.URL
	}
	return NewClient(cfg, slog.New(slog.DiscardHandler))
}

func TestInitiate_PrivilegedTransitionUsesPrivilegedEndpoint(t *testing.T) {
	base := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request-payment must not reach the unprivileged endpoint: %s", r.URL.Path)
	}))
	defer base.Close()

	var gotAuth string
	privileged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/transactions/initiate", r.URL.Path)

		var body initiateBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "default-purchase/release-1", body.ProcessAlias)
		assert.Equal(t, domain.TransitionRequestPayment, body.Transition)

		writeTransaction(w, "tx-1", domain.TxStatePendingPayment)
	}))
	defer privileged.Close()

	client := newTestClient(t, base, privileged)

	tx, err := client.Initiate(context.Background(), "default-purchase/release-1",
		domain.TransitionRequestPayment, OrderParams{ListingID: "listing-a", Quantity: 1}, DefaultQuery())

	require.NoError(t, err)
	assert.Equal(t, "tx-1", tx.ID)
	assert.Equal(t, "Bearer sk_test", gotAuth, "privileged calls carry the secret")
}

func TestTransition_UnprivilegedTransitionOmitsSecret(t *testing.T) {
	base := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/tx-9/transition", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "unprivileged calls never see payment secrets")
		writeTransaction(w, "tx-9", domain.TxStatePurchased)
	}))
	defer base.Close()

	client := newTestClient(t, base, nil)

	tx, err := client.Transition(context.Background(), "tx-9",
		domain.TransitionConfirmPayment, OrderParams{}, Query{})

	require.NoError(t, err)
	assert.Equal(t, domain.TxStatePurchased, tx.State)
}

func TestClient_IncludeQuery(t *testing.T) {
	base := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "booking,provider", r.URL.Query().Get("include"))
		writeTransaction(w, "tx-2", domain.TxStatePurchased)
	}))
	defer base.Close()

	client := newTestClient(t, base, nil)

	_, err := client.Transition(context.Background(), "tx-2",
		domain.TransitionConfirmPayment, OrderParams{}, DefaultQuery())
	require.NoError(t, err)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"listing gone", http.StatusNotFound, `{"code":"listing-not-found","message":"listing deleted"}`, domain.ErrListingUnavailable},
		{"listing closed code", http.StatusConflict, `{"code":"listing-closed","message":"closed"}`, domain.ErrListingUnavailable},
		{"stock mismatch", http.StatusConflict, `{"code":"stock-mismatch","message":"only 1 left"}`, domain.ErrValidationRejected},
		{"bad params", http.StatusBadRequest, `{"code":"invalid-params","message":"quantity"}`, domain.ErrValidationRejected},
		{"expired window", http.StatusBadRequest, `{"code":"payment-window-expired","message":"expired"}`, domain.ErrPaymentWindowExpired},
		{"server error", http.StatusInternalServerError, `{}`, domain.ErrNetworkOrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer base.Close()

			client := newTestClient(t, base, nil)

			_, err := client.Transition(context.Background(), "tx-1",
				domain.TransitionConfirmPayment, OrderParams{}, Query{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestShowListing(t *testing.T) {
	base := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/listings/listing-a", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.ListingSnapshot{
			ID:    "listing-a",
			Title: "Vintage lamp",
			Price: domain.MustParseMoney(1000, "NOK"),
			Stock: 5,
		})
	}))
	defer base.Close()

	client := newTestClient(t, base, nil)

	listing, err := client.ShowListing(context.Background(), "listing-a")
	require.NoError(t, err)
	assert.Equal(t, "Vintage lamp", listing.Title)
	assert.Equal(t, int64(1000), listing.Price.Amount)
}

func TestTransportError_MapsToNetworkOrServer(t *testing.T) {
	base := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base.Close() // refuse connections

	client := newTestClient(t, base, nil)

	_, err := client.Transition(context.Background(), "tx-1",
		domain.TransitionConfirmPayment, OrderParams{}, Query{})
	assert.ErrorIs(t, err, domain.ErrNetworkOrServer)
}
