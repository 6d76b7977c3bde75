package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

func newTestGateway(srv *httptest.Server) *HTTPGateway {
	return NewHTTPGateway(GatewayConfig{
		BaseURL:        srv.URL,
		PublishableKey: "pk_test",
	}, slog.New(slog.DiscardHandler))
}

func writeIntent(w http.ResponseWriter, intent Intent) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(intent)
}

func TestInit_SetsReadyAfterHandshake(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/v1/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := newTestGateway(srv)
	assert.False(t, g.Ready(), "not ready before handshake")

	require.NoError(t, g.Init(context.Background()))
	assert.True(t, g.Ready())
	assert.Equal(t, "Bearer pk_test", gotAuth)
}

func TestInit_FailedHandshakeLeavesNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestGateway(srv)
	err := g.Init(context.Background())

	require.ErrorIs(t, err, domain.ErrNetworkOrServer)
	assert.False(t, g.Ready())
}

func TestConfirmCardPayment_SendsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/confirm", r.URL.Path)
		assert.Equal(t, "Bearer pk_test", r.Header.Get("Authorization"))

		var body struct {
			ClientSecret string         `json:"client_secret"`
			Details      ConfirmDetails `json:"details"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cs_123", body.ClientSecret)
		assert.Equal(t, "pm_stored", body.Details.PaymentMethodRef)
		assert.Empty(t, body.Details.CardToken)

		writeIntent(w, Intent{ID: "pi_1", Status: IntentSucceeded, PaymentMethodRef: "pm_stored"})
	}))
	defer srv.Close()

	g := newTestGateway(srv)
	intent, err := g.ConfirmCardPayment(context.Background(), "cs_123", ConfirmDetails{PaymentMethodRef: "pm_stored"})

	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, intent.Status)
}

func TestHandleRedirectPayment_ConfirmsWithReturnURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/confirm", r.URL.Path)

		var body struct {
			ClientSecret string         `json:"client_secret"`
			Details      ConfirmDetails `json:"details"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cs_redirect", body.ClientSecret)
		assert.Equal(t, "https://shop.example/checkout?klarna_return=true", body.Details.ReturnURL)
		assert.Empty(t, body.Details.PaymentMethodRef)

		writeIntent(w, Intent{
			ID:          "pi_r",
			Status:      IntentRequiresAction,
			RedirectURL: "https://provider.example/authorize/pi_r",
		})
	}))
	defer srv.Close()

	g := newTestGateway(srv)
	intent, err := g.HandleRedirectPayment(context.Background(), "cs_redirect",
		"https://shop.example/checkout?klarna_return=true")

	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/authorize/pi_r", intent.RedirectURL)
}

func TestRetrievePaymentIntent_QueriesBySecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/retrieve", r.URL.Path)
		assert.Equal(t, "cs_poll", r.URL.Query().Get("client_secret"))
		writeIntent(w, Intent{ID: "pi_p", Status: IntentProcessing})
	}))
	defer srv.Close()

	g := newTestGateway(srv)
	intent, err := g.RetrievePaymentIntent(context.Background(), "cs_poll")

	require.NoError(t, err)
	assert.Equal(t, IntentProcessing, intent.Status)
}

func TestCanMakePayment_DecodesCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_request/can_make_payment", r.URL.Path)

		var cfg PaymentRequestConfig
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
		assert.Equal(t, "NO", cfg.Country)
		assert.Equal(t, "NOK", cfg.Currency)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Capabilities{"applePay": true, "googlePay": false})
	}))
	defer srv.Close()

	g := newTestGateway(srv)
	caps, err := g.CanMakePayment(context.Background(), PaymentRequestConfig{
		Country: "NO", Currency: "NOK", AmountMinor: 250000,
	})

	require.NoError(t, err)
	assert.True(t, caps["applePay"])
	assert.False(t, caps["googlePay"])
}

func TestGatewayErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"card declined", http.StatusPaymentRequired, `{"code":"card_declined","message":"insufficient funds"}`, domain.ErrPaymentAuthorizationFailed},
		{"authentication failed", http.StatusBadRequest, `{"code":"authentication_failed","message":"3ds failed"}`, domain.ErrPaymentAuthorizationFailed},
		{"unclassified client error", http.StatusBadRequest, `{"code":"something_else","message":"?"}`, domain.ErrPaymentAuthorizationFailed},
		{"server error", http.StatusInternalServerError, `{}`, domain.ErrNetworkOrServer},
		{"bad gateway", http.StatusBadGateway, `{}`, domain.ErrNetworkOrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := newTestGateway(srv)
			_, err := g.ConfirmCardPayment(context.Background(), "cs_err", ConfirmDetails{CardToken: "tok"})

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
