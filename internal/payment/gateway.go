// Package payment drives the payment gateway across the supported payment
// method shapes. Raw card data never passes through here; the gateway's own
// widget tokenizes it and this code only ever sees references.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/pkg/circuitbreaker"
)

type IntentStatus string

const (
	IntentRequiresConfirmation IntentStatus = "requires_confirmation"
	IntentRequiresAction       IntentStatus = "requires_action"
	IntentProcessing           IntentStatus = "processing"
	IntentSucceeded            IntentStatus = "succeeded"
	IntentCanceled             IntentStatus = "canceled"
	IntentFailed               IntentStatus = "failed"
)

// Intent mirrors the gateway's payment intent resource.
type Intent struct {
	ID               string       `json:"id"`
	ClientSecret     string       `json:"client_secret"`
	Status           IntentStatus `json:"status"`
	PaymentMethodRef string       `json:"payment_method_ref,omitempty"`
	// RedirectURL is set for redirect-method intents; the browser navigates
	// there to complete payment out of band.
	RedirectURL string `json:"redirect_url,omitempty"`
}

// ConfirmDetails identifies the payment credential used to confirm an
// intent. Exactly one reference is set.
type ConfirmDetails struct {
	CardToken        string `json:"card_token,omitempty"`
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
	// ReturnURL is set for redirect confirms; the provider sends the
	// browser back there with the return markers already appended.
	ReturnURL string `json:"return_url,omitempty"`
}

// CreateIntentParams starts a client-flow intent for methods where the
// gateway is driven from this side rather than by the ledger.
type CreateIntentParams struct {
	AmountMinor int64                `json:"amount_minor"`
	Currency    string               `json:"currency"`
	Method      domain.PaymentMethod `json:"method"`
	ReturnURL   string               `json:"return_url,omitempty"`
}

// PaymentRequestConfig configures the wallet capability probe.
type PaymentRequestConfig struct {
	Country     string `json:"country"`
	Currency    string `json:"currency"`
	AmountMinor int64  `json:"amount_minor"`
}

// Capabilities is the probe result per wallet flavour.
type Capabilities map[string]bool

// Gateway is the payment gateway surface the orchestrator consumes.
type Gateway interface {
	CreatePaymentIntentClientFlow(ctx context.Context, params CreateIntentParams) (Intent, error)
	ConfirmCardPayment(ctx context.Context, clientSecret string, details ConfirmDetails) (Intent, error)
	// HandleRedirectPayment confirms a redirect-method intent and yields the
	// provider URL the browser must visit.
	HandleRedirectPayment(ctx context.Context, clientSecret, returnURL string) (Intent, error)
	RetrievePaymentIntent(ctx context.Context, clientSecret string) (Intent, error)
	CanMakePayment(ctx context.Context, config PaymentRequestConfig) (Capabilities, error)
	// Ready reports whether the gateway SDK handshake has completed. Return
	// handling defers its polling until this turns true.
	Ready() bool
}

type GatewayConfig struct {
	BaseURL        string
	PublishableKey string
	Timeout        time.Duration
}

// HTTPGateway talks to the gateway's client-flow REST surface.
type HTTPGateway struct {
	cfg        GatewayConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker[*http.Response]
	logger     *slog.Logger
	ready      atomic.Bool
}

func NewHTTPGateway(cfg GatewayConfig, logger *slog.Logger) *HTTPGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPGateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[*http.Response]("payment-gateway"),
		logger:  logger,
	}
}

// Init performs the SDK handshake. Until it succeeds, Ready reports false
// and redirect-return polling holds off.
func (g *HTTPGateway) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/v1/ready", nil)
	if err != nil {
		return fmt.Errorf("build gateway handshake: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.PublishableKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway handshake: %v: %w", err, domain.ErrNetworkOrServer)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway handshake status %d: %w", resp.StatusCode, domain.ErrNetworkOrServer)
	}

	g.ready.Store(true)
	return nil
}

func (g *HTTPGateway) Ready() bool {
	return g.ready.Load()
}

func (g *HTTPGateway) CreatePaymentIntentClientFlow(ctx context.Context, params CreateIntentParams) (Intent, error) {
	return g.postIntent(ctx, "/v1/payment_intents", params)
}

func (g *HTTPGateway) ConfirmCardPayment(ctx context.Context, clientSecret string, details ConfirmDetails) (Intent, error) {
	body := struct {
		ClientSecret string         `json:"client_secret"`
		Details      ConfirmDetails `json:"details"`
	}{clientSecret, details}
	return g.postIntent(ctx, "/v1/payment_intents/confirm", body)
}

func (g *HTTPGateway) HandleRedirectPayment(ctx context.Context, clientSecret, returnURL string) (Intent, error) {
	body := struct {
		ClientSecret string         `json:"client_secret"`
		Details      ConfirmDetails `json:"details"`
	}{clientSecret, ConfirmDetails{ReturnURL: returnURL}}
	return g.postIntent(ctx, "/v1/payment_intents/confirm", body)
}

func (g *HTTPGateway) RetrievePaymentIntent(ctx context.Context, clientSecret string) (Intent, error) {
	url := g.cfg.BaseURL + "/v1/payment_intents/retrieve?client_secret=" + clientSecret
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Intent{}, fmt.Errorf("build retrieve request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.PublishableKey)

	resp, err := g.do(req)
	if err != nil {
		return Intent{}, err
	}
	defer resp.Body.Close()
	return g.decodeIntent(resp)
}

func (g *HTTPGateway) CanMakePayment(ctx context.Context, config PaymentRequestConfig) (Capabilities, error) {
	payload, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal capability probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/payment_request/can_make_payment", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build capability probe: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.PublishableKey)

	resp, err := g.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.errorFromResponse(resp)
	}

	var caps Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	return caps, nil
}

func (g *HTTPGateway) postIntent(ctx context.Context, path string, body any) (Intent, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Intent{}, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Intent{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.PublishableKey)

	resp, err := g.do(req)
	if err != nil {
		return Intent{}, err
	}
	defer resp.Body.Close()
	return g.decodeIntent(resp)
}

func (g *HTTPGateway) decodeIntent(resp *http.Response) (Intent, error) {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Intent{}, g.errorFromResponse(resp)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return intent, nil
}

func (g *HTTPGateway) do(req *http.Request) (*http.Response, error) {
	resp, err := g.breaker.Execute(func() (*http.Response, error) {
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("gateway unavailable: %w", domain.ErrNetworkOrServer)
	}
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %v: %w", err, domain.ErrNetworkOrServer)
	}
	return resp, nil
}

var errServerStatus = errors.New("server status")

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *HTTPGateway) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var ge gatewayError
	_ = json.Unmarshal(raw, &ge)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("gateway %d: %w", resp.StatusCode, domain.ErrNetworkOrServer)
	case ge.Code == "card_declined", ge.Code == "authentication_failed", resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%s: %w", ge.Message, domain.ErrPaymentAuthorizationFailed)
	default:
		g.logger.Warn("unclassified gateway error", "status", resp.StatusCode, "code", ge.Code)
		return fmt.Errorf("gateway %d (%s): %w", resp.StatusCode, ge.Code, domain.ErrPaymentAuthorizationFailed)
	}
}
