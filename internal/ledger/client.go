// Package ledger talks to the marketplace transaction ledger. The ledger
// owns order state and pricing line items; this package maps checkout input
// onto ledger calls and ledger responses onto the local transaction types.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/pkg/circuitbreaker"
)

// API is the ledger surface the rest of checkout consumes.
type API interface {
	Initiate(ctx context.Context, processAlias, transition string, params OrderParams, query Query) (domain.Transaction, error)
	Transition(ctx context.Context, txID, transition string, params OrderParams, query Query) (domain.Transaction, error)
	InitiateSpeculative(ctx context.Context, processAlias, transition string, params OrderParams, query Query) (domain.SpeculativeTransaction, error)
	TransitionSpeculative(ctx context.Context, txID, transition string, params OrderParams, query Query) (domain.SpeculativeTransaction, error)
	ShowListing(ctx context.Context, listingID string) (domain.ListingSnapshot, error)
}

// privilegedTransitions require server-side secret handling: the ledger
// computes authoritative prices or talks to the payment gateway itself.
// Unprivileged calls never see payment secrets.
var privilegedTransitions = map[string]bool{
	domain.TransitionRequestPayment: true,
}

type Config struct {
	// BaseURL is the unprivileged marketplace API endpoint.
	BaseURL string
	// PrivilegedBaseURL is the server-to-server endpoint that may handle
	// payment secrets.
	PrivilegedBaseURL string
	ClientID          string
	// PrivilegedSecret is only attached to privileged calls.
	PrivilegedSecret string
	Timeout          time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker[*http.Response]
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[*http.Response]("ledger"),
		logger:  logger,
	}
}

type initiateBody struct {
	ProcessAlias string      `json:"process_alias"`
	Transition   string      `json:"transition"`
	Params       OrderParams `json:"params"`
}

type transitionBody struct {
	Transition string      `json:"transition"`
	Params     OrderParams `json:"params"`
}

func (c *Client) Initiate(ctx context.Context, processAlias, transition string, params OrderParams, query Query) (domain.Transaction, error) {
	body := initiateBody{ProcessAlias: processAlias, Transition: transition, Params: params}
	return c.postTransaction(ctx, transition, "/v1/transactions/initiate", body, query)
}

func (c *Client) Transition(ctx context.Context, txID, transition string, params OrderParams, query Query) (domain.Transaction, error) {
	body := transitionBody{Transition: transition, Params: params}
	path := fmt.Sprintf("/v1/transactions/%s/transition", txID)
	return c.postTransaction(ctx, transition, path, body, query)
}

func (c *Client) InitiateSpeculative(ctx context.Context, processAlias, transition string, params OrderParams, query Query) (domain.SpeculativeTransaction, error) {
	body := initiateBody{ProcessAlias: processAlias, Transition: transition, Params: params}
	tx, err := c.postTransaction(ctx, transition, "/v1/transactions/initiate_speculative", body, query)
	return domain.SpeculativeTransaction(tx), err
}

func (c *Client) TransitionSpeculative(ctx context.Context, txID, transition string, params OrderParams, query Query) (domain.SpeculativeTransaction, error) {
	body := transitionBody{Transition: transition, Params: params}
	path := fmt.Sprintf("/v1/transactions/%s/transition_speculative", txID)
	tx, err := c.postTransaction(ctx, transition, path, body, query)
	return domain.SpeculativeTransaction(tx), err
}

func (c *Client) ShowListing(ctx context.Context, listingID string) (domain.ListingSnapshot, error) {
	url := c.cfg.BaseURL + "/v1/listings/" + listingID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ListingSnapshot{}, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Id", c.cfg.ClientID)

	resp, err := c.do(req)
	if err != nil {
		return domain.ListingSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ListingSnapshot{}, c.errorFromResponse(resp)
	}

	var listing domain.ListingSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return domain.ListingSnapshot{}, fmt.Errorf("decode listing: %w", err)
	}
	return listing, nil
}

func (c *Client) postTransaction(ctx context.Context, transition, path string, body any, query Query) (domain.Transaction, error) {
	base := c.cfg.BaseURL
	privileged := privilegedTransitions[transition]
	if privileged {
		base = c.cfg.PrivilegedBaseURL
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("marshal ledger request: %w", err)
	}

	url := base + path
	if len(query.Include) > 0 {
		url += "?include=" + strings.Join(query.Include, ",")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", c.cfg.ClientID)
	if privileged {
		req.Header.Set("Authorization", "Bearer "+c.cfg.PrivilegedSecret)
	}

	resp, err := c.do(req)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.Transaction{}, c.errorFromResponse(resp)
	}

	var tx domain.Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode ledger transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			// Count 5xx towards tripping, but hand the response back for
			// error mapping.
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("ledger unavailable: %w", domain.ErrNetworkOrServer)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %v: %w", err, domain.ErrNetworkOrServer)
	}
	return resp, nil
}

var errServerStatus = errors.New("server status")

type ledgerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorFromResponse maps ledger failures onto the checkout error taxonomy.
func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var le ledgerError
	_ = json.Unmarshal(raw, &le)

	switch {
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone,
		le.Code == "listing-not-found",
		le.Code == "listing-closed":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrListingUnavailable)
	case resp.StatusCode >= 500:
		return fmt.Errorf("ledger %d: %w", resp.StatusCode, domain.ErrNetworkOrServer)
	case le.Code == "payment-window-expired":
		return fmt.Errorf("%s: %w", le.Message, domain.ErrPaymentWindowExpired)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", le.Message, domain.ErrValidationRejected)
	default:
		c.logger.Warn("unclassified ledger error", "status", resp.StatusCode, "code", le.Code)
		return fmt.Errorf("ledger %d (%s): %w", resp.StatusCode, le.Code, domain.ErrNetworkOrServer)
	}
}
