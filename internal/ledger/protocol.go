package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

// ErrStaleSpeculation marks a speculate response that arrived after a newer
// speculate request was issued. The caller drops it; fresher input-derived
// pricing is already on its way.
var ErrStaleSpeculation = errors.New("stale speculative response")

// clockSkewTolerance bounds how far the local clock may drift from the
// ledger's timestamps before countdown timers are distrusted.
const clockSkewTolerance = 2 * time.Minute

// Protocol drives one checkout session's transaction against the ledger.
// It owns the initiate-versus-transition decision: once a transaction id is
// known, every further call (speculative or durable) becomes a transition
// against that id, which is what makes commit retries safe.
type Protocol struct {
	api          API
	processAlias string
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.Mutex
	txID         string
	speculateSeq int64
	skewed       bool
	lastTx       domain.Transaction
	lastTxAt     time.Time
}

func NewProtocol(api API, processAlias string, logger *slog.Logger) *Protocol {
	return &Protocol{
		api:          api,
		processAlias: processAlias,
		logger:       logger,
		now:          time.Now,
	}
}

// Resume adopts a transaction id recovered from checkout session storage,
// e.g. after a page reload or a redirect return.
func (p *Protocol) Resume(txID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txID = txID
}

// TransactionID returns the ledger transaction id, empty until the first
// durable call succeeds.
func (p *Protocol) TransactionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txID
}

// Skewed reports whether local wall-clock time disagrees with ledger
// timestamps beyond tolerance. When true, payment-expiry countdowns must not
// be trusted.
func (p *Protocol) Skewed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skewed
}

// Speculate prices the draft without mutating the ledger. Safe to call on
// every keystroke-driven change; identical input yields structurally equal
// projections and no durable side effects. Responses that lost the race to a
// newer speculate call come back as ErrStaleSpeculation.
func (p *Protocol) Speculate(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot) (domain.SpeculativeTransaction, error) {
	params, err := BuildOrderParams(draft, listings)
	if err != nil {
		return domain.SpeculativeTransaction{}, err
	}

	p.mu.Lock()
	p.speculateSeq++
	seq := p.speculateSeq
	txID := p.txID
	p.mu.Unlock()

	var spec domain.SpeculativeTransaction
	if txID == "" {
		spec, err = p.api.InitiateSpeculative(ctx, p.processAlias, domain.TransitionRequestPayment, params, DefaultQuery())
	} else {
		spec, err = p.api.TransitionSpeculative(ctx, txID, domain.TransitionRequestPayment, params, DefaultQuery())
	}
	if err != nil {
		return domain.SpeculativeTransaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.speculateSeq {
		return domain.SpeculativeTransaction{}, ErrStaleSpeculation
	}

	p.observeTimestamps(domain.Transaction(spec))
	return spec, nil
}

// Commit makes the draft durable. A first commit initiates; any retry after a
// transaction id is known transitions against that id instead, so a network
// retry can never create a duplicate transaction.
func (p *Protocol) Commit(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, paymentRef, returnURL string) (domain.Transaction, error) {
	params, err := BuildOrderParams(draft, listings)
	if err != nil {
		return domain.Transaction{}, err
	}
	params.PaymentMethodRef = paymentRef
	params.ReturnURL = returnURL

	p.mu.Lock()
	txID := p.txID
	p.mu.Unlock()

	var tx domain.Transaction
	if txID == "" {
		tx, err = p.api.Initiate(ctx, p.processAlias, domain.TransitionRequestPayment, params, DefaultQuery())
	} else {
		tx, err = p.api.Transition(ctx, txID, domain.TransitionRequestPayment, params, DefaultQuery())
	}
	if err != nil {
		return domain.Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.txID = tx.ID
	p.observeTimestamps(tx)
	return tx, nil
}

// ConfirmPayment transitions the committed transaction to purchased after
// the gateway reports a successful authorization.
func (p *Protocol) ConfirmPayment(ctx context.Context) (domain.Transaction, error) {
	p.mu.Lock()
	txID := p.txID
	p.mu.Unlock()
	if txID == "" {
		return domain.Transaction{}, fmt.Errorf("confirm without a committed transaction: %w", domain.ErrValidationRejected)
	}

	tx, err := p.api.Transition(ctx, txID, domain.TransitionConfirmPayment, OrderParams{}, DefaultQuery())
	if err != nil {
		return domain.Transaction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.observeTimestamps(tx)
	return tx, nil
}

// CancelPayment abandons a pending-payment transaction (redirect method
// declined or abandoned) and resets the session to a retryable state: the
// next commit initiates a fresh transaction.
func (p *Protocol) CancelPayment(ctx context.Context) error {
	p.mu.Lock()
	txID := p.txID
	p.mu.Unlock()
	if txID == "" {
		return nil
	}

	_, err := p.api.Transition(ctx, txID, domain.TransitionCancelPayment, OrderParams{}, DefaultQuery())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.txID = ""
	return nil
}

// PaymentWindowExpired derives expiry from server-returned timestamps only.
func (p *Protocol) PaymentWindowExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastTx.ID == "" && p.lastTx.PaymentExpiresAt.IsZero() {
		return false
	}
	return domain.PaymentWindowExpired(p.lastTx, p.lastTxAt, p.now())
}

// observeTimestamps records the latest server timestamps and updates the
// clock-skew flag. Callers hold p.mu.
func (p *Protocol) observeTimestamps(tx domain.Transaction) {
	p.lastTx = tx
	p.lastTxAt = p.now()
	if !tx.LastTransitionedAt.IsZero() {
		skewed := domain.ClockSkewFlag(tx.LastTransitionedAt, p.now(), clockSkewTolerance)
		if skewed && !p.skewed {
			p.logger.Warn("ledger clock skew detected, disabling local countdowns",
				"last_transitioned_at", tx.LastTransitionedAt)
		}
		p.skewed = skewed
	}
}
