package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/internal/payment"
	"github.com/AleksaButterfly/kuratert-sub000/internal/pricing"
)

// Protocol is the slice of the ledger protocol the state machine drives.
// Implemented by ledger.Protocol.
type Protocol interface {
	Speculate(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot) (domain.SpeculativeTransaction, error)
	Resume(txID string)
	TransactionID() string
	Skewed() bool
	PaymentWindowExpired() bool
}

// Submitter is the payment orchestrator surface. Implemented by
// payment.Orchestrator.
type Submitter interface {
	Submit(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, input domain.PaymentInput) (payment.SubmitResult, error)
	ResolveReturnedIntent(ctx context.Context, clientSecret string) (payment.Intent, error)
	ConfirmAfterReturn(ctx context.Context) (payment.SubmitResult, error)
	CancelAndRetry(ctx context.Context) error
	RestoreAttempt(attempt domain.PaymentAttempt)
	Attempt() domain.PaymentAttempt
}

// CartClearer clears the buyer's cart after a completed purchase. Implemented
// by cart.Aggregate; the clear is local-only optimistic state.
type CartClearer interface {
	Clear() domain.Cart
}

// Completed describes a finished purchase for the events layer.
type Completed struct {
	SessionID     string
	BuyerID       string
	TransactionID string
	TotalMinor    int64
	Currency      string
	OccurredAt    time.Time
}

// Machine runs one checkout session from mount to confirmation. It owns the
// state variable; everything durable lives in the session snapshot so a page
// reload or redirect return can rebuild the machine.
type Machine struct {
	session   *Session
	spec      *domain.SpeculativeTransaction
	protocol  Protocol
	submitter Submitter
	store     SessionStore
	cart      CartClearer
	logger    *slog.Logger
	now       func() time.Time

	// onCompleted fires once when the flow reaches done; the events layer
	// uses it to append the order.completed outbox row.
	onCompleted func(ctx context.Context, completed Completed)
}

func NewMachine(session *Session, protocol Protocol, submitter Submitter, store SessionStore, cart CartClearer, logger *slog.Logger) *Machine {
	return &Machine{
		session:   session,
		protocol:  protocol,
		submitter: submitter,
		store:     store,
		cart:      cart,
		logger:    logger,
		now:       time.Now,
	}
}

// OnCompleted registers the purchase-completed hook.
func (m *Machine) OnCompleted(fn func(ctx context.Context, completed Completed)) {
	m.onCompleted = fn
}

func (m *Machine) State() State      { return m.session.State }
func (m *Machine) Session() *Session { return m.session }

// Preview returns the current speculative transaction, nil before the first
// successful speculate.
func (m *Machine) Preview() *domain.SpeculativeTransaction { return m.spec }

// LocalPreview prices the session's cart items without touching the ledger.
// The speculative transaction remains authoritative for what is shown at
// commit time.
func (m *Machine) LocalPreview() (pricing.Preview, error) {
	listings := make([]domain.ListingSnapshot, 0, len(m.session.Listings))
	for _, l := range m.session.Listings {
		listings = append(listings, l)
	}
	return pricing.PreviewCart(m.session.CartItems, listings, m.session.Listing.Price.Currency)
}

// Start runs the first speculate and moves to preview_ready. The session
// snapshot is written so a reload lands back here.
func (m *Machine) Start(ctx context.Context, delivery domain.DeliveryMethod) error {
	m.session.OrderData = domain.DraftFromCart(m.session.CartItems, delivery)
	m.session.State = StateLoading

	if err := m.speculate(ctx); err != nil {
		return err
	}
	m.session.State = StatePreviewReady
	return m.persist(ctx)
}

// Resume rebuilds the machine from a stored session, re-attaching the
// protocol to the session's transaction and the orchestrator to its attempt.
func Resume(session *Session, protocol Protocol, submitter Submitter, store SessionStore, cart CartClearer, logger *slog.Logger) *Machine {
	if session.Transaction.ID != "" {
		protocol.Resume(session.Transaction.ID)
	}
	submitter.RestoreAttempt(session.Attempt)
	return NewMachine(session, protocol, submitter, store, cart, logger)
}

// UpdateSelection re-speculates after a delivery method, quantity or option
// change. The state stays where it was; only the preview refreshes.
func (m *Machine) UpdateSelection(ctx context.Context, draft domain.OrderDraft) error {
	if m.session.State == StateCommitting || m.session.State == StateConfirming || m.session.State.Terminal() {
		return fmt.Errorf("selection change in state %s: %w", m.session.State, domain.ErrValidationRejected)
	}

	m.session.OrderData = draft
	if err := m.speculate(ctx); err != nil {
		return err
	}
	return m.persist(ctx)
}

// CollectPayment moves from preview to payment collection.
func (m *Machine) CollectPayment() error {
	if m.session.State != StatePreviewReady && m.session.State != StatePaymentFailed {
		return fmt.Errorf("collect payment in state %s: %w", m.session.State, domain.ErrValidationRejected)
	}
	m.session.State = StateCollectingPayment
	return nil
}

// Submit commits the order with the given payment input. For the redirect
// method the returned result carries the URL to navigate to; for the others
// a successful result means the purchase is done.
func (m *Machine) Submit(ctx context.Context, input domain.PaymentInput) (payment.SubmitResult, error) {
	if m.session.State == StateCommitting || m.session.State == StateConfirming {
		return payment.SubmitResult{}, domain.ErrSubmitInFlight
	}
	if !m.session.State.CanSubmit() {
		return payment.SubmitResult{}, fmt.Errorf("submit in state %s: %w", m.session.State, domain.ErrValidationRejected)
	}

	// The committing state must be visible to concurrent requests before any
	// network call: a second submit that loads the session meanwhile is
	// rejected above instead of reaching the ledger with a duplicate commit.
	prev := m.session.State
	m.session.State = StateCommitting
	if err := m.persist(ctx); err != nil {
		m.session.State = prev
		return payment.SubmitResult{}, err
	}

	result, err := m.submitter.Submit(ctx, m.session.OrderData, m.session.Listings, input)
	if err != nil {
		// Guard rejections leave the in-flight submit's state alone.
		if errors.Is(err, domain.ErrSubmitInFlight) {
			return payment.SubmitResult{}, err
		}
		// Validation and transient failures return to the pre-submit state
		// so the buyer can correct input or retry; taxonomy failures land on
		// their sub-state instead.
		m.session.State = prev
		m.fail(err)
		if persistErr := m.persist(ctx); persistErr != nil {
			m.logger.Error("persist session after failed submit", "error", persistErr)
		}
		return payment.SubmitResult{}, err
	}

	m.session.Transaction = result.Transaction
	m.session.Attempt = result.Attempt

	if !result.Done {
		// Redirect method: persist the continuation, then the caller
		// navigates the browser away.
		m.session.State = StateConfirming
		if err := m.persist(ctx); err != nil {
			return payment.SubmitResult{}, err
		}
		return result, nil
	}

	return result, m.complete(ctx, result)
}

// HandleReturn resumes a redirect checkout from its return URL. The markers
// must match the persisted session before any network call is made.
func (m *Machine) HandleReturn(ctx context.Context, query url.Values) (payment.SubmitResult, error) {
	params, isReturn, err := DetectReturn(query)
	if err != nil {
		m.mismatch(ctx)
		return payment.SubmitResult{}, err
	}
	if !isReturn {
		return payment.SubmitResult{}, fmt.Errorf("not a redirect return: %w", domain.ErrValidationRejected)
	}

	if err := validateReturn(m.session, params); err != nil {
		m.mismatch(ctx)
		return payment.SubmitResult{}, err
	}

	intent, err := m.submitter.ResolveReturnedIntent(ctx, params.ClientSecret)
	if err != nil {
		m.fail(err)
		return payment.SubmitResult{}, err
	}

	switch intent.Status {
	case payment.IntentSucceeded:
		result, err := m.submitter.ConfirmAfterReturn(ctx)
		if err != nil {
			m.fail(err)
			return payment.SubmitResult{}, err
		}
		m.session.Transaction = result.Transaction
		m.session.Attempt = result.Attempt
		return result, m.complete(ctx, result)
	case payment.IntentCanceled, payment.IntentFailed:
		m.session.State = StatePaymentFailed
		if err := m.persist(ctx); err != nil {
			m.logger.Error("persist session after declined return", "error", err)
		}
		return payment.SubmitResult{}, fmt.Errorf("redirect payment %s: %w", intent.Status, domain.ErrPaymentAuthorizationFailed)
	default:
		return payment.SubmitResult{}, fmt.Errorf("redirect intent still %s: %w", intent.Status, domain.ErrNetworkOrServer)
	}
}

// CancelAndRetry is the only legal way back to payment collection once
// committing has started, and only for the redirect method.
func (m *Machine) CancelAndRetry(ctx context.Context) error {
	if m.session.Attempt.Method != domain.MethodRedirect {
		return fmt.Errorf("cancel-and-retry for %s method: %w", m.session.Attempt.Method, domain.ErrValidationRejected)
	}
	if err := m.submitter.CancelAndRetry(ctx); err != nil {
		return err
	}

	m.session.Transaction = domain.Transaction{}
	m.session.Attempt = domain.PaymentAttempt{}
	m.session.State = StateCollectingPayment
	return m.persist(ctx)
}

func (m *Machine) speculate(ctx context.Context) error {
	spec, err := m.protocol.Speculate(ctx, m.session.OrderData, m.session.Listings)
	if err != nil {
		m.fail(err)
		return err
	}
	m.spec = &spec
	m.session.ClockSkewed = m.protocol.Skewed()
	return nil
}

func (m *Machine) complete(ctx context.Context, result payment.SubmitResult) error {
	total, err := result.Transaction.PayinTotal()
	if err != nil {
		m.logger.Error("payin total for completed transaction", "transaction_id", result.Transaction.ID, "error", err)
	}
	m.session.State = StateDone
	m.cart.Clear()

	if m.onCompleted != nil {
		m.onCompleted(ctx, Completed{
			SessionID:     m.session.ID,
			BuyerID:       m.session.BuyerID,
			TransactionID: result.Transaction.ID,
			TotalMinor:    total.Amount,
			Currency:      total.Currency.String(),
			OccurredAt:    m.now().UTC(),
		})
	}
	return m.persist(ctx)
}

// mismatch records the terminal return-mismatch state. It is persisted
// immediately: the per-request machine is discarded right after, so an
// unpersisted terminal state would vanish with it.
func (m *Machine) mismatch(ctx context.Context) {
	m.session.State = StateReturnMismatch
	if err := m.persist(ctx); err != nil {
		m.logger.Error("persist session after return mismatch", "error", err)
	}
}

// fail maps the error taxonomy onto the error sub-states.
func (m *Machine) fail(err error) {
	switch {
	case errors.Is(err, domain.ErrListingUnavailable):
		m.session.State = StateListingGone
	case errors.Is(err, domain.ErrPaymentWindowExpired):
		m.session.State = StatePriceExpired
	case errors.Is(err, domain.ErrPaymentAuthorizationFailed):
		m.session.State = StatePaymentFailed
	case errors.Is(err, domain.ErrRedirectReturnMismatch):
		m.session.State = StateReturnMismatch
	default:
		// Validation and transient errors keep the current state so the
		// buyer can correct input or retry.
	}
}

func (m *Machine) persist(ctx context.Context) error {
	if err := m.store.Save(ctx, m.session); err != nil {
		return fmt.Errorf("persist checkout session %s: %w", m.session.ID, err)
	}
	return nil
}
