package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

// TransactionProtocol is the slice of the ledger protocol the orchestrator
// drives. Implemented by ledger.Protocol.
type TransactionProtocol interface {
	Commit(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, paymentRef, returnURL string) (domain.Transaction, error)
	ConfirmPayment(ctx context.Context) (domain.Transaction, error)
	CancelPayment(ctx context.Context) error
}

// SubmitResult is the outcome of one payment submit. Either the purchase is
// done, or the browser must follow RedirectURL and come back.
type SubmitResult struct {
	Transaction domain.Transaction
	Attempt     domain.PaymentAttempt
	// RedirectURL is only set for the redirect method; the page navigates
	// away and resumes through HandleReturn.
	RedirectURL string
	Done        bool
}

// Orchestrator runs one checkout session's payment. It is polymorphic over
// the four payment method shapes and owns the submission guard: no two
// commits for the same session are ever in flight at once.
type Orchestrator struct {
	gateway  Gateway
	protocol TransactionProtocol
	logger   *slog.Logger

	// readyPollInterval and readyTimeout bound how long return handling
	// waits for the gateway SDK handshake.
	readyPollInterval time.Duration
	readyTimeout      time.Duration

	mu       sync.Mutex
	inFlight bool
	attempt  domain.PaymentAttempt
}

func NewOrchestrator(gateway Gateway, protocol TransactionProtocol, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		gateway:           gateway,
		protocol:          protocol,
		logger:            logger,
		readyPollInterval: 250 * time.Millisecond,
		readyTimeout:      10 * time.Second,
	}
}

// Attempt returns the current payment attempt, for session persistence.
func (o *Orchestrator) Attempt() domain.PaymentAttempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempt
}

// RestoreAttempt re-hydrates the attempt from checkout session storage after
// a page reload or redirect return.
func (o *Orchestrator) RestoreAttempt(attempt domain.PaymentAttempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempt = attempt
}

// OfferWalletCard probes the gateway for wallet capability. The wallet method
// is only offered when the probe reports at least one wallet flavour.
func (o *Orchestrator) OfferWalletCard(ctx context.Context, config PaymentRequestConfig) bool {
	caps, err := o.gateway.CanMakePayment(ctx, config)
	if err != nil {
		o.logger.Warn("wallet capability probe failed", "error", err)
		return false
	}
	for _, ok := range caps {
		if ok {
			return true
		}
	}
	return false
}

// Submit runs the full submit for the given payment input. The guard rejects
// locally, without any network call, when a previous submit is still in
// flight or when a card method's widget has not reported a valid value.
func (o *Orchestrator) Submit(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, input domain.PaymentInput) (SubmitResult, error) {
	if err := o.acquire(input); err != nil {
		return SubmitResult{}, err
	}
	defer o.release()

	switch in := input.(type) {
	case domain.StoredCardInput:
		return o.submitWithCredential(ctx, draft, listings, in.CredentialRef, domain.MethodStoredCard)
	case domain.WalletCardInput:
		// From authorization onward a wallet reference behaves like a
		// stored card.
		return o.submitWithCredential(ctx, draft, listings, in.PaymentMethodRef, domain.MethodWalletCard)
	case domain.OneTimeCardInput:
		return o.submitOneTimeCard(ctx, draft, listings, in)
	case domain.RedirectInput:
		return o.submitRedirect(ctx, draft, listings, in)
	default:
		return SubmitResult{}, fmt.Errorf("unsupported payment input %T: %w", input, domain.ErrValidationRejected)
	}
}

// submitWithCredential covers storedCard and walletCard: the credential
// reference rides on the commit, the privileged transition creates and the
// gateway confirms the intent, then the ledger moves to purchased.
func (o *Orchestrator) submitWithCredential(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, credentialRef string, method domain.PaymentMethod) (SubmitResult, error) {
	tx, err := o.protocol.Commit(ctx, draft, listings, credentialRef, "")
	if err != nil {
		return SubmitResult{}, err
	}
	o.setAttempt(domain.PaymentAttempt{
		Method:          method,
		GatewayIntentID: tx.ProtectedData.PaymentIntentID,
		ClientSecret:    tx.ProtectedData.PaymentIntentClientSecret,
		Status:          domain.AttemptCreated,
	})

	intent, err := o.gateway.ConfirmCardPayment(ctx, tx.ProtectedData.PaymentIntentClientSecret, ConfirmDetails{PaymentMethodRef: credentialRef})
	if err != nil {
		o.failAttempt()
		return SubmitResult{}, err
	}
	if intent.Status != IntentSucceeded {
		o.failAttempt()
		return SubmitResult{}, fmt.Errorf("intent status %s: %w", intent.Status, domain.ErrPaymentAuthorizationFailed)
	}

	return o.confirmOnLedger(ctx)
}

// submitOneTimeCard authorizes with the gateway first; the widget's
// out-of-band challenge (bank verification) happens inside ConfirmCardPayment
// and only a final success leads to the ledger commit.
func (o *Orchestrator) submitOneTimeCard(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, in domain.OneTimeCardInput) (SubmitResult, error) {
	total, err := draftTotal(draft, listings)
	if err != nil {
		return SubmitResult{}, err
	}

	intent, err := o.gateway.CreatePaymentIntentClientFlow(ctx, CreateIntentParams{
		AmountMinor: total.Amount,
		Currency:    total.Currency.String(),
		Method:      domain.MethodOneTimeCard,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	o.setAttempt(domain.PaymentAttempt{
		Method:          domain.MethodOneTimeCard,
		GatewayIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Status:          domain.AttemptCreated,
	})

	confirmed, err := o.gateway.ConfirmCardPayment(ctx, intent.ClientSecret, ConfirmDetails{CardToken: in.CardToken})
	if err != nil {
		o.failAttempt()
		return SubmitResult{}, err
	}
	if confirmed.Status != IntentSucceeded {
		o.failAttempt()
		return SubmitResult{}, fmt.Errorf("intent status %s: %w", confirmed.Status, domain.ErrPaymentAuthorizationFailed)
	}
	o.authorizeAttempt()

	if _, err := o.protocol.Commit(ctx, draft, listings, confirmed.PaymentMethodRef, ""); err != nil {
		return SubmitResult{}, err
	}
	return o.confirmOnLedger(ctx)
}

// submitRedirect commits first, then confirms the minted intent with the
// final return URL. The markers need the transaction id and intent secret,
// so they cannot exist before the commit; the session snapshot persisted by
// checkout is what survives the navigation.
func (o *Orchestrator) submitRedirect(ctx context.Context, draft domain.OrderDraft, listings map[string]domain.ListingSnapshot, in domain.RedirectInput) (SubmitResult, error) {
	tx, err := o.protocol.Commit(ctx, draft, listings, "", in.ReturnURL)
	if err != nil {
		return SubmitResult{}, err
	}
	o.setAttempt(domain.PaymentAttempt{
		Method:          domain.MethodRedirect,
		GatewayIntentID: tx.ProtectedData.PaymentIntentID,
		ClientSecret:    tx.ProtectedData.PaymentIntentClientSecret,
		Status:          domain.AttemptCreated,
	})

	returnURL := domain.RedirectReturnURL(in.ReturnURL, tx.ID, tx.ProtectedData.PaymentIntentClientSecret)
	intent, err := o.gateway.HandleRedirectPayment(ctx, tx.ProtectedData.PaymentIntentClientSecret, returnURL)
	if err != nil {
		o.failAttempt()
		return SubmitResult{}, err
	}

	return SubmitResult{
		Transaction: tx,
		Attempt:     o.Attempt(),
		RedirectURL: intent.RedirectURL,
	}, nil
}

// ResolveReturnedIntent polls the gateway for the outcome of a redirect
// intent. It defers until the gateway SDK reports ready (the return tab may
// have a colder SDK than the tab that started the redirect) and keeps
// polling while the intent is still processing.
func (o *Orchestrator) ResolveReturnedIntent(ctx context.Context, clientSecret string) (Intent, error) {
	deadline := time.Now().Add(o.readyTimeout)
	for !o.gateway.Ready() {
		if time.Now().After(deadline) {
			return Intent{}, fmt.Errorf("gateway not ready: %w", domain.ErrNetworkOrServer)
		}
		select {
		case <-ctx.Done():
			return Intent{}, ctx.Err()
		case <-time.After(o.readyPollInterval):
		}
	}

	for {
		intent, err := o.gateway.RetrievePaymentIntent(ctx, clientSecret)
		if err != nil {
			return Intent{}, err
		}
		if intent.Status != IntentProcessing {
			return intent, nil
		}
		select {
		case <-ctx.Done():
			return Intent{}, ctx.Err()
		case <-time.After(o.readyPollInterval):
		}
	}
}

// ConfirmAfterReturn finishes a successful redirect return: exactly one
// confirm-payment transition on the ledger.
func (o *Orchestrator) ConfirmAfterReturn(ctx context.Context) (SubmitResult, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return SubmitResult{}, domain.ErrSubmitInFlight
	}
	o.inFlight = true
	o.mu.Unlock()
	defer o.release()

	return o.confirmOnLedger(ctx)
}

// CancelAndRetry moves a failed redirect attempt's transaction back to a
// retryable state instead of leaving it stuck in pending-payment.
func (o *Orchestrator) CancelAndRetry(ctx context.Context) error {
	if err := o.protocol.CancelPayment(ctx); err != nil {
		return err
	}
	o.setAttempt(domain.PaymentAttempt{})
	return nil
}

func (o *Orchestrator) confirmOnLedger(ctx context.Context) (SubmitResult, error) {
	tx, err := o.protocol.ConfirmPayment(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	o.authorizeAttempt()
	return SubmitResult{Transaction: tx, Attempt: o.Attempt(), Done: true}, nil
}

// acquire enforces the submission guard.
func (o *Orchestrator) acquire(input domain.PaymentInput) error {
	if card, ok := input.(domain.OneTimeCardInput); ok && !card.WidgetComplete {
		return domain.ErrCardInputIncomplete
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return domain.ErrSubmitInFlight
	}
	o.inFlight = true
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) setAttempt(attempt domain.PaymentAttempt) {
	o.mu.Lock()
	o.attempt = attempt
	o.mu.Unlock()
}

func (o *Orchestrator) failAttempt() {
	o.mu.Lock()
	o.attempt.Status = domain.AttemptFailed
	o.mu.Unlock()
}

func (o *Orchestrator) authorizeAttempt() {
	o.mu.Lock()
	o.attempt.Status = domain.AttemptAuthorized
	o.mu.Unlock()
}

// draftTotal prices the draft locally for client-flow intent creation. The
// ledger's speculate result remains authoritative for what is shown.
func draftTotal(draft domain.OrderDraft, listings map[string]domain.ListingSnapshot) (domain.Money, error) {
	primary, ok := listings[draft.PrimaryListingID]
	if !ok {
		return domain.Money{}, fmt.Errorf("listing %s: %w", draft.PrimaryListingID, domain.ErrListingUnavailable)
	}

	unit := primary.Price
	unit.Amount += draft.OptionPriceDeltaMinor
	total := unit.Mul(int64(draft.Quantity))

	for _, aux := range draft.AuxiliaryItems {
		listing, ok := listings[aux.PrimaryListingID]
		if !ok {
			return domain.Money{}, fmt.Errorf("listing %s: %w", aux.PrimaryListingID, domain.ErrListingUnavailable)
		}
		auxUnit := listing.Price
		auxUnit.Amount += aux.OptionPriceDeltaMinor
		sum, err := total.Add(auxUnit.Mul(int64(aux.Quantity)))
		if err != nil {
			return domain.Money{}, err
		}
		total = sum
	}
	return total, nil
}
