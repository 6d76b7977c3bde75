package domain

import "errors"

// Checkout error taxonomy. Only ErrNetworkOrServer and
// ErrPaymentAuthorizationFailed are retryable from the same screen; the rest
// end or restart the checkout session.
var (
	// ErrListingUnavailable: listing deleted, closed or gone. Fatal to the
	// current attempt, never retried.
	ErrListingUnavailable = errors.New("listing unavailable")

	// ErrValidationRejected: the ledger rejected the params, e.g. the stock
	// compare-and-set failed. Re-submit with corrected input is allowed.
	ErrValidationRejected = errors.New("validation rejected")

	// ErrPaymentAuthorizationFailed: the gateway declined. Retry with the
	// same or a different method.
	ErrPaymentAuthorizationFailed = errors.New("payment authorization failed")

	// ErrPaymentWindowExpired: derived from server timestamps only. Forces a
	// fresh speculate.
	ErrPaymentWindowExpired = errors.New("payment window expired")

	// ErrNetworkOrServer: transient transport or 5xx failure. Commit retry is
	// safe because a known transaction id turns the retry into a transition.
	ErrNetworkOrServer = errors.New("network or server error")

	// ErrRedirectReturnMismatch: return markers present but no matching local
	// session. Terminal for this tab.
	ErrRedirectReturnMismatch = errors.New("redirect return does not match a local session")

	// ErrSubmitInFlight: a previous submit has not settled yet. Rejected
	// locally, no network call.
	ErrSubmitInFlight = errors.New("submit already in flight")

	// ErrCardInputIncomplete: the gateway card widget has not reported a
	// fully valid value.
	ErrCardInputIncomplete = errors.New("card input incomplete")
)

// Retryable reports whether the error allows a retry from the same screen
// without restarting the checkout session.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkOrServer) || errors.Is(err, ErrPaymentAuthorizationFailed)
}
