package checkout

// State is the checkout page's position in the purchase flow.
type State string

const (
	StateLoading           State = "loading"
	StatePreviewReady      State = "preview_ready"
	StateCollectingPayment State = "collecting_payment"
	StateCommitting        State = "committing"
	StateConfirming        State = "confirming"
	StateDone              State = "done"

	// Error sub-states, reachable from any state.
	StateListingGone    State = "listing_gone"
	StatePriceExpired   State = "price_expired"
	StatePaymentFailed  State = "payment_failed"
	StateReturnMismatch State = "return_mismatch"
)

func (s State) String() string { return string(s) }

// Terminal reports whether the flow cannot proceed from this state. A failed
// payment is not terminal: the buyer may retry with another method.
func (s State) Terminal() bool {
	return s == StateDone || s == StateListingGone || s == StateReturnMismatch
}

// CanSubmit reports whether a payment submit is legal from this state. Once
// committing has started the only way back is the redirect cancel-and-retry
// path, which re-enters collecting_payment explicitly.
func (s State) CanSubmit() bool {
	return s == StatePreviewReady || s == StateCollectingPayment || s == StatePaymentFailed
}
