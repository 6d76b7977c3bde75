package domain

import "time"

// TxState is the ledger-owned transaction state. The client never infers a
// state locally, it only reflects what the ledger returned.
type TxState string

const (
	TxStateNone           TxState = ""
	TxStatePendingPayment TxState = "pending-payment"
	TxStatePurchased      TxState = "purchased"
	TxStateCanceled       TxState = "canceled"
)

// Named ledger transitions. Transitions are one-directional edges applied by
// explicit calls.
const (
	TransitionRequestPayment = "transition/request-payment"
	TransitionConfirmPayment = "transition/confirm-payment"
	TransitionCancelPayment  = "transition/cancel-payment"
)

// LineItem is one pricing row on a ledger transaction. Unit prices already
// include any option increment; the ledger never sees a separate option row.
type LineItem struct {
	Code      string `json:"code"`
	UnitPrice Money  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Reversal  bool   `json:"reversal"`
}

// Well-known line item codes.
const (
	LineItemOrder       = "line-item/order"
	LineItemShippingFee = "line-item/shipping-fee"
	LineItemAuxiliary   = "line-item/auxiliary-order"
)

// FoldedItem is the compact form of a cart item embedded in protected data.
// Its unit price is flattened: listing price plus option increment.
type FoldedItem struct {
	ListingID      string `json:"listing_id"`
	Title          string `json:"title"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Currency       string `json:"currency"`
	Quantity       int    `json:"quantity"`
	OptionLabel    string `json:"option_label,omitempty"`
}

// ProtectedData is the opaque bag the ledger stores verbatim on a
// transaction. It carries everything the ledger has no native model for:
// the folded cart, the delivery method and the option selection.
type ProtectedData struct {
	CartSnapshot   []FoldedItem   `json:"cart_snapshot,omitempty"`
	DeliveryMethod DeliveryMethod `json:"delivery_method,omitempty"`
	OptionLabel    string         `json:"option_label,omitempty"`
	// PaymentIntentID and PaymentIntentClientSecret are written by the
	// privileged request-payment transition, which creates the gateway
	// intent server-side. Unprivileged reads never include the secret.
	PaymentIntentID           string `json:"payment_intent_id,omitempty"`
	PaymentIntentClientSecret string `json:"payment_intent_client_secret,omitempty"`
}

// Transaction mirrors the ledger's authoritative record. Append-only: fields
// change only through recognized transitions.
type Transaction struct {
	ID                 string        `json:"id"`
	State              TxState       `json:"state"`
	LineItems          []LineItem    `json:"line_items"`
	ProtectedData      ProtectedData `json:"protected_data"`
	LastTransitionedAt time.Time     `json:"last_transitioned_at"`
	// PaymentExpiresAt is the server-defined end of the payment window.
	// Expiry is always derived from this, never from a local countdown.
	PaymentExpiresAt time.Time `json:"payment_expires_at,omitzero"`
}

// PayinTotal sums the non-reversal line items.
func (t Transaction) PayinTotal() (Money, error) {
	var total Money
	seeded := false
	for _, li := range t.LineItems {
		if li.Reversal {
			continue
		}
		amount := li.UnitPrice.Mul(int64(li.Quantity))
		if !seeded {
			total = amount
			seeded = true
			continue
		}
		var err error
		total, err = total.Add(amount)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// SpeculativeTransaction is the ledger's projection of what a transaction
// would become if a transition were applied. Same shape as Transaction,
// no durable side effects behind it.
type SpeculativeTransaction Transaction

// ClockSkewFlag reports whether the local clock disagrees with the ledger's
// lastTransitionedAt by more than the tolerance. When set, countdown timers
// for the payment window cannot be trusted.
func ClockSkewFlag(lastTransitionedAt, localNow time.Time, tolerance time.Duration) bool {
	drift := localNow.Sub(lastTransitionedAt)
	if drift < 0 {
		drift = -drift
	}
	return drift > tolerance
}

// PaymentWindowExpired derives expiry purely from server timestamps: the
// server-set deadline compared against the server-observed transition time
// plus elapsed local duration since that response arrived.
func PaymentWindowExpired(tx Transaction, receivedAt, localNow time.Time) bool {
	if tx.PaymentExpiresAt.IsZero() {
		return false
	}
	elapsed := localNow.Sub(receivedAt)
	serverNow := tx.LastTransitionedAt.Add(elapsed)
	return serverNow.After(tx.PaymentExpiresAt)
}
