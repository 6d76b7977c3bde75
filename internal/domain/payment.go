package domain

import "net/url"

// PaymentMethod names the four supported payment shapes.
type PaymentMethod string

const (
	MethodStoredCard  PaymentMethod = "stored_card"
	MethodOneTimeCard PaymentMethod = "one_time_card"
	MethodWalletCard  PaymentMethod = "wallet_card"
	MethodRedirect    PaymentMethod = "redirect"
)

// PaymentInput is a tagged union over the payment method shapes. Each variant
// carries only the fields its method needs; orchestration switches
// exhaustively on the concrete type instead of probing optional fields.
type PaymentInput interface {
	Method() PaymentMethod
}

// StoredCardInput reuses a previously saved payment credential.
type StoredCardInput struct {
	CredentialRef string
}

func (StoredCardInput) Method() PaymentMethod { return MethodStoredCard }

// OneTimeCardInput carries the gateway token for raw card details collected
// by the gateway-owned widget. Raw card data never reaches this code.
type OneTimeCardInput struct {
	CardToken string
	// WidgetComplete is the widget's own validity signal. Submits with an
	// incomplete widget are rejected locally.
	WidgetComplete bool
	SaveAfterUse   bool
}

func (OneTimeCardInput) Method() PaymentMethod { return MethodOneTimeCard }

// WalletCardInput is a device-wallet payment method reference yielded by the
// browser payment sheet. From authorization onward it behaves like a stored
// card.
type WalletCardInput struct {
	PaymentMethodRef string
}

func (WalletCardInput) Method() PaymentMethod { return MethodWalletCard }

// RedirectInput is the out-of-band redirect method. ReturnURL is the bare
// checkout page URL; the return markers are appended once the transaction id
// and intent secret exist.
type RedirectInput struct {
	ReturnURL string
}

func (RedirectInput) Method() PaymentMethod { return MethodRedirect }

// Query markers the redirect return path depends on. All three must be
// present and consistent for a return to proceed.
const (
	ReturnMarkerParam = "klarna_return"
	ReturnTxIDParam   = "txId"
	ReturnSecretParam = "payment_intent_client_secret"
)

// RedirectReturnURL appends the return markers to the checkout page URL.
func RedirectReturnURL(base, txID, clientSecret string) string {
	q := url.Values{}
	q.Set(ReturnMarkerParam, "true")
	q.Set(ReturnTxIDParam, txID)
	q.Set(ReturnSecretParam, clientSecret)
	return base + "?" + q.Encode()
}

type AttemptStatus string

const (
	AttemptCreated    AttemptStatus = "created"
	AttemptAuthorized AttemptStatus = "authorized"
	AttemptFailed     AttemptStatus = "failed"
)

// PaymentAttempt tracks one payment try for a checkout session. For the
// redirect method it is persisted with the session so it survives the full
// page navigation away and back.
type PaymentAttempt struct {
	Method          PaymentMethod `json:"method"`
	GatewayIntentID string        `json:"gateway_intent_id,omitempty"`
	ClientSecret    string        `json:"client_secret,omitempty"`
	Status          AttemptStatus `json:"status"`
}
