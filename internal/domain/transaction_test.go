package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayinTotal(t *testing.T) {
	tx := Transaction{LineItems: []LineItem{
		{Code: LineItemOrder, UnitPrice: MustParseMoney(250000, "NOK"), Quantity: 2},
		{Code: LineItemShippingFee, UnitPrice: MustParseMoney(28000, "NOK"), Quantity: 1},
		{Code: "line-item/provider-commission", UnitPrice: MustParseMoney(50000, "NOK"), Quantity: 1, Reversal: true},
	}}

	total, err := tx.PayinTotal()
	require.NoError(t, err)
	assert.Equal(t, MustParseMoney(528000, "NOK"), total)
}

func TestPayinTotal_CurrencyMismatchFailsLoudly(t *testing.T) {
	tx := Transaction{LineItems: []LineItem{
		{Code: LineItemOrder, UnitPrice: MustParseMoney(100, "NOK"), Quantity: 1},
		{Code: LineItemShippingFee, UnitPrice: MustParseMoney(100, "SEK"), Quantity: 1},
	}}

	_, err := tx.PayinTotal()
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestPayinTotal_Empty(t *testing.T) {
	total, err := Transaction{}.PayinTotal()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestClockSkewFlag(t *testing.T) {
	serverTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		localNow time.Time
		want     bool
	}{
		{"in sync", serverTime.Add(30 * time.Second), false},
		{"local ahead beyond tolerance", serverTime.Add(5 * time.Minute), true},
		{"local behind beyond tolerance", serverTime.Add(-5 * time.Minute), true},
		{"exactly at tolerance", serverTime.Add(2 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClockSkewFlag(serverTime, tt.localNow, 2*time.Minute))
		})
	}
}

func TestPaymentWindowExpired_UsesServerTimestampsOnly(t *testing.T) {
	transitioned := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tx := Transaction{
		LastTransitionedAt: transitioned,
		PaymentExpiresAt:   transitioned.Add(15 * time.Minute),
	}

	// The local clock is an hour off; only the elapsed duration since the
	// response arrived matters.
	receivedAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	assert.False(t, PaymentWindowExpired(tx, receivedAt, receivedAt.Add(10*time.Minute)))
	assert.True(t, PaymentWindowExpired(tx, receivedAt, receivedAt.Add(16*time.Minute)))
}

func TestPaymentWindowExpired_NoDeadline(t *testing.T) {
	now := time.Now()
	assert.False(t, PaymentWindowExpired(Transaction{LastTransitionedAt: now}, now, now.Add(time.Hour)))
}

func TestClampQuantity(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		stock     int
		want      int
	}{
		{"within bounds", 3, 10, 3},
		{"above stock clamps", 15, 10, 10},
		{"above hard cap clamps", 500, 1000, MaxItemQuantity},
		{"below one clamps up", 0, 10, 1},
		{"zero stock still one", 2, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampQuantity(tt.requested, tt.stock))
		})
	}
}

func TestDraftFromCart(t *testing.T) {
	opt := &ItemOption{ID: "opt-1", Label: "Framed", PriceIncrementMinor: 15000}
	items := []CartItem{
		{ListingID: "listing-1", Quantity: 2, SelectedOption: opt},
		{ListingID: "listing-2", Quantity: 1},
	}

	draft := DraftFromCart(items, DeliveryShipping)

	assert.Equal(t, "listing-1", draft.PrimaryListingID)
	assert.Equal(t, 2, draft.Quantity)
	assert.Equal(t, int64(15000), draft.OptionPriceDeltaMinor)
	assert.Equal(t, DeliveryShipping, draft.DeliveryMethod)
	require.Len(t, draft.AuxiliaryItems, 1)
	assert.Equal(t, "listing-2", draft.AuxiliaryItems[0].PrimaryListingID)
	assert.Equal(t, DeliveryShipping, draft.AuxiliaryItems[0].DeliveryMethod)
}

func TestRedirectReturnURL_RoundTripsMarkers(t *testing.T) {
	raw := RedirectReturnURL("https://shop.example.test/checkout", "tx-1", "pi_1_secret")
	assert.Contains(t, raw, "klarna_return=true")
	assert.Contains(t, raw, "txId=tx-1")
	assert.Contains(t, raw, "payment_intent_client_secret=pi_1_secret")
}
