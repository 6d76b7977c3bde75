package domain

// DeliveryMethod is the single delivery choice a checkout commits to for the
// whole cart.
type DeliveryMethod string

const (
	DeliveryShipping DeliveryMethod = "shipping"
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryNone     DeliveryMethod = "none"
)

// OrderDraft is the ephemeral input to one checkout attempt. It is built
// fresh from cart items (or a single listing plus option) and lives only in
// checkout session storage so a page reload can rebuild the attempt. It is
// never persisted to the ledger as-is.
type OrderDraft struct {
	PrimaryListingID string         `json:"primary_listing_id"`
	DeliveryMethod   DeliveryMethod `json:"delivery_method"`
	Quantity         int            `json:"quantity"`
	// OptionPriceDeltaMinor is the selected option's increment on the primary
	// listing's unit price, in minor units.
	OptionPriceDeltaMinor int64       `json:"option_price_delta_minor"`
	SelectedOption        *ItemOption `json:"selected_option,omitempty"`
	// AuxiliaryItems are the remaining cart items folded into the same
	// transaction. The ledger only transitions against the primary listing.
	AuxiliaryItems []OrderDraft `json:"auxiliary_items,omitempty"`
}

// DraftFromCart builds an order draft from cart items and their listing
// snapshots. The first item becomes the primary listing, every other item an
// auxiliary draft.
func DraftFromCart(items []CartItem, delivery DeliveryMethod) OrderDraft {
	if len(items) == 0 {
		return OrderDraft{DeliveryMethod: delivery}
	}

	draft := draftFromItem(items[0], delivery)
	for _, item := range items[1:] {
		draft.AuxiliaryItems = append(draft.AuxiliaryItems, draftFromItem(item, delivery))
	}
	return draft
}

func draftFromItem(item CartItem, delivery DeliveryMethod) OrderDraft {
	d := OrderDraft{
		PrimaryListingID: item.ListingID,
		DeliveryMethod:   delivery,
		Quantity:         item.Quantity,
	}
	if item.SelectedOption != nil {
		opt := *item.SelectedOption
		d.SelectedOption = &opt
		d.OptionPriceDeltaMinor = opt.PriceIncrementMinor
	}
	return d
}
