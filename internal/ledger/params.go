package ledger

import (
	"fmt"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/internal/pricing"
)

// OrderParams is the body of an initiate or transition call. The ledger
// models a single listing per transaction; everything else rides in the
// protected data bag.
type OrderParams struct {
	ListingID      string                `json:"listing_id"`
	Quantity       int                   `json:"quantity"`
	DeliveryMethod domain.DeliveryMethod `json:"delivery_method"`
	// OptionPriceDeltaMinor adjusts the primary listing's unit price. The
	// ledger never sees a separate option line.
	OptionPriceDeltaMinor int64                `json:"option_price_delta_minor,omitempty"`
	ProtectedData         domain.ProtectedData `json:"protected_data"`

	// Payment fields resolved by the orchestrator before commit.
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
	ReturnURL        string `json:"return_url,omitempty"`
}

// Query controls which related resources the ledger includes in a response.
type Query struct {
	Include []string `json:"include,omitempty"`
}

// DefaultQuery requests the related entities needed to render a breakdown.
func DefaultQuery() Query {
	return Query{Include: []string{"booking", "provider"}}
}

// BuildOrderParams maps an order draft onto ledger parameters. Auxiliary cart
// items are folded into the protected data on the primary listing's
// transaction: the ledger has no multi-item concept, so all items beyond the
// first are serialized compactly with their option increments already added
// to the unit price.
func BuildOrderParams(draft domain.OrderDraft, listings map[string]domain.ListingSnapshot) (OrderParams, error) {
	primary, ok := listings[draft.PrimaryListingID]
	if !ok {
		return OrderParams{}, fmt.Errorf("primary listing %s: %w", draft.PrimaryListingID, domain.ErrListingUnavailable)
	}
	if !primary.Available() {
		return OrderParams{}, fmt.Errorf("primary listing %s: %w", primary.ID, domain.ErrListingUnavailable)
	}

	params := OrderParams{
		ListingID:             draft.PrimaryListingID,
		Quantity:              draft.Quantity,
		DeliveryMethod:        draft.DeliveryMethod,
		OptionPriceDeltaMinor: draft.OptionPriceDeltaMinor,
		ProtectedData: domain.ProtectedData{
			DeliveryMethod: draft.DeliveryMethod,
		},
	}
	if draft.SelectedOption != nil {
		params.ProtectedData.OptionLabel = draft.SelectedOption.Label
	}

	for _, aux := range draft.AuxiliaryItems {
		listing, ok := listings[aux.PrimaryListingID]
		if !ok {
			return OrderParams{}, fmt.Errorf("cart listing %s: %w", aux.PrimaryListingID, domain.ErrListingUnavailable)
		}
		if !listing.Available() {
			return OrderParams{}, fmt.Errorf("cart listing %s: %w", listing.ID, domain.ErrListingUnavailable)
		}

		folded := domain.FoldedItem{
			ListingID:      listing.ID,
			Title:          listing.Title,
			UnitPriceMinor: pricing.UnitPrice(listing, aux.SelectedOption).Amount,
			Currency:       listing.Price.Currency.String(),
			Quantity:       aux.Quantity,
		}
		if aux.SelectedOption != nil {
			folded.OptionLabel = aux.SelectedOption.Label
		}
		params.ProtectedData.CartSnapshot = append(params.ProtectedData.CartSnapshot, folded)
	}

	return params, nil
}
