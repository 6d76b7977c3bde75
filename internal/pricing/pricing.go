// Package pricing computes cart and order totals locally. Pure functions, no
// network calls; the ledger's speculate call stays the authoritative price.
package pricing

import (
	"fmt"

	"golang.org/x/text/currency"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

// ShippingFee prices shipping for a quantity of one listing. Returns nil when
// the listing does not offer shipping. The first unit ships at the first-item
// price, every additional unit at the incremental price; this asymmetric
// model is a marketplace-wide rule.
func ShippingFee(listing domain.ListingSnapshot, quantity int) *domain.Money {
	if !listing.Shipping.Enabled {
		return nil
	}

	amount := listing.Shipping.FirstItemMinor
	if quantity > 1 {
		amount += listing.Shipping.AdditionalMinor * int64(quantity-1)
	}

	fee := domain.NewMoney(amount, listing.Price.Currency)
	return &fee
}

// CartShippingTotal sums per-item shipping over every listing that offers it.
// Returns nil when no listing in the set offers shipping, so the caller has
// to treat the whole cart as shipping-incompatible instead of charging zero.
func CartShippingTotal(listings []domain.ListingSnapshot, quantityFor func(listingID string) int, unit currency.Unit) (*domain.Money, error) {
	total := domain.NewMoney(0, unit)
	anyShipping := false

	for _, listing := range listings {
		fee := ShippingFee(listing, quantityFor(listing.ID))
		if fee == nil {
			continue
		}
		anyShipping = true

		sum, err := total.Add(*fee)
		if err != nil {
			return nil, fmt.Errorf("shipping for listing %s: %w", listing.ID, err)
		}
		total = sum
	}

	if !anyShipping {
		return nil, nil
	}
	return &total, nil
}

// Compatibility reports which delivery methods the cart as a whole supports.
type Compatibility struct {
	ShippingAvailable bool
	PickupAvailable   bool
}

// DeliveryCompatibility is a conjunction over the cart: a method is available
// only if every item supports it, because one checkout commits to a single
// delivery method for all items.
func DeliveryCompatibility(listings []domain.ListingSnapshot) Compatibility {
	c := Compatibility{
		ShippingAvailable: len(listings) > 0,
		PickupAvailable:   len(listings) > 0,
	}
	for _, listing := range listings {
		if !listing.Shipping.Enabled {
			c.ShippingAvailable = false
		}
		if !listing.PickupEnabled {
			c.PickupAvailable = false
		}
	}
	return c
}

// UnitPrice is the listing price with the selected option's increment folded
// in. The ledger only ever sees flattened unit prices.
func UnitPrice(listing domain.ListingSnapshot, option *domain.ItemOption) domain.Money {
	price := listing.Price
	if option != nil {
		price.Amount += option.PriceIncrementMinor
	}
	return price
}

// Subtotal prices the cart items themselves, shipping excluded.
func Subtotal(items []domain.CartItem, listingFor func(listingID string) (domain.ListingSnapshot, bool), unit currency.Unit) (domain.Money, error) {
	total := domain.NewMoney(0, unit)

	for _, item := range items {
		listing, ok := listingFor(item.ListingID)
		if !ok {
			return domain.Money{}, fmt.Errorf("listing %s: %w", item.ListingID, domain.ErrListingUnavailable)
		}

		line := UnitPrice(listing, item.SelectedOption).Mul(int64(item.Quantity))
		sum, err := total.Add(line)
		if err != nil {
			return domain.Money{}, fmt.Errorf("subtotal for listing %s: %w", listing.ID, err)
		}
		total = sum
	}
	return total, nil
}

// Preview is the local price preview shown before the first speculate
// response lands.
type Preview struct {
	Subtotal      domain.Money
	ShippingTotal *domain.Money
	Total         domain.Money
	Compatibility Compatibility
}

// PreviewCart prices a whole cart locally.
func PreviewCart(items []domain.CartItem, listings []domain.ListingSnapshot, unit currency.Unit) (Preview, error) {
	byID := make(map[string]domain.ListingSnapshot, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}
	listingFor := func(id string) (domain.ListingSnapshot, bool) {
		l, ok := byID[id]
		return l, ok
	}
	quantityFor := func(id string) int {
		for _, item := range items {
			if item.ListingID == id {
				return item.Quantity
			}
		}
		return 0
	}

	subtotal, err := Subtotal(items, listingFor, unit)
	if err != nil {
		return Preview{}, err
	}

	shipping, err := CartShippingTotal(listings, quantityFor, unit)
	if err != nil {
		return Preview{}, err
	}

	total := subtotal
	if shipping != nil {
		total, err = subtotal.Add(*shipping)
		if err != nil {
			return Preview{}, err
		}
	}

	return Preview{
		Subtotal:      subtotal,
		ShippingTotal: shipping,
		Total:         total,
		Compatibility: DeliveryCompatibility(listings),
	}, nil
}

// IsFreeShipping keeps the fee-equals-zero heuristic: a zero fee reads as
// free shipping even though a seller charging zero on purpose is
// indistinguishable from one with no incremental cost configured.
func IsFreeShipping(fee *domain.Money) bool {
	return fee != nil && fee.IsZero()
}
