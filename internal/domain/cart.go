package domain

import "time"

// MaxItemQuantity caps a single cart line regardless of listing stock.
const MaxItemQuantity = 100

// ItemOption is a seller-defined listing option (size, colour, framing)
// carrying a price increment in minor units of the listing currency.
type ItemOption struct {
	ID                  string `json:"id"`
	Label               string `json:"label"`
	PriceIncrementMinor int64  `json:"price_increment_minor"`
}

type CartItem struct {
	ListingID      string      `json:"listing_id" bson:"listing_id"`
	Quantity       int         `json:"quantity" bson:"quantity"`
	SelectedOption *ItemOption `json:"selected_option,omitempty" bson:"selected_option,omitempty"`
	AddedAt        time.Time   `json:"added_at" bson:"added_at"`
}

// Cart is the buyer's cart as held on the buyer profile record. It is only
// mutated through the cart aggregate.
type Cart struct {
	BuyerID   string     `json:"buyer_id" bson:"buyer_id"`
	Items     []CartItem `json:"items" bson:"items"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

func (c *Cart) Find(listingID string) (int, *CartItem) {
	for i := range c.Items {
		if c.Items[i].ListingID == listingID {
			return i, &c.Items[i]
		}
	}
	return -1, nil
}

// ClampQuantity bounds a requested quantity to [1, min(stock, MaxItemQuantity)].
func ClampQuantity(requested, stock int) int {
	max := stock
	if max > MaxItemQuantity {
		max = MaxItemQuantity
	}
	if max < 1 {
		max = 1
	}
	if requested > max {
		return max
	}
	if requested < 1 {
		return 1
	}
	return requested
}

// ShippingConfig is the listing-level shipping price pair. The first item
// ships at one price, every additional unit of the same listing at another.
// This split is a marketplace-wide rule.
type ShippingConfig struct {
	Enabled         bool  `json:"enabled"`
	FirstItemMinor  int64 `json:"first_item_minor"`
	AdditionalMinor int64 `json:"additional_minor"`
}

// ListingSnapshot is the slice of a ledger listing resource that checkout
// needs: price, stock and delivery capabilities. The full catalog entity is
// owned by the ledger.
type ListingSnapshot struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Price           Money          `json:"price"`
	Stock           int            `json:"stock"`
	PickupEnabled   bool           `json:"pickup_enabled"`
	Shipping        ShippingConfig `json:"shipping"`
	AuthorID        string         `json:"author_id"`
	Deleted         bool           `json:"deleted"`
	Closed          bool           `json:"closed"`
}

// Available reports whether the listing can still be purchased.
func (l ListingSnapshot) Available() bool {
	return !l.Deleted && !l.Closed && l.Stock > 0
}
