package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/internal/profile"
)

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) domain.Cart {
	t.Helper()
	var c domain.Cart
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	return c
}

func TestGetCart_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/cart/", nil), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetCart_SeedsFromProfile(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.profiles["buyer-1"] = &profile.Profile{
		UserID:    "buyer-1",
		CartItems: []domain.CartItem{{ListingID: "l-1", Quantity: 2}},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/cart/", nil), "buyer-1")

	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeCart(t, rec)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "l-1", c.Items[0].ListingID)
	assert.Equal(t, 2, c.Items[0].Quantity)
}

func TestAddItem_ClampsToStock(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.listings["l-1"] = nokListing("l-1", 250000, 3)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		jsonBody(t, AddItemRequest{ListingID: "l-1", Quantity: 10}))
	rec := env.do(req, "buyer-1")

	require.Equal(t, http.StatusCreated, rec.Code)
	c := decodeCart(t, rec)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)
}

func TestAddItem_UnknownListing(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		jsonBody(t, AddItemRequest{ListingID: "gone", Quantity: 1}))
	rec := env.do(req, "buyer-1")

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestAddItem_ClosedListing(t *testing.T) {
	env := newTestEnv(t)
	listing := nokListing("l-1", 250000, 3)
	listing.Closed = true
	env.ledger.listings["l-1"] = listing

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		jsonBody(t, AddItemRequest{ListingID: "l-1", Quantity: 1}))
	rec := env.do(req, "buyer-1")

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestAddItem_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body AddItemRequest
	}{
		{"missing listing id", AddItemRequest{Quantity: 1}},
		{"zero quantity", AddItemRequest{ListingID: "l-1"}},
		{"negative quantity", AddItemRequest{ListingID: "l-1", Quantity: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ledger.listings["l-1"] = nokListing("l-1", 250000, 3)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", jsonBody(t, tt.body))
			rec := env.do(req, "buyer-1")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSetQuantity_Updates(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.listings["l-1"] = nokListing("l-1", 250000, 5)
	env.profiles.profiles["buyer-1"] = &profile.Profile{
		UserID:    "buyer-1",
		CartItems: []domain.CartItem{{ListingID: "l-1", Quantity: 1}},
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart/items/l-1",
		jsonBody(t, SetQuantityRequest{Quantity: 4}))
	rec := env.do(req, "buyer-1")

	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeCart(t, rec)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 4, c.Items[0].Quantity)
}

func TestRemoveItem_Removes(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.profiles["buyer-1"] = &profile.Profile{
		UserID:    "buyer-1",
		CartItems: []domain.CartItem{{ListingID: "l-1", Quantity: 1}},
	}

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/l-1", nil), "buyer-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, rec).Items)
}
