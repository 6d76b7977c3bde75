package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

type AddItemRequest struct {
	ListingID string             `json:"listing_id"`
	Quantity  int                `json:"quantity"`
	Option    *domain.ItemOption `json:"option,omitempty"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) GetCart(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	agg, err := s.cartFor(r.Context(), buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agg.Snapshot())
}

func (s *Server) AddItem(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ListingID == "" {
		respondError(w, http.StatusBadRequest, "invalid_listing_id", "listing_id is required")
		return
	}
	if req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}

	listing, err := s.ledger.ShowListing(r.Context(), req.ListingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !listing.Available() {
		respondDomainError(w, domain.ErrListingUnavailable)
		return
	}

	agg, err := s.cartFor(r.Context(), buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	snapshot := agg.Add(req.ListingID, req.Quantity, listing.Stock, req.Option)
	respondJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) SetQuantity(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	listingID := chi.URLParam(r, "listing_id")

	var req SetQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}

	listing, err := s.ledger.ShowListing(r.Context(), listingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	agg, err := s.cartFor(r.Context(), buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Quantity above min(stock, max) clamps rather than rejects.
	snapshot := agg.SetQuantity(listingID, req.Quantity, listing.Stock)
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) RemoveItem(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	agg, err := s.cartFor(r.Context(), buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	snapshot := agg.Remove(chi.URLParam(r, "listing_id"))
	respondJSON(w, http.StatusOK, snapshot)
}
