package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/AleksaButterfly/kuratert-sub000/internal/checkout"
	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondDomainError maps the checkout error taxonomy onto HTTP statuses.
// Whether the error is retryable from the same screen is part of the
// contract, so the code names the taxonomy entry rather than the transport
// failure.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrListingUnavailable):
		respondError(w, http.StatusGone, "listing_unavailable", "this listing is no longer available")
	case errors.Is(err, domain.ErrValidationRejected):
		respondError(w, http.StatusUnprocessableEntity, "validation_rejected", err.Error())
	case errors.Is(err, domain.ErrPaymentAuthorizationFailed):
		respondError(w, http.StatusPaymentRequired, "payment_failed", "payment was declined")
	case errors.Is(err, domain.ErrPaymentWindowExpired):
		respondError(w, http.StatusConflict, "payment_window_expired", "the payment window has expired, start checkout again")
	case errors.Is(err, domain.ErrSubmitInFlight):
		respondError(w, http.StatusConflict, "submit_in_flight", "a payment submit is already in progress")
	case errors.Is(err, domain.ErrCardInputIncomplete):
		respondError(w, http.StatusBadRequest, "card_input_incomplete", "complete the card details before submitting")
	case errors.Is(err, domain.ErrRedirectReturnMismatch):
		respondError(w, http.StatusConflict, "redirect_return_mismatch", "this return does not match an active checkout, check your order history")
	case errors.Is(err, checkout.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "checkout session not found or expired")
	case errors.Is(err, domain.ErrNetworkOrServer):
		respondError(w, http.StatusBadGateway, "upstream_unavailable", "a marketplace service is unavailable, try again")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
