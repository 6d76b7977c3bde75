package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AleksaButterfly/kuratert-sub000/internal/checkout"
	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/internal/ledger"
	"github.com/AleksaButterfly/kuratert-sub000/internal/payment"
)

type BeginCheckoutRequest struct {
	DeliveryMethod domain.DeliveryMethod `json:"delivery_method"`
}

type SpeculateRequest struct {
	DeliveryMethod domain.DeliveryMethod `json:"delivery_method"`
	// Quantity overrides the primary item's quantity for this preview.
	Quantity int                `json:"quantity,omitempty"`
	Option   *domain.ItemOption `json:"option,omitempty"`
}

type SubmitRequest struct {
	Method domain.PaymentMethod `json:"method"`

	CredentialRef    string `json:"credential_ref,omitempty"`
	CardToken        string `json:"card_token,omitempty"`
	WidgetComplete   bool   `json:"widget_complete,omitempty"`
	SaveAfterUse     bool   `json:"save_after_use,omitempty"`
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
	ReturnURL        string `json:"return_url,omitempty"`
}

type CheckoutResponse struct {
	SessionID   string                         `json:"session_id"`
	State       checkout.State                 `json:"state"`
	ClockSkewed bool                           `json:"clock_skewed,omitempty"`
	Preview     *domain.SpeculativeTransaction `json:"preview,omitempty"`
	Transaction *domain.Transaction            `json:"transaction,omitempty"`
	RedirectURL string                         `json:"redirect_url,omitempty"`
}

func (s *Server) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	var req BeginCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !validDelivery(req.DeliveryMethod) {
		respondError(w, http.StatusBadRequest, "invalid_delivery_method", "delivery_method must be shipping, pickup or none")
		return
	}

	agg, err := s.cartFor(r.Context(), buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	items := agg.Snapshot().Items
	if len(items) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", "cannot check out an empty cart")
		return
	}

	listings, err := s.listingsFor(r.Context(), items)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	session := checkout.NewSession(buyerID, items, listings, time.Now())
	protocol := ledger.NewProtocol(s.ledger, s.processAlias, s.logger)
	orchestrator := payment.NewOrchestrator(s.gateway, protocol, s.logger)
	m := checkout.NewMachine(session, protocol, orchestrator, s.sessions, agg, s.logger)
	s.attachCompletion(m)

	if err := m.Start(r.Context(), req.DeliveryMethod); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, machineResponse(m))
}

func (s *Server) Speculate(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	var req SpeculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !validDelivery(req.DeliveryMethod) {
		respondError(w, http.StatusBadRequest, "invalid_delivery_method", "delivery_method must be shipping, pickup or none")
		return
	}

	m, err := s.machineFor(r.Context(), chi.URLParam(r, "session_id"), buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	draft := domain.DraftFromCart(m.Session().CartItems, req.DeliveryMethod)
	if req.Quantity > 0 {
		draft.Quantity = req.Quantity
	}
	if req.Option != nil {
		opt := *req.Option
		draft.SelectedOption = &opt
		draft.OptionPriceDeltaMinor = opt.PriceIncrementMinor
	}

	if err := m.UpdateSelection(r.Context(), draft); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, machineResponse(m))
}

func (s *Server) Submit(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	input, err := paymentInput(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payment_method", err.Error())
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	// The lock covers the session load as well. Without it, two concurrent
	// submits could both read a submittable state and race duplicate commits.
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.machineFor(r.Context(), sessionID, buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	result, err := m.Submit(r.Context(), input)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := machineResponse(m)
	resp.RedirectURL = result.RedirectURL
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleReturn(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.machineFor(r.Context(), sessionID, buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if _, err := m.HandleReturn(r.Context(), r.URL.Query()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, machineResponse(m))
}

func (s *Server) CancelAndRetry(w http.ResponseWriter, r *http.Request) {
	buyerID := buyerFromContext(r.Context())
	if buyerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing buyer identity")
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m, err := s.machineFor(r.Context(), sessionID, buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := m.CancelAndRetry(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, machineResponse(m))
}

func machineResponse(m *checkout.Machine) CheckoutResponse {
	resp := CheckoutResponse{
		SessionID:   m.Session().ID,
		State:       m.State(),
		ClockSkewed: m.Session().ClockSkewed,
		Preview:     m.Preview(),
	}
	if m.Session().Transaction.ID != "" {
		tx := m.Session().Transaction
		// Payment secrets never leave the server on the read path.
		tx.ProtectedData.PaymentIntentClientSecret = ""
		resp.Transaction = &tx
	}
	return resp
}

func paymentInput(req SubmitRequest) (domain.PaymentInput, error) {
	switch req.Method {
	case domain.MethodStoredCard:
		return domain.StoredCardInput{CredentialRef: req.CredentialRef}, nil
	case domain.MethodOneTimeCard:
		return domain.OneTimeCardInput{
			CardToken:      req.CardToken,
			WidgetComplete: req.WidgetComplete,
			SaveAfterUse:   req.SaveAfterUse,
		}, nil
	case domain.MethodWalletCard:
		return domain.WalletCardInput{PaymentMethodRef: req.PaymentMethodRef}, nil
	case domain.MethodRedirect:
		return domain.RedirectInput{ReturnURL: req.ReturnURL}, nil
	default:
		return nil, fmt.Errorf("unknown payment method %q", req.Method)
	}
}

func validDelivery(m domain.DeliveryMethod) bool {
	switch m {
	case domain.DeliveryShipping, domain.DeliveryPickup, domain.DeliveryNone:
		return true
	}
	return false
}
