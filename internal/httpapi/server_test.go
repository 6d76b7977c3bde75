package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AleksaButterfly/kuratert-sub000/internal/checkout"
	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/internal/events"
	"github.com/AleksaButterfly/kuratert-sub000/internal/ledger"
	"github.com/AleksaButterfly/kuratert-sub000/internal/payment"
	"github.com/AleksaButterfly/kuratert-sub000/internal/profile"
)

type mockLedger struct {
	mu          sync.Mutex
	listings    map[string]domain.ListingSnapshot
	spec        domain.SpeculativeTransaction
	specErr     error
	commitTx    domain.Transaction
	commitErr   error
	confirmTx   domain.Transaction
	confirmErr  error
	transitions []string

	initiateCalls int
	// When set, Initiate signals initiateEnter and parks until
	// initiateRelease closes. Lets tests hold a commit in flight.
	initiateEnter   chan struct{}
	initiateRelease chan struct{}
}

func (m *mockLedger) record(transition string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, transition)
}

func (m *mockLedger) ShowListing(ctx context.Context, listingID string) (domain.ListingSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	listing, ok := m.listings[listingID]
	if !ok {
		return domain.ListingSnapshot{}, domain.ErrListingUnavailable
	}
	return listing, nil
}

func (m *mockLedger) Initiate(ctx context.Context, processAlias, transition string, params ledger.OrderParams, query ledger.Query) (domain.Transaction, error) {
	m.record(transition)
	m.mu.Lock()
	m.initiateCalls++
	enter, release := m.initiateEnter, m.initiateRelease
	m.mu.Unlock()
	if enter != nil {
		enter <- struct{}{}
		<-release
	}
	if m.commitErr != nil {
		return domain.Transaction{}, m.commitErr
	}
	return m.commitTx, nil
}

func (m *mockLedger) Transition(ctx context.Context, txID, transition string, params ledger.OrderParams, query ledger.Query) (domain.Transaction, error) {
	m.record(transition)
	if transition == domain.TransitionConfirmPayment {
		if m.confirmErr != nil {
			return domain.Transaction{}, m.confirmErr
		}
		return m.confirmTx, nil
	}
	if m.commitErr != nil {
		return domain.Transaction{}, m.commitErr
	}
	return m.commitTx, nil
}

func (m *mockLedger) InitiateSpeculative(ctx context.Context, processAlias, transition string, params ledger.OrderParams, query ledger.Query) (domain.SpeculativeTransaction, error) {
	if m.specErr != nil {
		return domain.SpeculativeTransaction{}, m.specErr
	}
	return m.spec, nil
}

func (m *mockLedger) TransitionSpeculative(ctx context.Context, txID, transition string, params ledger.OrderParams, query ledger.Query) (domain.SpeculativeTransaction, error) {
	return m.InitiateSpeculative(ctx, "", transition, params, query)
}

type mockGateway struct {
	ready         bool
	createIntent  payment.Intent
	createErr     error
	confirmIntent payment.Intent
	confirmErr    error
	redirect      payment.Intent
	redirectErr   error
	retrieved     payment.Intent
	retrieveErr   error
	caps          payment.Capabilities
}

func (g *mockGateway) CreatePaymentIntentClientFlow(ctx context.Context, params payment.CreateIntentParams) (payment.Intent, error) {
	return g.createIntent, g.createErr
}

func (g *mockGateway) ConfirmCardPayment(ctx context.Context, clientSecret string, details payment.ConfirmDetails) (payment.Intent, error) {
	return g.confirmIntent, g.confirmErr
}

func (g *mockGateway) HandleRedirectPayment(ctx context.Context, clientSecret, returnURL string) (payment.Intent, error) {
	return g.redirect, g.redirectErr
}

func (g *mockGateway) RetrievePaymentIntent(ctx context.Context, clientSecret string) (payment.Intent, error) {
	return g.retrieved, g.retrieveErr
}

func (g *mockGateway) CanMakePayment(ctx context.Context, config payment.PaymentRequestConfig) (payment.Capabilities, error) {
	return g.caps, nil
}

func (g *mockGateway) Ready() bool { return g.ready }

type mockProfiles struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	saved    []domain.Cart
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{profiles: make(map[string]*profile.Profile)}
}

func (p *mockProfiles) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prof, ok := p.profiles[userID]; ok {
		return prof, nil
	}
	return &profile.Profile{UserID: userID}, nil
}

func (p *mockProfiles) SaveCart(ctx context.Context, buyerID string, snapshot domain.Cart) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, snapshot)
	return nil
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*checkout.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*checkout.Session)}
}

func (s *memSessions) Save(ctx context.Context, session *checkout.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *memSessions) Load(ctx context.Context, id string) (*checkout.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return session, nil
}

func (s *memSessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

type mockRecorder struct {
	mu        sync.Mutex
	purchases []events.OrderCompletedPayload
	clears    []string
}

func (r *mockRecorder) RecordPurchase(ctx context.Context, p events.OrderCompletedPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases = append(r.purchases, p)
	return nil
}

func (r *mockRecorder) RecordCartCleared(ctx context.Context, buyerID string, clearedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, buyerID)
	return nil
}

type testEnv struct {
	server   *Server
	router   http.Handler
	ledger   *mockLedger
	gateway  *mockGateway
	profiles *mockProfiles
	sessions *memSessions
	recorder *mockRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := &mockLedger{listings: make(map[string]domain.ListingSnapshot)}
	g := &mockGateway{ready: true}
	p := newMockProfiles()
	sessions := newMemSessions()
	recorder := &mockRecorder{}

	s := NewServer(l, g, p, sessions, recorder, "default-purchase/release-1", slog.New(slog.DiscardHandler))
	t.Cleanup(s.Close)

	return &testEnv{
		server:   s,
		router:   s.Router(),
		ledger:   l,
		gateway:  g,
		profiles: p,
		sessions: sessions,
		recorder: recorder,
	}
}

func (e *testEnv) do(req *http.Request, buyerID string) *httptest.ResponseRecorder {
	if buyerID != "" {
		req.Header.Set("X-Buyer-ID", buyerID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func nokListing(id string, priceMinor int64, stock int) domain.ListingSnapshot {
	return domain.ListingSnapshot{
		ID:    id,
		Title: "Listing " + id,
		Price: domain.MustParseMoney(priceMinor, "NOK"),
		Stock: stock,
	}
}
