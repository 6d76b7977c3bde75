// Package httpapi exposes the storefront checkout over HTTP. Handlers stay
// thin: they decode input, drive the checkout packages and map the error
// taxonomy onto status codes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AleksaButterfly/kuratert-sub000/internal/cart"
	"github.com/AleksaButterfly/kuratert-sub000/internal/checkout"
	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
	"github.com/AleksaButterfly/kuratert-sub000/internal/events"
	"github.com/AleksaButterfly/kuratert-sub000/internal/ledger"
	"github.com/AleksaButterfly/kuratert-sub000/internal/payment"
	"github.com/AleksaButterfly/kuratert-sub000/internal/profile"
)

// ProfileService is the slice of the profile service the handlers use. It
// doubles as the cart persister.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*profile.Profile, error)
	SaveCart(ctx context.Context, buyerID string, snapshot domain.Cart) error
}

// PurchaseRecorder appends completed purchases and cart clears to the outbox.
type PurchaseRecorder interface {
	RecordPurchase(ctx context.Context, p events.OrderCompletedPayload) error
	RecordCartCleared(ctx context.Context, buyerID string, clearedAt time.Time) error
}

type Server struct {
	ledger       ledger.API
	gateway      payment.Gateway
	profiles     ProfileService
	sessions     checkout.SessionStore
	recorder     PurchaseRecorder
	processAlias string
	timeout      time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	carts map[string]*cart.Aggregate
	// sessionLocks serializes commit-affecting checkout calls per session.
	// The session store alone cannot guarantee this: the machine is rebuilt
	// per request, so two concurrent submits would otherwise both load a
	// submittable state and race duplicate commits onto the ledger.
	sessionLocks map[string]*sync.Mutex
}

func NewServer(api ledger.API, gateway payment.Gateway, profiles ProfileService, sessions checkout.SessionStore, recorder PurchaseRecorder, processAlias string, logger *slog.Logger) *Server {
	return &Server{
		ledger:       api,
		gateway:      gateway,
		profiles:     profiles,
		sessions:     sessions,
		recorder:     recorder,
		processAlias: processAlias,
		timeout:      30 * time.Second,
		logger:       logger,
		carts:        make(map[string]*cart.Aggregate),
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Timeout(s.timeout))
	r.Use(middleware.Compress(5))
	r.Use(BuyerAuth)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.GetCart)
			r.Post("/items", s.AddItem)
			r.Put("/items/{listing_id}", s.SetQuantity)
			r.Delete("/items/{listing_id}", s.RemoveItem)
		})
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", s.BeginCheckout)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Post("/speculate", s.Speculate)
				r.Post("/submit", s.Submit)
				r.Get("/return", s.HandleReturn)
				r.Post("/cancel", s.CancelAndRetry)
			})
		})
	})

	return r
}

// Close flushes and stops every live cart aggregate.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.carts {
		a.Close()
	}
}

// cartFor returns the buyer's live aggregate, seeding it from the profile
// record on first use.
func (s *Server) cartFor(ctx context.Context, buyerID string) (*cart.Aggregate, error) {
	s.mu.Lock()
	if a, ok := s.carts[buyerID]; ok {
		s.mu.Unlock()
		return a, nil
	}
	s.mu.Unlock()

	p, err := s.profiles.GetProfile(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another request may have seeded the aggregate meanwhile.
	if a, ok := s.carts[buyerID]; ok {
		return a, nil
	}
	a := cart.NewAggregate(buyerID, domain.Cart{Items: p.CartItems}, s.profiles, s.logger)
	s.carts[buyerID] = a
	return a, nil
}

// sessionLock returns the mutex serializing commit-affecting calls for one
// session, creating it on first use.
func (s *Server) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.sessionLocks[sessionID] = l
	}
	return l
}

// machineFor reattaches a checkout machine to a stored session. Each request
// gets a fresh protocol and orchestrator; all durable state is the session.
func (s *Server) machineFor(ctx context.Context, sessionID, buyerID string) (*checkout.Machine, error) {
	session, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.BuyerID != buyerID {
		return nil, checkout.ErrSessionNotFound
	}

	agg, err := s.cartFor(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	protocol := ledger.NewProtocol(s.ledger, s.processAlias, s.logger)
	orchestrator := payment.NewOrchestrator(s.gateway, protocol, s.logger)
	m := checkout.Resume(session, protocol, orchestrator, s.sessions, agg, s.logger)
	s.attachCompletion(m)
	return m, nil
}

// attachCompletion wires the purchase hooks: the completed order and the
// cross-device cart clear both go through the outbox.
func (s *Server) attachCompletion(m *checkout.Machine) {
	m.OnCompleted(func(ctx context.Context, c checkout.Completed) {
		err := s.recorder.RecordPurchase(ctx, events.OrderCompletedPayload{
			SessionID:     c.SessionID,
			BuyerID:       c.BuyerID,
			TransactionID: c.TransactionID,
			TotalMinor:    c.TotalMinor,
			Currency:      c.Currency,
			CompletedAt:   c.OccurredAt,
		})
		if err != nil {
			s.logger.Error("record purchase", "transaction_id", c.TransactionID, "error", err)
		}
		if err := s.recorder.RecordCartCleared(ctx, c.BuyerID, c.OccurredAt); err != nil {
			s.logger.Error("record cart cleared", "buyer_id", c.BuyerID, "error", err)
		}
	})
}

// listingsFor fetches a snapshot per distinct cart listing.
func (s *Server) listingsFor(ctx context.Context, items []domain.CartItem) (map[string]domain.ListingSnapshot, error) {
	listings := make(map[string]domain.ListingSnapshot, len(items))
	for _, item := range items {
		if _, ok := listings[item.ListingID]; ok {
			continue
		}
		listing, err := s.ledger.ShowListing(ctx, item.ListingID)
		if err != nil {
			return nil, err
		}
		listings[item.ListingID] = listing
	}
	return listings, nil
}
