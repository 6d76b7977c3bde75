package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

var ErrSessionNotFound = errors.New("checkout session not found")

// sessionTTL keeps an abandoned checkout recoverable for a day. A redirect
// return always lands within this window or the payment window has long
// expired anyway.
const sessionTTL = 24 * time.Hour

// Session is the persisted continuation of one checkout. It is the only
// state that survives a full page navigation, so everything the redirect
// return path needs must be here.
type Session struct {
	ID      string `json:"id"`
	BuyerID string `json:"buyer_id"`

	Listing  domain.ListingSnapshot            `json:"listing"`
	Listings map[string]domain.ListingSnapshot `json:"listings,omitempty"`

	Transaction domain.Transaction    `json:"transaction"`
	OrderData   domain.OrderDraft     `json:"order_data"`
	CartItems   []domain.CartItem     `json:"cart_items,omitempty"`
	Attempt     domain.PaymentAttempt `json:"attempt"`

	State State `json:"state"`
	// ClockSkewed marks the local clock as unreliable for this session;
	// payment expiry is then derived from server timestamps only.
	ClockSkewed bool      `json:"clock_skewed,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewSession(buyerID string, items []domain.CartItem, listings map[string]domain.ListingSnapshot, now time.Time) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		BuyerID:   buyerID,
		Listings:  listings,
		CartItems: items,
		State:     StateLoading,
		CreatedAt: now.UTC(),
	}
	if len(items) > 0 {
		s.Listing = listings[items[0].ListingID]
	}
	return s
}

// SessionStore persists sessions across page loads and redirect navigations.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: sessionTTL}
}

func (r *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(session.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("checkout:session:%s", id)
}
