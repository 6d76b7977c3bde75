package profile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

// Service fronts the profile store with a cache. It is also the cart
// persister: the cart aggregate writes its snapshots through SaveCart, which
// maps onto the generic profile update.
type Service struct {
	store  Store
	cache  Cache
	logger *slog.Logger
	sfg    singleflight.Group // prevents cache stampede
}

func NewService(store Store, cache Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// GetProfile loads a profile, serving repeated concurrent reads for the same
// user from one store round trip. A missing profile comes back empty rather
// than as an error; every buyer implicitly has one.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		p, err := s.cache.Get(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("profile cache get failed", "user_id", userID, "error", err)
		}

		p, err = s.store.GetProfile(ctx, userID)
		if errors.Is(err, ErrProfileNotFound) {
			return &Profile{UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}, nil
		}
		if err != nil {
			return nil, err
		}

		go func() {
			if err := s.cache.Set(context.Background(), userID, p); err != nil {
				s.logger.Warn("profile cache set failed", "user_id", userID, "error", err)
			}
		}()

		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

// SaveCart implements cart.Persister: the whole cart snapshot goes into the
// profile's opaque cart field.
func (s *Service) SaveCart(ctx context.Context, buyerID string, snapshot domain.Cart) error {
	items := snapshot.Items
	if err := s.store.UpdateProfile(ctx, buyerID, Fields{CartItems: &items}); err != nil {
		return err
	}
	s.invalidate(buyerID)
	return nil
}

// SaveFavorites writes the favorites array through the same generic update.
func (s *Service) SaveFavorites(ctx context.Context, userID string, favorites []string) error {
	if err := s.store.UpdateProfile(ctx, userID, Fields{Favorites: &favorites}); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("profile cache invalidate failed", "user_id", userID, "error", err)
	}
}
