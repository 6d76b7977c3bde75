// Package profile reads and writes buyer profile records. Upstream there is
// no cart- or favorites-specific endpoint: both live as opaque user-owned
// JSON fields updated through a generic profile update.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile is the buyer-owned record. Cart items and favorites are opaque to
// the store; only this service gives them meaning.
type Profile struct {
	UserID    string            `bson:"user_id" json:"user_id"`
	CartItems []domain.CartItem `bson:"cart_items" json:"cart_items"`
	Favorites []string          `bson:"favorites" json:"favorites"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at" json:"updated_at"`
}

// Fields is a generic profile update. Only non-nil fields are written, the
// rest of the record stays untouched.
type Fields struct {
	CartItems *[]domain.CartItem
	Favorites *[]string
}

// Store defines what this service needs from the profile store. Consumers
// define the interface, not the MongoDB implementation.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, fields Fields) error
}
