// Package cart holds the buyer's cart aggregate. Mutations apply locally
// first and reconcile with the profile store afterwards; the profile write is
// always the full cart snapshot, never a delta.
package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleksaButterfly/kuratert-sub000/internal/domain"
)

// Persister writes the full cart snapshot onto the buyer profile record.
type Persister interface {
	SaveCart(ctx context.Context, buyerID string, snapshot domain.Cart) error
}

type persistJob struct {
	prev domain.Cart
	next domain.Cart
	done chan struct{}
}

// Aggregate serializes every mutation of one buyer's cart. Each mutating
// operation applies optimistically, captures the resulting snapshot under the
// lock, and queues a persistence write; writes run strictly in order so a
// second add can never overtake the first one's snapshot. A failed write
// rolls the local state back to the snapshot that preceded it.
type Aggregate struct {
	buyerID   string
	persister Persister
	logger    *slog.Logger
	timeout   time.Duration

	mu   sync.Mutex
	cart domain.Cart

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []persistJob
	closed bool
	wg     sync.WaitGroup
}

func NewAggregate(buyerID string, initial domain.Cart, persister Persister, logger *slog.Logger) *Aggregate {
	initial.BuyerID = buyerID
	a := &Aggregate{
		buyerID:   buyerID,
		persister: persister,
		logger:    logger,
		timeout:   5 * time.Second,
		cart:      initial,
	}
	a.qcond = sync.NewCond(&a.qmu)
	a.wg.Add(1)
	go a.persistLoop()
	return a
}

// Snapshot returns a copy of the current local cart.
func (a *Aggregate) Snapshot() domain.Cart {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneCart(a.cart)
}

// Add puts a listing in the cart or bumps its quantity. The quantity is
// clamped to min(stock, 100).
func (a *Aggregate) Add(listingID string, quantity, stock int, option *domain.ItemOption) domain.Cart {
	return a.mutate(func(c *domain.Cart) {
		if i, existing := c.Find(listingID); existing != nil {
			c.Items[i].Quantity = domain.ClampQuantity(existing.Quantity+quantity, stock)
			c.Items[i].SelectedOption = option
			return
		}
		c.Items = append(c.Items, domain.CartItem{
			ListingID:      listingID,
			Quantity:       domain.ClampQuantity(quantity, stock),
			SelectedOption: option,
			AddedAt:        time.Now(),
		})
	})
}

// SetQuantity clamps rather than rejects an out-of-range quantity.
func (a *Aggregate) SetQuantity(listingID string, quantity, stock int) domain.Cart {
	return a.mutate(func(c *domain.Cart) {
		if i, existing := c.Find(listingID); existing != nil {
			c.Items[i].Quantity = domain.ClampQuantity(quantity, stock)
		}
	})
}

func (a *Aggregate) Remove(listingID string) domain.Cart {
	return a.mutate(func(c *domain.Cart) {
		if i, existing := c.Find(listingID); existing != nil {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		}
	})
}

// Clear empties the cart locally without a persistence write. Cross-device
// cleanup after a purchase belongs to the asynchronous cleanup worker, which
// reacts to the cart.cleared event.
func (a *Aggregate) Clear() domain.Cart {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cart.Items = nil
	a.cart.UpdatedAt = time.Now()
	return cloneCart(a.cart)
}

// Flush blocks until every persistence write queued before it has settled.
func (a *Aggregate) Flush() {
	done := make(chan struct{})
	a.enqueue(persistJob{done: done})
	<-done
}

// Close stops the persistence worker after draining pending writes.
func (a *Aggregate) Close() {
	a.qmu.Lock()
	a.closed = true
	a.qcond.Signal()
	a.qmu.Unlock()
	a.wg.Wait()
}

func (a *Aggregate) mutate(apply func(*domain.Cart)) domain.Cart {
	a.mu.Lock()
	prev := cloneCart(a.cart)
	apply(&a.cart)
	a.cart.UpdatedAt = time.Now()
	next := cloneCart(a.cart)
	// Enqueue while still holding the lock: a concurrent mutation must not
	// get its write queued ahead of this one's snapshot.
	a.enqueue(persistJob{prev: prev, next: next})
	a.mu.Unlock()

	return next
}

func (a *Aggregate) enqueue(job persistJob) {
	a.qmu.Lock()
	if !a.closed {
		a.queue = append(a.queue, job)
		a.qcond.Signal()
	} else if job.done != nil {
		close(job.done)
	}
	a.qmu.Unlock()
}

func (a *Aggregate) persistLoop() {
	defer a.wg.Done()
	for {
		a.qmu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.qcond.Wait()
		}
		if len(a.queue) == 0 && a.closed {
			a.qmu.Unlock()
			return
		}
		job := a.queue[0]
		a.queue = a.queue[1:]
		a.qmu.Unlock()

		if job.done != nil {
			close(job.done)
			continue
		}
		a.persist(job)
	}
}

func (a *Aggregate) persist(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err := a.persister.SaveCart(ctx, a.buyerID, job.next)
	if err == nil {
		return
	}

	a.logger.Error("cart persistence failed, rolling back local mutation",
		"buyer_id", a.buyerID, "error", err)

	a.mu.Lock()
	// Roll back only if no later mutation has been applied meanwhile;
	// a later snapshot supersedes this one and carries its own write.
	if a.cart.UpdatedAt.Equal(job.next.UpdatedAt) {
		a.cart = cloneCart(job.prev)
	}
	a.mu.Unlock()
}

func cloneCart(c domain.Cart) domain.Cart {
	out := c
	out.Items = make([]domain.CartItem, len(c.Items))
	copy(out.Items, c.Items)
	for i, item := range out.Items {
		if item.SelectedOption != nil {
			opt := *item.SelectedOption
			out.Items[i].SelectedOption = &opt
		}
	}
	return out
}
