// Package items serves lost-and-found listings from the offline cache
// and refreshes it against the backend when asked.
package items

import (
	"context"
	"fmt"
	"time"

	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

// Lister is the slice of the backend client the repository needs.
type Lister interface {
	ListItems(ctx context.Context) ([]*store.Item, error)
	ListItemsByUser(ctx context.Context, userID int64) ([]*store.Item, error)
}

// Repository reads items from the local cache and reconciles it with the
// backend on demand. Reads never touch the network; a failed refresh
// leaves the previous cache contents intact.
type Repository struct {
	db     *store.DB
	remote Lister
	bus    *bus.Bus
	logger *zap.Logger
}

// NewRepository creates an item repository over the session cache.
func NewRepository(db *store.DB, remote Lister, b *bus.Bus, logger *zap.Logger) *Repository {
	return &Repository{db: db, remote: remote, bus: b, logger: logger}
}

// All returns every cached item, newest first.
func (r *Repository) All() ([]store.Item, error) {
	return r.db.ListItems()
}

// ByUser returns the cached items owned by one user, newest first.
func (r *Repository) ByUser(userID int64) ([]store.Item, error) {
	return r.db.ListItemsByUser(userID)
}

// Get returns one cached item, or nil if it is not cached.
func (r *Repository) Get(id int64) (*store.Item, error) {
	return r.db.GetItem(id)
}

// RefreshAll fetches the full remote collection and replaces the cache
// with it in one transaction.
func (r *Repository) RefreshAll(ctx context.Context) error {
	remote, err := r.remote.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}
	if err := r.db.ReplaceAllItems(deref(remote)); err != nil {
		return fmt.Errorf("replace item cache: %w", err)
	}
	r.logger.Info("item cache refreshed", zap.Int("count", len(remote)))
	r.bus.Publish(bus.Event{Kind: "items.refreshed", Timestamp: time.Now(), Payload: len(remote)})
	return nil
}

// RefreshByUser reconciles only the cache rows owned by one user.
func (r *Repository) RefreshByUser(ctx context.Context, userID int64) error {
	remote, err := r.remote.ListItemsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch items for user %d: %w", userID, err)
	}
	if err := r.db.ReplaceItemsByUser(userID, deref(remote)); err != nil {
		return fmt.Errorf("replace item cache for user %d: %w", userID, err)
	}
	r.logger.Info("user item cache refreshed",
		zap.Int64("user", userID), zap.Int("count", len(remote)))
	r.bus.Publish(bus.Event{Kind: "items.refreshed", Timestamp: time.Now(), Payload: len(remote)})
	return nil
}

func deref(items []*store.Item) []store.Item {
	out := make([]store.Item, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	return out
}
