package stock

import (
	"sync"

	"github.com/Sat-14/Crypto-bot/internal/model"
)

// ReservationRegistry is the set of asset identifiers currently held
// against in-flight offers. It is the only structure mutated by
// concurrent unrelated users, so every mutation takes the lock.
type ReservationRegistry struct {
	mu       sync.Mutex
	reserved map[string]struct{}
}

func NewReservationRegistry() *ReservationRegistry {
	return &ReservationRegistry{reserved: make(map[string]struct{})}
}

// Reserve scans items in order, skips identifiers already held, and
// claims up to count of the rest. The returned slice is exactly what was
// claimed; a short result means the pool raced out from under the caller
// and must be treated as a hard error.
func (r *ReservationRegistry) Reserve(items []model.StockItem, count int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	reserved := make([]string, 0, count)
	for _, item := range items {
		if len(reserved) == count {
			break
		}
		if _, held := r.reserved[item.AssetID]; held {
			continue
		}
		r.reserved[item.AssetID] = struct{}{}
		reserved = append(reserved, item.AssetID)
	}
	return reserved
}

// Release drops each identifier; releasing a non-member is a no-op.
func (r *ReservationRegistry) Release(assetIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range assetIDs {
		delete(r.reserved, id)
	}
}

// Held reports whether the identifier is currently reserved.
func (r *ReservationRegistry) Held(assetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.reserved[assetID]
	return held
}

// Size returns the number of identifiers currently held.
func (r *ReservationRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reserved)
}
