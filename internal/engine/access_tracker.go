package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pathwise/engram/internal/storage"
)

// accessWriteTimeout bounds the background access-tracking write.
const accessWriteTimeout = 10 * time.Second

// AccessTracker records which memories were returned to callers. Tracking is
// fire-and-forget: it runs after the retrieval response is assembled and a
// failed write only loses one access boost, so failures are logged and
// swallowed.
type AccessTracker struct {
	store storage.MemoryStore
	wg    sync.WaitGroup
}

// NewAccessTracker creates an access tracker over the given store.
func NewAccessTracker(store storage.MemoryStore) *AccessTracker {
	return &AccessTracker{store: store}
}

// MarkAccessed asynchronously records an access for each id.
func (t *AccessTracker) MarkAccessed(ownerID string, ids []string) {
	if len(ids) == 0 {
		return
	}

	now := time.Now().UTC()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.markAccessed(ownerID, ids, now)
	}()
}

func (t *AccessTracker) markAccessed(ownerID string, ids []string, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), accessWriteTimeout)
	defer cancel()

	if err := t.store.TouchAccess(ctx, ownerID, ids, now); err != nil {
		log.Printf("engine: access tracking failed for owner %s (%d ids): %v", ownerID, len(ids), err)
	}
}

// Wait blocks until all in-flight access writes have finished. Called on
// shutdown so a fast exit does not drop pending boosts.
func (t *AccessTracker) Wait() {
	t.wg.Wait()
}
