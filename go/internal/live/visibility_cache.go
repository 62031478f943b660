package live

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/outpost/go/internal/models"
)

// VisibilityCache remembers the last visibility state an entity reported to
// each observer so broadcast passes can flag changes.
type VisibilityCache struct {
	mu   sync.Mutex
	seen map[uuid.UUID]models.Visibility
}

// NewVisibilityCache returns an empty cache.
func NewVisibilityCache() *VisibilityCache {
	return &VisibilityCache{seen: make(map[uuid.UUID]models.Visibility)}
}

// Observe records v for observer and reports whether it differs from the
// previously recorded state. The first observation counts as a change.
func (c *VisibilityCache) Observe(observer uuid.UUID, v models.Visibility) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.seen[observer]
	c.seen[observer] = v
	return !ok || prev != v
}

// Forget drops the state recorded for observer.
func (c *VisibilityCache) Forget(observer uuid.UUID) {
	c.mu.Lock()
	delete(c.seen, observer)
	c.mu.Unlock()
}

// Len returns the number of observers tracked.
func (c *VisibilityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Tracked pairs a collaborator-owned entity with its visibility cache.
type Tracked[E Entity] struct {
	Entity E
	Seen   *VisibilityCache
}

func track[E Entity](e E) *Tracked[E] {
	return &Tracked[E]{Entity: e, Seen: NewVisibilityCache()}
}
