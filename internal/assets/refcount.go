package assets

import (
	"sync"

	"github.com/maruel/orgsite/internal/records"
)

// RefCounter counts how many records reference each asset, across every
// collection sharing it. The placeholder is never counted.
type RefCounter struct {
	mu     sync.Mutex
	counts map[records.AssetRef]int
}

// NewRefCounter returns an empty RefCounter.
func NewRefCounter() *RefCounter {
	return &RefCounter{counts: map[records.AssetRef]int{}}
}

// Add increments the count of each ref.
func (c *RefCounter) Add(refs ...records.AssetRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range refs {
		if !r.IsPlaceholder() {
			c.counts[r]++
		}
	}
}

// Remove decrements the count of each ref.
func (c *RefCounter) Remove(refs ...records.AssetRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range refs {
		if r.IsPlaceholder() {
			continue
		}
		if n := c.counts[r]; n > 1 {
			c.counts[r] = n - 1
		} else {
			delete(c.counts, r)
		}
	}
}

// Count returns the number of references to ref.
func (c *RefCounter) Count(ref records.AssetRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ref]
}
