package gateway

import "sync"

// seenCache tracks which (identity, conversation) pairs have unseen traffic
// in this process. It is a fast-path shortcut, not the authoritative counter;
// that lives in the presence store. Shared across connection goroutines.
type seenCache struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}
}

func newSeenCache() *seenCache {
	return &seenCache{pending: make(map[string]map[string]struct{})}
}

func (c *seenCache) Mark(identity, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[identity] == nil {
		c.pending[identity] = make(map[string]struct{})
	}
	c.pending[identity][conversationID] = struct{}{}
}

func (c *seenCache) Clear(identity, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if convs, ok := c.pending[identity]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(c.pending, identity)
		}
	}
}

func (c *seenCache) Has(identity, conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pending[identity][conversationID]
	return ok
}
