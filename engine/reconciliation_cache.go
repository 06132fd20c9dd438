package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// ReconciliationCache memoizes oracle results for the lifetime of the
// process. Identical (entity type, source set, target set) triples return
// the cached mapping without re-invoking the oracle; invalidation is only
// ever explicit. The cache is an owned, injected object so concurrent runs
// for different tenants, and tests, get their own.
type ReconciliationCache struct {
	mu      sync.RWMutex
	entries map[string]*entity.ReconciliationMapping
}

// NewReconciliationCache creates an empty cache.
func NewReconciliationCache() *ReconciliationCache {
	return &ReconciliationCache{
		entries: make(map[string]*entity.ReconciliationMapping),
	}
}

// Key derives the cache key for a reconciliation request: the entity type
// plus a stable hash over the sorted source ids and sorted target natural
// keys. Record payloads beyond the keys do not participate, matching the
// oracle's own sensitivity to set membership rather than field order.
func (c *ReconciliationCache) Key(entityType string, sourceKeys, targetKeys []string) string {
	src := append([]string(nil), sourceKeys...)
	tgt := append([]string(nil), targetKeys...)
	sort.Strings(src)
	sort.Strings(tgt)

	h := sha256.New()
	h.Write([]byte(strings.Join(src, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(tgt, "\x1f")))

	return entityType + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached mapping for a key, if present.
func (c *ReconciliationCache) Get(key string) (*entity.ReconciliationMapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mapping, ok := c.entries[key]
	return mapping, ok
}

// Put stores a mapping under a key.
func (c *ReconciliationCache) Put(key string, mapping *entity.ReconciliationMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = mapping
}

// ClearEntity removes every cached mapping for one entity type.
func (c *ReconciliationCache) ClearEntity(entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := entityType + ":"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear removes every cached mapping.
func (c *ReconciliationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entity.ReconciliationMapping)
}

// Len returns the number of cached mappings.
func (c *ReconciliationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
