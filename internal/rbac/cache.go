package rbac

import "sync"

// PermissionCache memoizes permission lookups for a single principal.
// Entries never survive a principal transition. Every transition bumps the
// generation, so answers fetched under an older one are dropped.
type PermissionCache struct {
	mu          sync.RWMutex
	principalID string
	generation  uint64
	entries     map[Permission]bool
}

// NewPermissionCache returns an empty cache not yet scoped to a principal.
func NewPermissionCache() *PermissionCache {
	return &PermissionCache{entries: make(map[Permission]bool)}
}

// Get returns the cached answer. ok is false on a miss.
func (c *PermissionCache) Get(perm Permission) (allowed bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	allowed, ok = c.entries[perm]
	return allowed, ok
}

// Set stores the answer for perm, overwriting any previous value.
func (c *PermissionCache) Set(perm Permission, allowed bool) {
	c.mu.Lock()
	c.entries[perm] = allowed
	c.mu.Unlock()
}

// setFor stores the answer only if no transition happened since generation
// was read. A lookup that started before a transition must not repopulate the
// new scope, even when the principal id stayed the same.
func (c *PermissionCache) setFor(generation uint64, perm Permission, allowed bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	c.entries[perm] = allowed
	return true
}

// InvalidateAll drops every cached entry.
func (c *PermissionCache) InvalidateAll() {
	c.mu.Lock()
	c.generation++
	c.entries = make(map[Permission]bool)
	c.mu.Unlock()
}

// Reset invalidates the cache and rescopes it to principalID in one step.
func (c *PermissionCache) Reset(principalID string) {
	c.mu.Lock()
	c.principalID = principalID
	c.generation++
	c.entries = make(map[Permission]bool)
	c.mu.Unlock()
}

// PrincipalID returns the principal the cache is scoped to.
func (c *PermissionCache) PrincipalID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principalID
}

// Generation returns the current scope generation.
func (c *PermissionCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Len returns the number of cached entries.
func (c *PermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
