package crm

import "sync"

// Collection is the in-memory, newest-first list of one entity type owned by
// a hook. It holds at most one entity per key.
type Collection[T Entity[T]] struct {
	mu    sync.Mutex
	items []T
}

// NewCollection constructs a collection seeded with items in order.
func NewCollection[T Entity[T]](items ...T) *Collection[T] {
	c := &Collection[T]{}
	c.Reset(items)
	return c
}

// Checkpoint captures the value and position of one key so that Revert can
// restore it exactly.
type Checkpoint[T any] struct {
	id      string
	item    T
	index   int
	present bool
}

// Present reports whether the key existed when the checkpoint was taken.
func (cp Checkpoint[T]) Present() bool {
	return cp.present
}

// Item returns the captured value.
func (cp Checkpoint[T]) Item() T {
	return cp.item
}

// Items returns a copy of the entities, newest first.
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of entities.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Get returns the entity stored under id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Upsert stores item at the front, replacing any entity with the same key.
func (c *Collection[T]) Upsert(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(item.Key())
	c.insertLocked(0, item)
}

// Reconcile swaps the entity stored under tempID for the authoritative one.
// The authoritative entity keeps the position of the entity it replaces and
// any other copy of its key is dropped. When tempID is gone, for example
// after a concurrent delete, item is placed at the front.
func (c *Collection[T]) Reconcile(tempID string, item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.removeLocked(tempID)
	if item.Key() != tempID {
		if i := c.removeLocked(item.Key()); i >= 0 && i < pos {
			pos--
		}
	}
	if pos < 0 {
		pos = 0
	}
	c.insertLocked(pos, item)
}

// Remove drops the entity stored under id.
func (c *Collection[T]) Remove(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	i := c.indexOf(id)
	if i < 0 {
		return zero, false
	}
	item := c.items[i]
	c.items = append(c.items[:i], c.items[i+1:]...)
	return item, true
}

// Checkpoint captures the current state of id.
func (c *Collection[T]) Checkpoint(id string) Checkpoint[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := Checkpoint[T]{id: id, index: c.indexOf(id)}
	if cp.index >= 0 {
		cp.item = c.items[cp.index]
		cp.present = true
	}
	return cp
}

// Revert restores id to the state captured by cp: the prior value at its
// prior position, or absent.
func (c *Collection[T]) Revert(cp Checkpoint[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(cp.id)
	if !cp.present {
		return
	}
	c.insertLocked(cp.index, cp.item)
}

// Reset replaces the contents. Later duplicates of a key are dropped.
func (c *Collection[T]) Reset(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{}, len(items))
	c.items = make([]T, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		seen[item.Key()] = struct{}{}
		c.items = append(c.items, item)
	}
}

func (c *Collection[T]) indexOf(id string) int {
	for i, item := range c.items {
		if item.Key() == id {
			return i
		}
	}
	return -1
}

func (c *Collection[T]) removeLocked(id string) int {
	i := c.indexOf(id)
	if i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	return i
}

func (c *Collection[T]) insertLocked(pos int, item T) {
	if pos > len(c.items) {
		pos = len(c.items)
	}
	var zero T
	c.items = append(c.items, zero)
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = item
}
